package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeLogin AuthAbuseScope = "login"
	AuthAbuseScopeOTP   AuthAbuseScope = "otp"
)

// AuthAbusePolicy is an exponential cooldown: FreeAttempts failures are
// allowed, then each further failure waits BaseDelay*Multiplier^n, capped at
// MaxDelay. State resets after ResetWindow without failures.
type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func normalizeAuthAbusePolicy(p AuthAbusePolicy) AuthAbusePolicy {
	if p.FreeAttempts <= 0 {
		p.FreeAttempts = 5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Minute
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = 15 * time.Minute
	}
	return p
}

// AuthAbuseGuard throttles repeated authentication failures per identity
// and per client IP. Both dimensions are tracked; the longer cooldown wins.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

func normalizeAuthIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func cooldownFor(p AuthAbusePolicy, failures int) time.Duration {
	if failures <= p.FreeAttempts {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(failures-p.FreeAttempts-1))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

var registerFailureScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local free = tonumber(ARGV[2])
local base = tonumber(ARGV[3])
local mult = tonumber(ARGV[4])
local maxd = tonumber(ARGV[5])
local reset = tonumber(ARGV[6])
local last = tonumber(redis.call('HGET', key, 'last_failure_ms') or '0')
local failures = tonumber(redis.call('HGET', key, 'failures') or '0')
if last == nil or failures == nil then
  return redis.error_reply('malformed abuse state')
end
if now - last > reset then
  failures = 0
end
failures = failures + 1
local delay = 0
if failures > free then
  delay = base * (mult ^ (failures - free - 1))
  if delay > maxd then
    delay = maxd
  end
end
redis.call('HSET', key, 'failures', failures, 'last_failure_ms', now, 'cooldown_until_ms', now + delay)
redis.call('PEXPIRE', key, reset + maxd)
return math.floor(delay)
`)

type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
	now    func() time.Time
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "sse:auth_abuse"
	}
	return &RedisAuthAbuseGuard{client: client, prefix: prefix, policy: normalizeAuthAbusePolicy(policy), now: time.Now}
}

func (g *RedisAuthAbuseGuard) stateKey(scope AuthAbuseScope, kind, value string) string {
	return fmt.Sprintf("%s:%s:%s:%s", g.prefix, scope, kind, value)
}

func (g *RedisAuthAbuseGuard) keys(scope AuthAbuseScope, identity, ip string) []string {
	var keys []string
	if id := normalizeAuthIdentity(identity); id != "" {
		keys = append(keys, g.stateKey(scope, "id", id))
	}
	if ip = strings.TrimSpace(ip); ip != "" {
		keys = append(keys, g.stateKey(scope, "ip", ip))
	}
	return keys
}

func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	nowMS := g.now().UnixMilli()
	var longest time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		raw, err := g.client.HGet(ctx, key, "cooldown_until_ms").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, err
		}
		until, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse cooldown for %s: %w", key, err)
		}
		if remaining := time.Duration(until-nowMS) * time.Millisecond; remaining > longest {
			longest = remaining
		}
	}
	return longest, nil
}

func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	nowMS := g.now().UnixMilli()
	var longest time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		ms, err := registerFailureScript.Run(ctx, g.client, []string{key},
			nowMS,
			g.policy.FreeAttempts,
			g.policy.BaseDelay.Milliseconds(),
			g.policy.Multiplier,
			g.policy.MaxDelay.Milliseconds(),
			g.policy.ResetWindow.Milliseconds(),
		).Int64()
		if err != nil {
			return 0, fmt.Errorf("register failure: %w", err)
		}
		if d := time.Duration(ms) * time.Millisecond; d > longest {
			longest = d
		}
	}
	return longest, nil
}

func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	keys := g.keys(scope, identity, ip)
	if len(keys) == 0 {
		return nil
	}
	return g.client.Del(ctx, keys...).Err()
}

// DefaultLocalAbuseEntries caps LocalAuthAbuseGuard state.
const DefaultLocalAbuseEntries = 100_000

// LocalAuthAbuseGuard keeps the same state in process memory. Stale entries
// are dropped by Sweep; at MaxEntries the oldest entry is evicted.
type LocalAuthAbuseGuard struct {
	MaxEntries int

	mu     sync.Mutex
	policy AuthAbusePolicy
	state  map[string]*localAbuseState
	now    func() time.Time
}

type localAbuseState struct {
	failures      int
	lastFailure   time.Time
	cooldownUntil time.Time
}

func NewLocalAuthAbuseGuard(policy AuthAbusePolicy) *LocalAuthAbuseGuard {
	return &LocalAuthAbuseGuard{
		MaxEntries: DefaultLocalAbuseEntries,
		policy:     normalizeAuthAbusePolicy(policy),
		state:      map[string]*localAbuseState{},
		now:        time.Now,
	}
}

func localKeys(scope AuthAbuseScope, identity, ip string) []string {
	var keys []string
	if id := normalizeAuthIdentity(identity); id != "" {
		keys = append(keys, string(scope)+":id:"+id)
	}
	if ip = strings.TrimSpace(ip); ip != "" {
		keys = append(keys, string(scope)+":ip:"+ip)
	}
	return keys
}

func (g *LocalAuthAbuseGuard) Check(_ context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	var longest time.Duration
	for _, key := range localKeys(scope, identity, ip) {
		st, ok := g.state[key]
		if !ok {
			continue
		}
		if g.stale(st, now) {
			delete(g.state, key)
			continue
		}
		if remaining := st.cooldownUntil.Sub(now); remaining > longest {
			longest = remaining
		}
	}
	return longest, nil
}

func (g *LocalAuthAbuseGuard) RegisterFailure(_ context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	var longest time.Duration
	for _, key := range localKeys(scope, identity, ip) {
		st, ok := g.state[key]
		if !ok {
			g.makeRoomLocked(now)
		}
		if !ok || now.Sub(st.lastFailure) > g.policy.ResetWindow {
			st = &localAbuseState{}
			g.state[key] = st
		}
		st.failures++
		st.lastFailure = now
		d := cooldownFor(g.policy, st.failures)
		st.cooldownUntil = now.Add(d)
		if d > longest {
			longest = d
		}
	}
	return longest, nil
}

func (g *LocalAuthAbuseGuard) Reset(_ context.Context, scope AuthAbuseScope, identity, ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, key := range localKeys(scope, identity, ip) {
		delete(g.state, key)
	}
	return nil
}

// Sweep drops entries whose failures are older than the reset window and
// whose cooldown has run out. It returns the number removed.
func (g *LocalAuthAbuseGuard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweepLocked(g.now())
}

func (g *LocalAuthAbuseGuard) stale(st *localAbuseState, now time.Time) bool {
	return now.Sub(st.lastFailure) > g.policy.ResetWindow+g.policy.MaxDelay
}

func (g *LocalAuthAbuseGuard) sweepLocked(now time.Time) int {
	removed := 0
	for key, st := range g.state {
		if g.stale(st, now) {
			delete(g.state, key)
			removed++
		}
	}
	return removed
}

func (g *LocalAuthAbuseGuard) makeRoomLocked(now time.Time) {
	if g.MaxEntries <= 0 || len(g.state) < g.MaxEntries {
		return
	}
	if g.sweepLocked(now) > 0 && len(g.state) < g.MaxEntries {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, st := range g.state {
		if oldestKey == "" || st.lastFailure.Before(oldest) {
			oldestKey, oldest = key, st.lastFailure
		}
	}
	delete(g.state, oldestKey)
}
