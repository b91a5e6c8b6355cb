package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/http/response"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/security"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

// RateLimitPolicy is a fixed window: at most Limit requests per key in each
// Window-aligned slot.
type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

func (p RateLimitPolicy) normalized() RateLimitPolicy {
	if p.Limit <= 0 {
		p.Limit = 1
	}
	if p.Window < time.Millisecond {
		p.Window = time.Minute
	}
	return p
}

// slot returns the window index for now and when that window closes.
func (p RateLimitPolicy) slot(now time.Time) (int64, time.Time) {
	ms := p.Window.Milliseconds()
	n := now.UnixMilli() / ms
	return n, time.UnixMilli((n + 1) * ms)
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

// decide turns a post-increment window count into a Decision.
func decide(policy RateLimitPolicy, count int, now, resetAt time.Time) Decision {
	if count > policy.Limit {
		retry := resetAt.Sub(now)
		if retry <= 0 {
			retry = time.Second
		}
		return Decision{RetryAfter: retry, ResetAt: resetAt}
	}
	return Decision{Allowed: true, Remaining: policy.Limit - count, ResetAt: resetAt}
}

// Limiter counts one request against key. Implementations share window
// boundaries so local and Redis backends answer identically.
type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

// FailureMode decides what a limiter backend error means for the request.
type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// LocalFixedWindowLimiter is the single-instance backend.
type LocalFixedWindowLimiter struct {
	mu      sync.Mutex
	counts  map[string]localWindow
	sweepAt time.Time
	now     func() time.Time
}

type localWindow struct {
	slot  int64
	count int
}

func NewLocalFixedWindowLimiter() *LocalFixedWindowLimiter {
	return &LocalFixedWindowLimiter{counts: map[string]localWindow{}, now: time.Now}
}

func (l *LocalFixedWindowLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = policy.normalized()
	now := l.now()
	slot, resetAt := policy.slot(now)

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.After(l.sweepAt) {
		for k, w := range l.counts {
			if w.slot < slot {
				delete(l.counts, k)
			}
		}
		l.sweepAt = resetAt
	}
	w := l.counts[key]
	if w.slot != slot {
		w = localWindow{slot: slot}
	}
	w.count++
	l.counts[key] = w
	return decide(policy, w.count, now, resetAt), nil
}

// RateLimiter is the HTTP side: it derives the key, consults the backend and
// writes X-RateLimit-* and Retry-After headers.
type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
}

// NewRateLimiter is the in-process, fail-closed limiter keyed by client IP.
func NewRateLimiter(scope string, limit int, window time.Duration) *RateLimiter {
	return NewSharedRateLimiter(NewLocalFixedWindowLimiter(), RateLimitPolicy{Limit: limit, Window: window}, FailClosed, scope, nil)
}

// NewSharedRateLimiter builds a limiter over any backend. A nil keyFunc keys
// by client IP.
func NewSharedRateLimiter(limiter Limiter, policy RateLimitPolicy, mode FailureMode, scope string, keyFunc func(r *http.Request) string) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	if keyFunc == nil {
		keyFunc = clientIPKey
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  policy.normalized(),
		mode:    mode,
		scope:   scope,
		keyFunc: keyFunc,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			decision, err := rl.limiter.Allow(r.Context(), rl.scope+":"+key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error")
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter unavailable; request allowed",
						"scope", rl.scope, "error", err)
					next.ServeHTTP(w, r)
					return
				}
				_, resetAt := rl.policy.slot(time.Now())
				rl.reject(w, r, Decision{RetryAfter: rl.policy.Window, ResetAt: resetAt})
				return
			}
			rl.writeHeaders(w.Header(), decision)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				rl.reject(w, r, decision)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, d Decision) {
	rl.writeHeaders(w.Header(), d)
	w.Header().Set("Retry-After", retryAfterHeader(d.RetryAfter))
	observability.Audit(r, "rate_limited", "scope", rl.scope)
	response.Error(w, r, http.StatusTooManyRequests, "Too many requests")
}

func (rl *RateLimiter) writeHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(rl.policy.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// AccessTokenValidator is the subset of TokenService the key func needs.
type AccessTokenValidator interface {
	ValidateAccessToken(ctx context.Context, raw string) (*security.Claims, error)
}

// SubjectOrIPKeyFunc keys authenticated bearer traffic by user id so users
// behind one NAT do not share a bucket.
func SubjectOrIPKeyFunc(tokens AccessTokenValidator) func(r *http.Request) string {
	return func(r *http.Request) string {
		if tokens == nil {
			return clientIPKey(r)
		}
		raw := service.BearerToken(r)
		if raw == "" {
			return clientIPKey(r)
		}
		claims, err := tokens.ValidateAccessToken(r.Context(), raw)
		if err != nil || claims.Subject == "" {
			return clientIPKey(r)
		}
		return "sub:" + claims.Subject
	}
}

func clientIPKey(r *http.Request) string {
	if ip := ClientIP(r); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + r.RemoteAddr
}

// retryAfterHeader rounds to whole seconds, never below one.
func retryAfterHeader(d time.Duration) string {
	return strconv.Itoa(max(int(d.Round(time.Second)/time.Second), 1))
}
