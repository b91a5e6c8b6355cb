package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("server session not found")

// ServerSession is the state behind the session_id cookie.
type ServerSession struct {
	ID             string    `json:"id"`
	UserID         uint      `json:"user_id"`
	RefreshTokenID uint      `json:"refresh_token_id"`
	FamilyID       string    `json:"family_id"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type SessionStore interface {
	Create(ctx context.Context, sess ServerSession) error
	Get(ctx context.Context, id string) (*ServerSession, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID uint) error
}

type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "sse:session"
	}
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (s *RedisSessionStore) sessionKey(id string) string { return s.prefix + ":" + id }

func (s *RedisSessionStore) userKey(userID uint) string {
	return s.prefix + ":user:" + strconv.FormatUint(uint64(userID), 10)
}

func (s *RedisSessionStore) Create(ctx context.Context, sess ServerSession) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	userKey := s.userKey(sess.UserID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.sessionKey(sess.ID), payload, ttl)
		p.SAdd(ctx, userKey, sess.ID)
		p.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*ServerSession, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	var sess ServerSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	var sess ServerSession
	_ = json.Unmarshal(raw, &sess)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.sessionKey(id))
		if sess.UserID != 0 {
			p.SRem(ctx, s.userKey(sess.UserID), id)
		}
		return nil
	})
	return err
}

func (s *RedisSessionStore) DeleteAllForUser(ctx context.Context, userID uint) error {
	userKey := s.userKey(userID)
	ids, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
	}
	keys = append(keys, userKey)
	return s.client.Del(ctx, keys...).Err()
}

// Sweeper is implemented by process-local stores that need periodic
// eviction of expired entries.
type Sweeper interface {
	Sweep() int
}

// MemorySessionStore backs single-instance deployments without Redis.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]ServerSession
	now      func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: map[string]ServerSession{}, now: time.Now}
}

func (s *MemorySessionStore) Create(_ context.Context, sess ServerSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*ServerSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !sess.ExpiresAt.After(s.now()) {
		delete(s.sessions, id)
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemorySessionStore) DeleteAllForUser(_ context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}

// Sweep removes expired sessions and returns how many were dropped.
func (s *MemorySessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
