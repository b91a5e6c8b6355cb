package integration

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/session-security-engine/internal/http/middleware"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

func TestRedisRateLimiterConcurrentBurstHonorsLimit(t *testing.T) {
	redisClient, cleanup := startRedisContainer(t)
	defer cleanup()

	limiter := middleware.NewRedisFixedWindowLimiter(redisClient, "itest:rl")
	policy := middleware.RateLimitPolicy{Limit: 20, Window: 10 * time.Minute}

	const attempts = 100
	var allowed atomic.Int64
	errCh := make(chan error, attempts)
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Allow(context.Background(), "same-actor", policy)
			if err != nil {
				errCh <- err
				return
			}
			if decision.Allowed {
				allowed.Add(1)
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("limiter allow failed: %v", err)
	}

	if got := allowed.Load(); got != int64(policy.Limit) {
		t.Fatalf("expected exactly %d allowed requests, got %d", policy.Limit, got)
	}

	decision, err := limiter.Allow(context.Background(), "same-actor", policy)
	if err != nil {
		t.Fatalf("final allow call failed: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected next request after burst to be limited")
	}
}

func TestRedisAbuseGuardConcurrentFailuresAreCounted(t *testing.T) {
	redisClient, cleanup := startRedisContainer(t)
	defer cleanup()

	guard := service.NewRedisAuthAbuseGuard(redisClient, "itest:abuse", service.AuthAbusePolicy{
		FreeAttempts: 5,
		BaseDelay:    time.Second,
		Multiplier:   2,
		MaxDelay:     time.Minute,
		ResetWindow:  10 * time.Minute,
	})
	ctx := context.Background()

	const attempts = 40
	var wg sync.WaitGroup
	errCh := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ip := "10.0.0." + strconv.Itoa(i%4)
			if _, err := guard.RegisterFailure(ctx, service.AuthAbuseScopeLogin, "mallory", ip); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("register failure: %v", err)
	}

	raw, err := redisClient.HGet(ctx, "itest:abuse:login:id:mallory", "failures").Int()
	if err != nil {
		t.Fatalf("read identity counter: %v", err)
	}
	if raw != attempts {
		t.Fatalf("expected %d failures recorded, got %d", attempts, raw)
	}
	retry, err := guard.Check(ctx, service.AuthAbuseScopeLogin, "mallory", "192.0.2.1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if retry <= 30*time.Second || retry > time.Minute {
		t.Fatalf("expected capped cooldown near one minute, got %s", retry)
	}

	if err := guard.Reset(ctx, service.AuthAbuseScopeLogin, "mallory", "10.0.0.1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if retry, err := guard.Check(ctx, service.AuthAbuseScopeLogin, "mallory", "192.0.2.1"); err != nil || retry != 0 {
		t.Fatalf("identity cooldown should clear after reset, retry=%s err=%v", retry, err)
	}
}

func TestRedisSessionStoreConcurrentCreateAndRevokeAll(t *testing.T) {
	redisClient, cleanup := startRedisContainer(t)
	defer cleanup()

	store := service.NewRedisSessionStore(redisClient, "itest:session")
	ctx := context.Background()
	const sessions = 25
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			now := time.Now().UTC()
			err := store.Create(ctx, service.ServerSession{
				ID:        fmt.Sprintf("sess-%d", i),
				UserID:    42,
				FamilyID:  "fam",
				CreatedAt: now,
				ExpiresAt: now.Add(time.Hour),
			})
			if err != nil {
				t.Errorf("create session %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if _, err := store.Get(ctx, "sess-3"); err != nil {
		t.Fatalf("expected session to exist: %v", err)
	}
	if err := store.DeleteAllForUser(ctx, 42); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	for i := 0; i < sessions; i++ {
		if _, err := store.Get(ctx, fmt.Sprintf("sess-%d", i)); err == nil {
			t.Fatalf("session %d survived revoke-all", i)
		}
	}
}

func startRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container integration test in short mode")
	}
	if !dockerAvailable() {
		t.Skip("docker is not available; skipping redis container integration test")
	}

	hostPort := reserveLocalPort(t)
	containerName := "sse-redis-it-" + strconv.FormatInt(time.Now().UnixNano(), 10) + "-" + strconv.Itoa(rand.Intn(1000))

	runCmd := exec.Command("docker", "run", "-d", "--rm",
		"--name", containerName,
		"-p", fmt.Sprintf("127.0.0.1:%d:6379", hostPort),
		"redis:7-alpine",
		"redis-server", "--save", "", "--appendonly", "no",
	)
	out, err := runCmd.CombinedOutput()
	if err != nil {
		t.Skipf("unable to start redis container: %v output=%s", err, strings.TrimSpace(string(out)))
	}

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("127.0.0.1:%d", hostPort)})
	ctx := context.Background()
	deadline := time.Now().Add(20 * time.Second)
	for {
		if time.Now().After(deadline) {
			_ = client.Close()
			_ = exec.Command("docker", "rm", "-f", containerName).Run()
			t.Fatalf("timed out waiting for redis container %s to become ready", containerName)
		}
		if err := client.Ping(ctx).Err(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	cleanup := func() {
		_ = client.Close()
		_ = exec.Command("docker", "rm", "-f", containerName).Run()
	}
	return client, cleanup
}

func dockerAvailable() bool {
	cmd := exec.Command("docker", "version", "--format", "{{.Server.Version}}")
	return cmd.Run() == nil
}

func reserveLocalPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve local port: %v", err)
	}
	defer func() { _ = l.Close() }()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected addr type %T", l.Addr())
	}
	return addr.Port
}
