package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "authd.db"))
	t.Setenv("JWT_ACCESS_SECRET", strings.Repeat("a", 32))
	t.Setenv("TOKEN_HASH_SECRET", strings.Repeat("b", 32))
	t.Setenv("SESSION_SECRET", strings.Repeat("c", 32))
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("SMTP_HOST", "")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--ci", "--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMaintenanceCommandsAgainstSQLite(t *testing.T) {
	setTestEnv(t)

	if out, err := execute(t, "migrate"); err != nil || !strings.Contains(out, "schema up to date") {
		t.Fatalf("migrate: %v %s", err, out)
	}
	out, err := execute(t, "users", "create", "--username", "alice", "--password", "correct-horse", "--email", "alice@example.com", "--role", "admin")
	if err != nil || !strings.Contains(out, "created user id=1 username=alice role=admin") {
		t.Fatalf("users create: %v %s", err, out)
	}
	if _, err := execute(t, "users", "create", "--username", "ALICE", "--password", "x"); err == nil {
		t.Fatal("expected duplicate username to fail")
	}
	if out, err := execute(t, "users", "reset-password", "1", "--password", "new-secret"); err != nil || !strings.Contains(out, "password reset for user 1") {
		t.Fatalf("reset-password: %v %s", err, out)
	}
	if out, err := execute(t, "users", "revoke-sessions", "1"); err != nil || !strings.Contains(out, "revoked 0 refresh tokens") {
		t.Fatalf("revoke-sessions: %v %s", err, out)
	}
	if out, err := execute(t, "cleanup"); err != nil || !strings.Contains(out, "otp challenges deleted=0") {
		t.Fatalf("cleanup: %v %s", err, out)
	}
	if out, err := execute(t, "audit", "recent", "--limit", "5"); err != nil || !strings.Contains(out, "REASON") {
		t.Fatalf("audit recent: %v %s", err, out)
	}
}

func TestUserIDArgumentValidation(t *testing.T) {
	setTestEnv(t)
	if _, err := execute(t, "users", "revoke-sessions", "abc"); err == nil || !strings.Contains(err.Error(), "invalid user id") {
		t.Fatalf("expected invalid id error, got %v", err)
	}
	if _, err := execute(t, "audit", "recent", "--limit", "0"); err == nil {
		t.Fatal("expected limit validation error")
	}
}

func TestConfigErrorsSurface(t *testing.T) {
	setTestEnv(t)
	t.Setenv("JWT_ACCESS_SECRET", "short")
	if _, err := execute(t, "migrate"); err == nil || !strings.Contains(err.Error(), "JWT_ACCESS_SECRET") {
		t.Fatalf("expected config validation error, got %v", err)
	}
}

func TestRenderEvents(t *testing.T) {
	uid := uint(7)
	fr := "FR"
	events := []domain.LoginEvent{
		{ID: 2, UserID: &uid, IP: "198.51.100.7", Country: &fr, Success: false, Reason: domain.ReasonOTPRequired, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{ID: 1, IP: "203.0.113.10", Success: false, Reason: domain.ReasonInvalidCredentials},
	}
	plain := renderEvents(events, false)
	lines := strings.Split(plain, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %q", plain)
	}
	if lines[1] != "2\t2026-01-02T03:04:05Z\t7\t198.51.100.7\tFR\tfail\totp_required" {
		t.Fatalf("unexpected row %q", lines[1])
	}
	if !strings.Contains(lines[2], "\t-\t203.0.113.10\t-\t") {
		t.Fatalf("anonymous row should use dashes: %q", lines[2])
	}
	styled := renderEvents(events, true)
	if !strings.Contains(styled, "invalid_credentials") || !strings.Contains(styled, "COUNTRY") {
		t.Fatalf("styled table missing content: %q", styled)
	}
}
