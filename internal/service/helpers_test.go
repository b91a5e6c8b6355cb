package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/session-security-engine/internal/geo"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
)

const (
	testAccessSecret = "access-secret-access-secret-access-secret"
	testHashSecret   = "hash-secret-hash-secret-hash-secret-hash"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repository.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type sentCode struct {
	To        string
	Code      string
	ExpiresAt time.Time
}

type captureSender struct {
	mu   sync.Mutex
	sent []sentCode
}

func (c *captureSender) SendLoginCode(_ context.Context, to, code string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentCode{To: to, Code: code, ExpiresAt: expiresAt})
	return nil
}

func (c *captureSender) last(t *testing.T) sentCode {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("no login code was sent")
	}
	return c.sent[len(c.sent)-1]
}

// harness wires the full service graph over sqlite and in-memory stores.
type harness struct {
	db       *gorm.DB
	users    repository.UserRepository
	tokens   *TokenService
	otp      *OTPService
	devices  *DeviceService
	audit    *AuditService
	sessions *MemorySessionStore
	userSvc  *UserService
	auth     *AuthService
	sender   *captureSender
	geo      geo.StaticResolver
	keyed    *security.KeyedHasher
	hasher   *security.PasswordHasher
	jwt      *security.JWTManager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newTestDB(t)
	log := discardLogger()
	keyed := security.NewKeyedHasher(testHashSecret)
	hasher := security.NewPasswordHasher(4)
	jwtMgr := security.NewJWTManager("session-security-engine", "session-security-engine", testAccessSecret)
	resolver := geo.StaticResolver{
		"203.0.113.10": "US",
		"198.51.100.7": "FR",
	}
	sender := &captureSender{}

	users := repository.NewUserRepository(db)
	events := repository.NewLoginEventRepository(db)
	tokens := NewTokenService(jwtMgr, repository.NewRefreshTokenRepository(db), keyed, 15*time.Minute, 30*24*time.Hour, log)
	otp := NewOTPService(repository.NewEmailOTPRepository(db), keyed, sender, 10*time.Minute, 5, log)
	devices := NewDeviceService(repository.NewDeviceRepository(db))
	audit := NewAuditService(events, 64, log)
	t.Cleanup(audit.Close)
	sessions := NewMemorySessionStore()
	anomaly := NewAnomalyDetector(resolver, events)

	return &harness{
		db:       db,
		users:    users,
		tokens:   tokens,
		otp:      otp,
		devices:  devices,
		audit:    audit,
		sessions: sessions,
		userSvc:  NewUserService(users, hasher, tokens, sessions, log),
		auth: NewAuthService(users, hasher, keyed, devices, anomaly, otp, tokens, audit, sessions,
			NewLocalAuthAbuseGuard(AuthAbusePolicy{FreeAttempts: 50}), AuthConfig{SessionTTL: 24 * time.Hour}, log),
		sender: sender,
		geo:    resolver,
		keyed:  keyed,
		hasher: hasher,
		jwt:    jwtMgr,
	}
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.audit.Flush(ctx); err != nil {
		t.Fatalf("flush audit: %v", err)
	}
}

func (h *harness) createUser(t *testing.T, in CreateUserInput) uint {
	t.Helper()
	u, err := h.userSvc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create user %q: %v", in.Username, err)
	}
	return u.ID
}

func boolPtr(v bool) *bool { return &v }

func strPtr(v string) *string { return &v }
