package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/config"
	"github.com/sandeepkv93/session-security-engine/internal/geo"
	"github.com/sandeepkv93/session-security-engine/internal/http/handler"
	"github.com/sandeepkv93/session-security-engine/internal/http/router"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

const (
	ipUS = "203.0.113.10"
	ipFR = "198.51.100.7"
)

type sentCode struct {
	To   string
	Code string
}

type captureSender struct {
	mu    sync.Mutex
	codes []sentCode
}

func (c *captureSender) SendLoginCode(_ context.Context, to, code string, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, sentCode{To: to, Code: code})
	return nil
}

func (c *captureSender) last(t *testing.T) sentCode {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.codes) == 0 {
		t.Fatal("no login code was sent")
	}
	return c.codes[len(c.codes)-1]
}

type testEnv struct {
	baseURL string
	client  *http.Client
	users   *service.UserService
	audit   *service.AuditService
	sender  *captureSender
}

type serverOptions struct {
	authRPM int
}

func newAuthTestServer(t *testing.T) *testEnv {
	return newAuthTestServerWith(t, serverOptions{})
}

func newAuthTestServerWith(t *testing.T, opts serverOptions) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		DatabaseDriver: "sqlite",
		DatabaseURL:    filepath.Join(t.TempDir(), "it.db"),
	}
	db, err := repository.Open(cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	if err := repository.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	keyed := security.NewKeyedHasher("integration-token-hash-secret-0123456789")
	passwords := security.NewPasswordHasher(4)
	jwtMgr := security.NewJWTManager("it", "it-api", "integration-access-secret-0123456789abcd")
	signer := security.NewCookieSigner("integration-session-secret-0123456789ab")

	userRepo := repository.NewUserRepository(db)
	eventRepo := repository.NewLoginEventRepository(db)
	tokens := service.NewTokenService(jwtMgr, repository.NewRefreshTokenRepository(db), keyed, 15*time.Minute, 30*24*time.Hour, logger)
	sender := &captureSender{}
	otp := service.NewOTPService(repository.NewEmailOTPRepository(db), keyed, sender, 10*time.Minute, 5, logger)
	audit := service.NewAuditService(eventRepo, 64, logger)
	sessions := service.NewMemorySessionStore()
	devices := service.NewDeviceService(repository.NewDeviceRepository(db))
	anomaly := service.NewAnomalyDetector(geo.StaticResolver{ipUS: "US", ipFR: "FR"}, eventRepo)
	guard := service.NewLocalAuthAbuseGuard(service.AuthAbusePolicy{FreeAttempts: 50})
	auth := service.NewAuthService(userRepo, passwords, keyed, devices, anomaly, otp, tokens, audit, sessions, guard,
		service.AuthConfig{SessionTTL: time.Hour}, logger)
	users := service.NewUserService(userRepo, passwords, tokens, sessions, logger)

	authRPM := opts.authRPM
	if authRPM == 0 {
		authRPM = 1000
	}
	cookies := security.CookieOptions{Path: "/api"}
	h := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(auth, signer, cookies),
		UserHandler:      handler.NewUserHandler(devices),
		AdminHandler:     handler.NewAdminHandler(audit, users),
		Resolver: service.NewPrincipalResolver(
			service.SessionStrategy{Store: sessions, Signer: signer, Logger: logger},
			service.BearerStrategy{Tokens: tokens},
		),
		Users:            auth,
		BasePath:         "/api",
		TrustedProxies:   []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8"), netip.MustParsePrefix("::1/128")},
		AuthRateLimitRPM: authRPM,
		APIRateLimitRPM:  10000,
	})
	srv := httptest.NewServer(h)

	t.Cleanup(func() {
		srv.Close()
		audit.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &testEnv{baseURL: srv.URL, client: newClient(t), users: users, audit: audit, sender: sender}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func (e *testEnv) flush(t *testing.T) {
	t.Helper()
	if err := e.audit.Flush(context.Background()); err != nil {
		t.Fatalf("flush audit: %v", err)
	}
}

func (e *testEnv) createUser(t *testing.T, in service.CreateUserInput) uint {
	t.Helper()
	u, err := e.users.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create user %s: %v", in.Username, err)
	}
	return u.ID
}

type requestOptions struct {
	ip      string
	bearer  string
	headers map[string]string
	cookies []*http.Cookie
}

func doJSON(t *testing.T, client *http.Client, method, target string, body any, opts requestOptions) (*http.Response, map[string]any) {
	t.Helper()
	var payload io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, target, payload)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.ip != "" {
		req.Header.Set("X-Forwarded-For", opts.ip)
	}
	if opts.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+opts.bearer)
	}
	for k, v := range opts.headers {
		req.Header.Set(k, v)
	}
	for _, c := range opts.cookies {
		req.AddCookie(c)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, target, raw, err)
		}
	}
	return resp, out
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL + "/api")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// loginTrusted enrols deviceID through one email step-up so later logins from
// the same country skip the code.
func (e *testEnv) loginTrusted(t *testing.T, client *http.Client, username, password, deviceID, ip string) map[string]any {
	t.Helper()
	resp, body := doJSON(t, client, http.MethodPost, e.baseURL+"/api/login",
		map[string]any{"username": username, "password": password, "deviceId": deviceID}, requestOptions{ip: ip})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected step-up for new device, got %d %v", resp.StatusCode, body)
	}
	otpID, _ := body["otpId"].(string)
	resp, body = doJSON(t, client, http.MethodPost, e.baseURL+"/api/login/verify",
		map[string]any{"otpId": otpID, "code": e.sender.last(t).Code, "deviceId": deviceID, "rememberDevice": true}, requestOptions{ip: ip})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify failed: %d %v", resp.StatusCode, body)
	}
	e.flush(t)
	return body
}
