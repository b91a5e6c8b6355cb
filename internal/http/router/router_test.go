package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/health"
	"github.com/sandeepkv93/session-security-engine/internal/http/handler"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

type unhealthyChecker struct{}

func (unhealthyChecker) Check(context.Context) health.CheckResult {
	return health.CheckResult{Name: "db", Healthy: false, Error: "db down"}
}

type fakeAuth struct {
	pending bool
}

func (f fakeAuth) Login(_ context.Context, in service.LoginInput) (*service.LoginResult, error) {
	if in.Password != "pw" {
		return nil, service.ErrInvalidCredentials
	}
	if f.pending {
		return &service.LoginResult{Pending: &service.PendingChallenge{OTPID: "otp-1", MaskedEmail: "a****@example.com"}}, nil
	}
	return &service.LoginResult{Session: &service.Session{
		User:             &domain.User{ID: 1, Username: in.Username, Role: domain.RoleMember},
		Tokens:           &service.TokenPair{AccessToken: "access", RefreshToken: "refresh", RefreshExpiresAt: time.Now().Add(time.Hour)},
		SessionID:        "sid",
		SessionExpiresAt: time.Now().Add(time.Hour),
	}}, nil
}

func (fakeAuth) VerifyOTP(context.Context, service.VerifyOTPInput) (*service.Session, error) {
	return nil, service.ErrInvalidOrExpiredOTP
}

func (fakeAuth) Refresh(context.Context, string, service.ClientInfo) (*service.TokenPair, error) {
	return nil, service.ErrUnauthorized
}

func (fakeAuth) Logout(context.Context, string, string) {}

// headerResolver authenticates X-Test-User as a user id.
type headerResolver struct{}

func (headerResolver) Resolve(r *http.Request) (*service.Principal, bool) {
	id, err := strconv.Atoi(r.Header.Get("X-Test-User"))
	if err != nil {
		return nil, false
	}
	return &service.Principal{UserID: uint(id), Source: service.PrincipalSourceBearer}, true
}

type fakeUsers struct{}

func (fakeUsers) CurrentUser(_ context.Context, id uint) (*domain.User, error) {
	switch id {
	case 1:
		return &domain.User{ID: 1, Username: "member", Role: domain.RoleMember}, nil
	case 2:
		return &domain.User{ID: 2, Username: "root", Role: domain.RoleAdmin}, nil
	}
	return nil, service.ErrUserNotFound
}

type fakeEvents struct{}

func (fakeEvents) Recent(context.Context, int) ([]domain.LoginEvent, error) {
	return []domain.LoginEvent{{ID: 1, Reason: domain.ReasonLoginSuccess, Success: true}}, nil
}

type fakeAdmin struct{}

func (fakeAdmin) ResetPassword(context.Context, uint, string) error { return nil }
func (fakeAdmin) RevokeSessions(context.Context, uint) (int64, error) {
	return 3, nil
}
func (fakeAdmin) UpdateProfile(context.Context, uint, repository.ProfileUpdate) (*domain.User, error) {
	return &domain.User{ID: 1}, nil
}

type fakeDevices struct{}

func (fakeDevices) ListForUser(context.Context, uint) ([]domain.Device, error) { return nil, nil }

func newRouterTestDeps(auth handler.AuthFlow) Dependencies {
	signer := security.NewCookieSigner("session-secret-session-secret-0123")
	cookies := security.CookieOptions{Path: "/api"}
	return Dependencies{
		AuthHandler:      handler.NewAuthHandler(auth, signer, cookies),
		UserHandler:      handler.NewUserHandler(fakeDevices{}),
		AdminHandler:     handler.NewAdminHandler(fakeEvents{}, fakeAdmin{}),
		Resolver:         headerResolver{},
		Users:            fakeUsers{},
		BasePath:         "/api",
		CORSOrigins:      []string{"http://localhost"},
		AuthRateLimitRPM: 1000,
		APIRateLimitRPM:  1000,
	}
}

func perform(r http.Handler, method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthReadyNilAndUnreadyBranches(t *testing.T) {
	t.Run("nil readiness returns ready", func(t *testing.T) {
		r := NewRouter(newRouterTestDeps(fakeAuth{}))
		rr := perform(r, http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"ready"`) {
			t.Fatalf("expected ready, got %d %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("unready dependency returns 503", func(t *testing.T) {
		dep := newRouterTestDeps(fakeAuth{})
		dep.Readiness = health.NewProbeRunner(time.Second, 0, unhealthyChecker{})
		rr := perform(NewRouter(dep), http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "db down") {
			t.Fatalf("expected 503 with check detail, got %d %s", rr.Code, rr.Body.String())
		}
	})
}

func TestRouterFallbackGlobalRateLimiterWhenCustomNil(t *testing.T) {
	dep := newRouterTestDeps(fakeAuth{})
	dep.APIRateLimitRPM = 1
	r := NewRouter(dep)

	if rr := perform(r, http.MethodGet, "/health/live", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", rr.Code)
	}
	if rr := perform(r, http.MethodGet, "/health/live", nil, ""); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", rr.Code)
	}
}

func TestRouterAuthLimiterOverrideCoversCredentialRoutes(t *testing.T) {
	dep := newRouterTestDeps(fakeAuth{})
	hits := 0
	dep.AuthRateLimiter = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	r := NewRouter(dep)
	for _, path := range []string{"/api/login", "/api/login/verify", "/api/auth/refresh"} {
		if rr := perform(r, http.MethodPost, path, nil, "{}"); rr.Code != http.StatusTooManyRequests {
			t.Fatalf("%s: expected limiter, got %d", path, rr.Code)
		}
	}
	if rr := perform(r, http.MethodPost, "/api/logout", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("logout must not be auth-limited, got %d", rr.Code)
	}
	if hits != 3 {
		t.Fatalf("expected 3 limiter hits, got %d", hits)
	}
}

func TestRouterLoginResponses(t *testing.T) {
	r := NewRouter(newRouterTestDeps(fakeAuth{}))

	rr := perform(r, http.MethodPost, "/api/login", nil, `{"username":"bob","password":"pw"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	_ = json.NewDecoder(rr.Body).Decode(&body)
	if body["accessToken"] != "access" || body["user"] == nil {
		t.Fatalf("unexpected body %+v", body)
	}
	cookies := map[string]*http.Cookie{}
	for _, c := range rr.Result().Cookies() {
		cookies[c.Name] = c
	}
	rt := cookies[security.RefreshCookieName]
	if rt == nil || rt.Value != "refresh" || !rt.HttpOnly || rt.Path != "/api" || rt.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected refresh cookie %+v", rt)
	}
	if sc := cookies[security.SessionCookieName]; sc == nil || !strings.HasPrefix(sc.Value, "sid.") {
		t.Fatalf("unexpected session cookie %+v", sc)
	}

	rr = perform(r, http.MethodPost, "/api/login", nil, `{"username":"bob","password":"bad"}`)
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), "Invalid username or password") {
		t.Fatalf("expected generic 401, got %d %s", rr.Code, rr.Body.String())
	}

	pending := NewRouter(newRouterTestDeps(fakeAuth{pending: true}))
	rr = perform(pending, http.MethodPost, "/api/login", nil, `{"username":"bob","password":"pw"}`)
	if rr.Code != http.StatusAccepted || !strings.Contains(rr.Body.String(), `"requiresEmailCode":true`) || !strings.Contains(rr.Body.String(), `"otpId":"otp-1"`) {
		t.Fatalf("expected 202 pending, got %d %s", rr.Code, rr.Body.String())
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatal("pending login must not set cookies")
	}

	rr = perform(r, http.MethodPost, "/api/login/verify", nil, `{"otpId":"x","code":"1"}`)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "Invalid or expired code") {
		t.Fatalf("expected 400, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestRouterGuards(t *testing.T) {
	r := NewRouter(newRouterTestDeps(fakeAuth{}))

	cases := []struct {
		name    string
		method  string
		path    string
		user    string
		want    int
		payload string
	}{
		{"me anonymous", http.MethodGet, "/api/me", "", http.StatusUnauthorized, ""},
		{"me vanished user", http.MethodGet, "/api/me", "99", http.StatusNotFound, ""},
		{"me member", http.MethodGet, "/api/me", "1", http.StatusOK, `"username":"member"`},
		{"devices member", http.MethodGet, "/api/me/devices", "1", http.StatusOK, `"devices":[]`},
		{"admin as member", http.MethodGet, "/api/admin/login-events", "1", http.StatusForbidden, ""},
		{"admin events", http.MethodGet, "/api/admin/login-events?limit=5", "2", http.StatusOK, `"reason":"login_success"`},
		{"admin bad limit", http.MethodGet, "/api/admin/login-events?limit=x", "2", http.StatusBadRequest, ""},
		{"admin revoke", http.MethodPost, "/api/admin/users/7/revoke-sessions", "2", http.StatusOK, `"revoked":3`},
		{"admin bad id", http.MethodPost, "/api/admin/users/zero/revoke-sessions", "2", http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{}
			if tc.user != "" {
				headers["X-Test-User"] = tc.user
			}
			rr := perform(r, tc.method, tc.path, headers, "")
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d %s", tc.want, rr.Code, rr.Body.String())
			}
			if tc.payload != "" && !strings.Contains(rr.Body.String(), tc.payload) {
				t.Fatalf("expected %s in %s", tc.payload, rr.Body.String())
			}
		})
	}
}

func TestRouterRootBasePathAndOriginGuard(t *testing.T) {
	dep := newRouterTestDeps(fakeAuth{})
	dep.BasePath = "/"
	r := NewRouter(dep)

	if rr := perform(r, http.MethodPost, "/logout", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("root base path logout expected 200, got %d", rr.Code)
	}
	rr := perform(r, http.MethodPost, "/logout", map[string]string{"Origin": "https://evil.example"}, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("foreign origin expected 403, got %d", rr.Code)
	}
	if rr := perform(r, http.MethodPost, "/logout", map[string]string{"Origin": "http://localhost"}, ""); rr.Code != http.StatusOK {
		t.Fatalf("allowed origin expected 200, got %d", rr.Code)
	}
}
