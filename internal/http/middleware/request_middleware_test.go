package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func TestRequestIDAssignsAndEchoes(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = chimiddleware.GetReqID(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rr.Header().Get("X-Request-Id") != seen {
		t.Fatalf("expected generated id echoed, seen=%q header=%q", seen, rr.Header().Get("X-Request-Id"))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "abc-123" {
		t.Fatalf("expected inbound id to be kept, got %q", seen)
	}
}

func TestSecurityHeadersAndCORS(t *testing.T) {
	h := SecurityHeaders(CORS([]string{"https://app.example.com"})(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("preflight not answered: %d %v", rr.Code, rr.Header())
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("security headers missing: %v", rr.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unlisted origin must not be allowed")
	}
}

func TestOriginGuard(t *testing.T) {
	h := OriginGuard([]string{"https://app.example.com"})(okHandler)
	cases := []struct {
		method, origin string
		want           int
	}{
		{http.MethodPost, "", http.StatusOK},
		{http.MethodPost, "https://app.example.com", http.StatusOK},
		{http.MethodPost, "http://example.com", http.StatusOK},
		{http.MethodPost, "https://evil.example", http.StatusForbidden},
		{http.MethodGet, "https://evil.example", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "http://example.com/api/logout", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s origin=%q: expected %d got %d", tc.method, tc.origin, tc.want, rr.Code)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	if got := ClientIP(req); got != "2001:db8::1" {
		t.Fatalf("ClientIP = %q", got)
	}
	req.RemoteAddr = "garbage"
	if got := ClientIP(req); got != "" {
		t.Fatalf("ClientIP for garbage = %q", got)
	}
}

func TestRealIPHonoursOnlyTrustedProxies(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	var seen string
	h := RealIP(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIP(r)
	}))

	cases := []struct {
		name   string
		remote string
		xff    string
		realIP string
		want   string
	}{
		{"untrusted peer spoofing xff", "198.51.100.7:4000", "203.0.113.10", "", "198.51.100.7"},
		{"untrusted peer spoofing x-real-ip", "198.51.100.7:4000", "", "203.0.113.10", "198.51.100.7"},
		{"trusted proxy forwards client", "10.1.2.3:4000", "203.0.113.10", "", "203.0.113.10"},
		{"client-prepended hop ignored", "10.1.2.3:4000", "1.1.1.1, 203.0.113.10, 10.9.9.9", "", "203.0.113.10"},
		{"trusted proxy with x-real-ip", "10.1.2.3:4000", "", "203.0.113.10", "203.0.113.10"},
		{"trusted proxy without headers", "10.1.2.3:4000", "", "", "10.1.2.3"},
		{"garbage hop stops the walk", "10.1.2.3:4000", "garbage", "", "10.1.2.3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if seen != tc.want {
				t.Fatalf("client ip = %q, want %q", seen, tc.want)
			}
		})
	}
}

func TestRealIPWithoutTrustedProxiesIgnoresHeaders(t *testing.T) {
	var seen string
	h := RealIP(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIP(r)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.10")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "127.0.0.1" {
		t.Fatalf("client ip = %q, want peer address", seen)
	}
}
