package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/security"
)

func TestPrincipalResolverPrefersSessionThenBearer(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	signer := security.NewCookieSigner("session-secret-session-secret-session")
	tokens := newTokenServiceForTest(newInMemoryRefreshRepo())
	resolver := NewPrincipalResolver(
		SessionStrategy{Store: store, Signer: signer},
		BearerStrategy{Tokens: tokens},
	)

	_ = store.Create(ctx, ServerSession{ID: "sid-1", UserID: 5, ExpiresAt: time.Now().Add(time.Hour)})
	pair, err := tokens.Issue(ctx, 9, IssueMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	withSession := func(r *http.Request, value string) {
		r.AddCookie(&http.Cookie{Name: security.SessionCookieName, Value: value})
	}

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	withSession(r, signer.Sign("sid-1"))
	r.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	p, ok := resolver.Resolve(r)
	if !ok || p.UserID != 5 || p.Source != PrincipalSourceSession || p.SessionID != "sid-1" {
		t.Fatalf("expected session principal, got %+v ok=%v", p, ok)
	}

	r = httptest.NewRequest(http.MethodGet, "/me", nil)
	withSession(r, "sid-1.forged")
	r.Header.Set("Authorization", "bearer "+pair.AccessToken)
	p, ok = resolver.Resolve(r)
	if !ok || p.UserID != 9 || p.Source != PrincipalSourceBearer || p.Claims == nil {
		t.Fatalf("expected bearer fallback, got %+v ok=%v", p, ok)
	}

	r = httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	if _, ok := resolver.Resolve(r); ok {
		t.Fatal("invalid bearer token must not resolve")
	}

	r = httptest.NewRequest(http.MethodGet, "/me", nil)
	if _, ok := resolver.Resolve(r); ok {
		t.Fatal("anonymous request must not resolve")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for header, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := BearerToken(r); got != want {
			t.Fatalf("BearerToken(%q) = %q want %q", header, got, want)
		}
	}
}
