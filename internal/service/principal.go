package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/security"
)

const (
	PrincipalSourceSession = "session"
	PrincipalSourceBearer  = "bearer"
)

// Principal is the authenticated caller resolved from a request.
type Principal struct {
	UserID    uint
	Source    string
	SessionID string
	Claims    *security.Claims
}

// PrincipalStrategy resolves a principal from one credential carrier. A
// strategy that finds no credential of its kind returns (nil, false).
type PrincipalStrategy interface {
	Resolve(r *http.Request) (*Principal, bool)
}

// PrincipalResolver tries its strategies in priority order.
type PrincipalResolver struct {
	strategies []PrincipalStrategy
}

func NewPrincipalResolver(strategies ...PrincipalStrategy) *PrincipalResolver {
	return &PrincipalResolver{strategies: strategies}
}

func (p *PrincipalResolver) Resolve(r *http.Request) (*Principal, bool) {
	for _, s := range p.strategies {
		if principal, ok := s.Resolve(r); ok {
			return principal, true
		}
	}
	return nil, false
}

// SessionStrategy reads the signed session_id cookie.
type SessionStrategy struct {
	Store  SessionStore
	Signer *security.CookieSigner
	Logger *slog.Logger
}

func (s SessionStrategy) Resolve(r *http.Request) (*Principal, bool) {
	signed := security.GetCookie(r, security.SessionCookieName)
	if signed == "" {
		return nil, false
	}
	id, ok := s.Signer.Verify(signed)
	if !ok {
		observability.RecordAccessTokenValidation(r.Context(), PrincipalSourceSession, "bad_signature")
		return nil, false
	}
	sess, err := s.Store.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) && s.Logger != nil {
			s.Logger.WarnContext(r.Context(), "session lookup failed", "error", err)
		}
		observability.RecordAccessTokenValidation(r.Context(), PrincipalSourceSession, "invalid")
		return nil, false
	}
	observability.RecordAccessTokenValidation(r.Context(), PrincipalSourceSession, "valid")
	return &Principal{UserID: sess.UserID, Source: PrincipalSourceSession, SessionID: sess.ID}, true
}

// BearerStrategy reads "Authorization: Bearer <access token>".
type BearerStrategy struct {
	Tokens interface {
		ValidateAccessToken(ctx context.Context, raw string) (*security.Claims, error)
	}
}

func (b BearerStrategy) Resolve(r *http.Request) (*Principal, bool) {
	raw := BearerToken(r)
	if raw == "" {
		return nil, false
	}
	claims, err := b.Tokens.ValidateAccessToken(r.Context(), raw)
	if err != nil {
		return nil, false
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, false
	}
	return &Principal{UserID: userID, Source: PrincipalSourceBearer, Claims: claims}, true
}

func BearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}
