package middleware

import (
	"context"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	userContextKey      contextKey = "user"
)

// The request id is stored under chi's key so chi.GetReqID and
// observability.Audit see it.
func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, chimiddleware.RequestIDKey, id)
}

func PrincipalFromContext(ctx context.Context) (*service.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*service.Principal)
	return p, ok
}

func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(userContextKey).(*domain.User)
	return u, ok
}

// WithAuth is exported for handler tests that bypass RequireAuth.
func WithAuth(ctx context.Context, p *service.Principal, u *domain.User) context.Context {
	ctx = context.WithValue(ctx, principalContextKey, p)
	return context.WithValue(ctx, userContextKey, u)
}
