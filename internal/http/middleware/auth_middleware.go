package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/http/response"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

type PrincipalResolver interface {
	Resolve(r *http.Request) (*service.Principal, bool)
}

type UserLoader interface {
	CurrentUser(ctx context.Context, userID uint) (*domain.User, error)
}

// RequireAuth resolves the caller and loads the user: 401 without a
// principal, 404 when the principal's user no longer exists.
func RequireAuth(resolver PrincipalResolver, users UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := resolver.Resolve(r)
			if !ok {
				observability.RecordAccessTokenValidation(r.Context(), "guard", "missing")
				response.Error(w, r, http.StatusUnauthorized, "Unauthorized")
				return
			}
			user, err := users.CurrentUser(r.Context(), principal.UserID)
			if err != nil {
				if errors.Is(err, service.ErrUserNotFound) {
					response.Error(w, r, http.StatusNotFound, "User not found")
					return
				}
				slog.ErrorContext(r.Context(), "load authenticated user failed", "user_id", principal.UserID, "error", err)
				response.Error(w, r, http.StatusInternalServerError, "Internal server error")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), principal, user)))
		})
	}
}
