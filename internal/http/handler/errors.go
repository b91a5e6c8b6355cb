package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/http/response"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

// writeServiceError maps service sentinels to client-safe responses.
// Anything unrecognised is logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var throttled *service.TooManyAttemptsError
	switch {
	case errors.As(err, &throttled):
		secs := int(throttled.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		response.Error(w, r, http.StatusTooManyRequests, "Too many attempts")
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "Invalid username or password")
	case errors.Is(err, service.ErrInvalidOrExpiredOTP):
		response.Error(w, r, http.StatusBadRequest, service.ErrInvalidOrExpiredOTP.Error())
	case errors.Is(err, service.ErrUnauthorized), errors.Is(err, service.ErrInvalidRefreshToken):
		response.Error(w, r, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, service.ErrForbidden):
		response.Error(w, r, http.StatusForbidden, "Forbidden")
	case errors.Is(err, service.ErrUserNotFound):
		response.Error(w, r, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrInvalidInput):
		response.Error(w, r, http.StatusBadRequest, err.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		response.Error(w, r, http.StatusInternalServerError, "Internal server error")
	}
}
