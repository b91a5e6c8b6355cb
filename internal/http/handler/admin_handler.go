package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/http/response"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type LoginEventReader interface {
	Recent(ctx context.Context, limit int) ([]domain.LoginEvent, error)
}

type UserAdmin interface {
	ResetPassword(ctx context.Context, userID uint, password string) error
	RevokeSessions(ctx context.Context, userID uint) (int64, error)
	UpdateProfile(ctx context.Context, userID uint, update repository.ProfileUpdate) (*domain.User, error)
}

type AdminHandler struct {
	events LoginEventReader
	users  UserAdmin
}

func NewAdminHandler(events LoginEventReader, users UserAdmin) *AdminHandler {
	return &AdminHandler{events: events, users: users}
}

func (h *AdminHandler) LoginEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.Error(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}
	events, err := h.events.Recent(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.LoginEvent{}
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"events": events})
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

func (h *AdminHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req resetPasswordRequest
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.users.ResetPassword(r.Context(), id, req.Password); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin_password_reset", "target_user_id", id)
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "Password reset; sessions terminated"})
}

func (h *AdminHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	n, err := h.users.RevokeSessions(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin_sessions_revoked", "target_user_id", id, "revoked", n)
	response.JSON(w, r, http.StatusOK, map[string]int64{"revoked": n})
}

type updateProfileRequest struct {
	Email           *string `json:"email"`
	Role            *string `json:"role"`
	Organization    *string `json:"organization"`
	RequireEmailOTP *bool   `json:"requireEmailOtp"`
}

func (h *AdminHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	user, err := h.users.UpdateProfile(r.Context(), id, repository.ProfileUpdate{
		Email:           req.Email,
		Role:            req.Role,
		Organization:    req.Organization,
		RequireEmailOTP: req.RequireEmailOTP,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin_profile_updated", "target_user_id", id)
	response.JSON(w, r, http.StatusOK, user)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		response.Error(w, r, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return uint(id), true
}
