package handler

import (
	"context"
	"net/http"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/http/middleware"
	"github.com/sandeepkv93/session-security-engine/internal/http/response"
)

type DeviceLister interface {
	ListForUser(ctx context.Context, userID uint) ([]domain.Device, error)
}

type UserHandler struct {
	devices DeviceLister
}

func NewUserHandler(devices DeviceLister) *UserHandler {
	return &UserHandler{devices: devices}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	response.JSON(w, r, http.StatusOK, user)
}

func (h *UserHandler) Devices(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	devices, err := h.devices.ListForUser(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if devices == nil {
		devices = []domain.Device{}
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"devices": devices})
}
