package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/http/middleware"
	"github.com/sandeepkv93/session-security-engine/internal/http/response"
	"github.com/sandeepkv93/session-security-engine/internal/security"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

type AuthFlow interface {
	Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
	VerifyOTP(ctx context.Context, in service.VerifyOTPInput) (*service.Session, error)
	Refresh(ctx context.Context, refreshToken string, client service.ClientInfo) (*service.TokenPair, error)
	Logout(ctx context.Context, refreshToken, sessionID string)
}

type AuthHandler struct {
	auth    AuthFlow
	signer  *security.CookieSigner
	cookies security.CookieOptions
}

func NewAuthHandler(auth AuthFlow, signer *security.CookieSigner, cookies security.CookieOptions) *AuthHandler {
	return &AuthHandler{auth: auth, signer: signer, cookies: cookies}
}

type loginRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	RememberDevice *bool  `json:"rememberDevice"`
	DeviceID       string `json:"deviceId"`
}

type verifyRequest struct {
	OTPID          string `json:"otpId"`
	Code           string `json:"code"`
	RememberDevice *bool  `json:"rememberDevice"`
	DeviceID       string `json:"deviceId"`
}

type sessionResponse struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"accessToken"`
	ExpiresAt   time.Time    `json:"accessTokenExpiresAt"`
}

type pendingResponse struct {
	RequiresEmailCode bool      `json:"requiresEmailCode"`
	OTPID             string    `json:"otpId"`
	Email             string    `json:"email"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

func clientInfo(r *http.Request) service.ClientInfo {
	return service.ClientInfo{IP: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := h.auth.Login(r.Context(), service.LoginInput{
		Username:       req.Username,
		Password:       req.Password,
		RememberDevice: req.RememberDevice,
		DeviceID:       req.DeviceID,
		Client:         clientInfo(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if res.Pending != nil {
		response.JSON(w, r, http.StatusAccepted, pendingResponse{
			RequiresEmailCode: true,
			OTPID:             res.Pending.OTPID,
			Email:             res.Pending.MaskedEmail,
			ExpiresAt:         res.Pending.ExpiresAt,
		})
		return
	}
	h.writeSession(w, r, res.Session)
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	sess, err := h.auth.VerifyOTP(r.Context(), service.VerifyOTPInput{
		OTPID:          req.OTPID,
		Code:           req.Code,
		RememberDevice: req.RememberDevice,
		DeviceID:       req.DeviceID,
		Client:         clientInfo(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeSession(w, r, sess)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := security.GetCookie(r, security.RefreshCookieName)
	if raw == "" {
		response.Error(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	pair, err := h.auth.Refresh(r.Context(), raw, clientInfo(r))
	if err != nil {
		security.ClearCookie(w, h.cookies, security.RefreshCookieName)
		writeServiceError(w, r, err)
		return
	}
	security.SetCookie(w, h.cookies, security.RefreshCookieName, pair.RefreshToken, pair.RefreshExpiresAt)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"accessToken":          pair.AccessToken,
		"accessTokenExpiresAt": pair.AccessExpiresAt,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if signed := security.GetCookie(r, security.SessionCookieName); signed != "" {
		sessionID, _ = h.signer.Verify(signed)
	}
	h.auth.Logout(r.Context(), security.GetCookie(r, security.RefreshCookieName), sessionID)
	security.ClearCookie(w, h.cookies, security.RefreshCookieName)
	security.ClearCookie(w, h.cookies, security.SessionCookieName)
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, r *http.Request, sess *service.Session) {
	security.SetCookie(w, h.cookies, security.RefreshCookieName, sess.Tokens.RefreshToken, sess.Tokens.RefreshExpiresAt)
	if sess.SessionID != "" {
		security.SetCookie(w, h.cookies, security.SessionCookieName, h.signer.Sign(sess.SessionID), sess.SessionExpiresAt)
	}
	response.JSON(w, r, http.StatusOK, sessionResponse{
		User:        sess.User,
		AccessToken: sess.Tokens.AccessToken,
		ExpiresAt:   sess.Tokens.AccessExpiresAt,
	})
}
