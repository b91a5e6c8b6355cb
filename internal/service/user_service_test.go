package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
)

func TestUserServiceCreateValidates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	u, err := h.userSvc.Create(ctx, CreateUserInput{Username: " Ivy ", Password: "pw", Email: "ivy@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Username != "Ivy" || u.Role != domain.RoleMember || u.Password.Kind != domain.CredentialHashed {
		t.Fatalf("unexpected user %+v", u)
	}

	for name, in := range map[string]CreateUserInput{
		"blank username": {Username: " ", Password: "pw"},
		"bad role":       {Username: "jack", Password: "pw", Role: "root"},
		"no password":    {Username: "jack"},
		"duplicate":      {Username: "IVY", Password: "pw"},
	} {
		if _, err := h.userSvc.Create(ctx, in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
	}
}

func TestUserServiceResetPasswordTerminatesSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.createUser(t, CreateUserInput{Username: "kim", Password: "old-pw"})

	res, err := h.auth.Login(ctx, LoginInput{Username: "kim", Password: "old-pw"})
	if err != nil || res.Session == nil {
		t.Fatalf("login: %v", err)
	}

	if err := h.userSvc.ResetPassword(ctx, id, "new-pw"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := h.auth.Refresh(ctx, res.Session.Tokens.RefreshToken, ClientInfo{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("refresh after reset must fail, got %v", err)
	}
	if _, err := h.sessions.Get(ctx, res.Session.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session should be terminated, got %v", err)
	}

	stored, _ := h.users.FindByID(ctx, id)
	if !security.VerifyPassword("new-pw", stored.Password).Valid {
		t.Fatal("new password should verify")
	}
	if err := h.userSvc.ResetPassword(ctx, 9999, "x"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUserServiceUpdateProfileAndRevoke(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.createUser(t, CreateUserInput{Username: "lee", Password: "pw"})

	u, err := h.userSvc.UpdateProfile(ctx, id, repository.ProfileUpdate{
		Email:           strPtr("lee@example.com"),
		Role:            strPtr(domain.RoleAdmin),
		RequireEmailOTP: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if u.Email == nil || *u.Email != "lee@example.com" || u.Role != domain.RoleAdmin || !u.RequireEmailOTP {
		t.Fatalf("unexpected profile %+v", u)
	}
	if _, err := h.userSvc.UpdateProfile(ctx, id, repository.ProfileUpdate{Role: strPtr("owner")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid role, got %v", err)
	}

	_, _ = h.tokens.Issue(ctx, id, IssueMeta{})
	_, _ = h.tokens.Issue(ctx, id, IssueMeta{})
	n, err := h.userSvc.RevokeSessions(ctx, id)
	if err != nil || n != 2 {
		t.Fatalf("revoke sessions: n=%d err=%v", n, err)
	}
	if _, err := h.userSvc.RevokeSessions(ctx, 9999); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
