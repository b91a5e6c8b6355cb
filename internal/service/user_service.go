package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
)

type CreateUserInput struct {
	Username        string
	Password        string
	Email           string
	Role            string
	Organization    string
	RequireEmailOTP bool
}

type UserService struct {
	users    repository.UserRepository
	hasher   *security.PasswordHasher
	tokens   *TokenService
	sessions SessionStore
	logger   *slog.Logger
}

func NewUserService(users repository.UserRepository, hasher *security.PasswordHasher, tokens *TokenService, sessions SessionStore, logger *slog.Logger) *UserService {
	return &UserService{users: users, hasher: hasher, tokens: tokens, sessions: sessions, logger: logger}
}

func (s *UserService) GetByID(ctx context.Context, id uint) (*domain.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (s *UserService) Create(ctx context.Context, in CreateUserInput) (*domain.User, error) {
	if strings.TrimSpace(in.Username) == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	role := in.Role
	if role == "" {
		role = domain.RoleMember
	}
	if !validRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	cred, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	u := &domain.User{
		Username:        strings.TrimSpace(in.Username),
		Password:        cred,
		Role:            role,
		Organization:    in.Organization,
		RequireEmailOTP: in.RequireEmailOTP,
	}
	if email := strings.TrimSpace(in.Email); email != "" {
		u.Email = &email
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return nil, fmt.Errorf("%w: username already taken", ErrInvalidInput)
		}
		return nil, err
	}
	return u, nil
}

// ResetPassword replaces the credential and terminates every session the
// user holds.
func (s *UserService) ResetPassword(ctx context.Context, userID uint, password string) error {
	cred, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.users.UpdateCredential(ctx, userID, cred); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	observability.RecordAdminUserMutation(ctx, "reset_password")
	_, err = s.terminate(ctx, userID, domain.RevokedReasonAdmin)
	return err
}

func (s *UserService) UpdateProfile(ctx context.Context, userID uint, update repository.ProfileUpdate) (*domain.User, error) {
	if update.Role != nil && !validRole(*update.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *update.Role)
	}
	u, err := s.users.UpdateProfile(ctx, userID, update)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err == nil {
		observability.RecordAdminUserMutation(ctx, "update_profile")
	}
	return u, err
}

// RevokeSessions is administrative session termination.
func (s *UserService) RevokeSessions(ctx context.Context, userID uint) (int64, error) {
	if _, err := s.GetByID(ctx, userID); err != nil {
		return 0, err
	}
	observability.RecordAdminUserMutation(ctx, "revoke_sessions")
	return s.terminate(ctx, userID, domain.RevokedReasonAdmin)
}

func (s *UserService) terminate(ctx context.Context, userID uint, reason string) (int64, error) {
	n, err := s.tokens.RevokeAllForUser(ctx, userID, reason)
	if err != nil {
		return n, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	if err := s.sessions.DeleteAllForUser(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "server session cleanup failed", "user_id", userID, "error", err)
	}
	return n, nil
}

func validRole(role string) bool {
	return role == domain.RoleAdmin || role == domain.RoleMember
}
