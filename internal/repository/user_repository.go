package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/sandeepkv93/session-security-engine/internal/domain"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
)

// ProfileUpdate carries the admin-editable profile fields. Nil fields are
// left untouched.
type ProfileUpdate struct {
	Email           *string
	Role            *string
	Organization    *string
	RequireEmailOTP *bool
}

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	UpdateCredential(ctx context.Context, id uint, cred domain.Credential) error
	UpdateProfile(ctx context.Context, id uint, update ProfileUpdate) (*domain.User, error)
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrUserNotFound
	}
	recordOperation(ctx, "user", "find_by_id", err, ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindByUsername matches case-insensitively through the normalized key.
func (r *GormUserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	key := domain.NormalizeUsername(username)
	if key == "" {
		recordOperation(ctx, "user", "find_by_username", ErrUserNotFound, ErrUserNotFound)
		return nil, ErrUserNotFound
	}
	var u domain.User
	err := r.db.WithContext(ctx).Where("username_key = ?", key).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrUserNotFound
	}
	recordOperation(ctx, "user", "find_by_username", err, ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	user.UsernameKey = domain.NormalizeUsername(user.Username)
	if user.Role == "" {
		user.Role = domain.RoleMember
	}
	err := r.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		err = ErrUsernameTaken
	}
	recordOperation(ctx, "user", "create", err, nil)
	return err
}

func (r *GormUserRepository) UpdateCredential(ctx context.Context, id uint, cred domain.Credential) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"password_kind": cred.Kind, "password_value": cred.Value})
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = ErrUserNotFound
	}
	recordOperation(ctx, "user", "update_credential", err, ErrUserNotFound)
	return err
}

func (r *GormUserRepository) UpdateProfile(ctx context.Context, id uint, update ProfileUpdate) (*domain.User, error) {
	updates := map[string]any{}
	if update.Email != nil {
		if email := strings.TrimSpace(*update.Email); email == "" {
			updates["email"] = nil
		} else {
			updates["email"] = email
		}
	}
	if update.Role != nil {
		updates["role"] = *update.Role
	}
	if update.Organization != nil {
		updates["organization"] = *update.Organization
	}
	if update.RequireEmailOTP != nil {
		updates["require_email_otp"] = *update.RequireEmailOTP
	}
	if len(updates) > 0 {
		res := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(updates)
		err := res.Error
		if err == nil && res.RowsAffected == 0 {
			err = ErrUserNotFound
		}
		recordOperation(ctx, "user", "update_profile", err, ErrUserNotFound)
		if err != nil {
			return nil, err
		}
	}
	return r.FindByID(ctx, id)
}
