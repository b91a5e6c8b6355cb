package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/domain"

	"gorm.io/gorm"
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrRefreshTokenNotActive is returned when a conditional revoke matched
	// no row: the token was already revoked, expired, or lost a rotation race.
	ErrRefreshTokenNotActive = errors.New("refresh token not active")
)

type RefreshTokenRepository interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	FindByIDForUser(ctx context.Context, userID, id uint) (*domain.RefreshToken, error)
	Rotate(ctx context.Context, oldID uint, successor *domain.RefreshToken, now time.Time) error
	RevokeByID(ctx context.Context, id uint, reason string, now time.Time) (bool, error)
	RevokeFamily(ctx context.Context, familyID, reason string, now time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID uint, reason string, now time.Time) (int64, error)
	ListActiveByUser(ctx context.Context, userID uint, now time.Time) ([]domain.RefreshToken, error)
	CleanupExpired(ctx context.Context, before time.Time) (int64, error)
}

type GormRefreshTokenRepository struct{ db *gorm.DB }

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &GormRefreshTokenRepository{db: db}
}

func (r *GormRefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	err := r.db.WithContext(ctx).Create(t).Error
	recordOperation(ctx, "refresh_token", "create", err, nil)
	return err
}

func (r *GormRefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrRefreshTokenNotFound
	}
	recordOperation(ctx, "refresh_token", "find_by_hash", err, ErrRefreshTokenNotFound)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *GormRefreshTokenRepository) FindByIDForUser(ctx context.Context, userID, id uint) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrRefreshTokenNotFound
	}
	recordOperation(ctx, "refresh_token", "find_by_id_for_user", err, ErrRefreshTokenNotFound)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Rotate revokes oldID and inserts successor in one transaction. The revoke
// is conditional on the row still being active, so of two concurrent
// rotations of the same token exactly one commits.
func (r *GormRefreshTokenRepository) Rotate(ctx context.Context, oldID uint, successor *domain.RefreshToken, now time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL AND expires_at > ?", oldID, now).
			Updates(map[string]any{"revoked_at": now, "revoked_reason": domain.RevokedReasonRotated})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrRefreshTokenNotActive
		}
		if err := tx.Create(successor).Error; err != nil {
			return err
		}
		return tx.Model(&domain.RefreshToken{}).
			Where("id = ?", oldID).
			Update("replaced_by", successor.ID).Error
	})
	recordOperation(ctx, "refresh_token", "rotate", err, ErrRefreshTokenNotActive)
	return err
}

// RevokeByID sets the revocation timestamp without touching replaced_by.
func (r *GormRefreshTokenRepository) RevokeByID(ctx context.Context, id uint, reason string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	recordOperation(ctx, "refresh_token", "revoke_by_id", res.Error, nil)
	return res.RowsAffected > 0, res.Error
}

func (r *GormRefreshTokenRepository) RevokeFamily(ctx context.Context, familyID, reason string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("family_id = ? AND revoked_at IS NULL", familyID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	recordOperation(ctx, "refresh_token", "revoke_family", res.Error, nil)
	return res.RowsAffected, res.Error
}

func (r *GormRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uint, reason string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	recordOperation(ctx, "refresh_token", "revoke_all_for_user", res.Error, nil)
	return res.RowsAffected, res.Error
}

func (r *GormRefreshTokenRepository) ListActiveByUser(ctx context.Context, userID uint, now time.Time) ([]domain.RefreshToken, error) {
	var tokens []domain.RefreshToken
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now).
		Order("created_at DESC").
		Find(&tokens).Error
	recordOperation(ctx, "refresh_token", "list_active_by_user", err, nil)
	return tokens, err
}

// CleanupExpired physically deletes rows that expired before the cutoff.
func (r *GormRefreshTokenRepository) CleanupExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", before).Delete(&domain.RefreshToken{})
	recordOperation(ctx, "refresh_token", "cleanup_expired", res.Error, nil)
	return res.RowsAffected, res.Error
}
