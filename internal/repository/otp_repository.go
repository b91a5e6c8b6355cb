package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/domain"

	"gorm.io/gorm"
)

var ErrOTPNotFound = errors.New("email otp not found")

type EmailOTPRepository interface {
	Create(ctx context.Context, otp *domain.EmailOTP) error
	FindByID(ctx context.Context, id string) (*domain.EmailOTP, error)
	IncrementAttempts(ctx context.Context, id string, now time.Time) error
	MarkConsumed(ctx context.Context, id string, now time.Time, maxAttempts int) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type GormEmailOTPRepository struct{ db *gorm.DB }

func NewEmailOTPRepository(db *gorm.DB) EmailOTPRepository { return &GormEmailOTPRepository{db: db} }

func (r *GormEmailOTPRepository) Create(ctx context.Context, otp *domain.EmailOTP) error {
	err := r.db.WithContext(ctx).Create(otp).Error
	recordOperation(ctx, "email_otp", "create", err, nil)
	return err
}

func (r *GormEmailOTPRepository) FindByID(ctx context.Context, id string) (*domain.EmailOTP, error) {
	var otp domain.EmailOTP
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&otp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrOTPNotFound
	}
	recordOperation(ctx, "email_otp", "find_by_id", err, ErrOTPNotFound)
	if err != nil {
		return nil, err
	}
	return &otp, nil
}

func (r *GormEmailOTPRepository) IncrementAttempts(ctx context.Context, id string, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.EmailOTP{}).
		Where("id = ? AND consumed_at IS NULL AND expires_at > ?", id, now).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
	recordOperation(ctx, "email_otp", "increment_attempts", err, nil)
	return err
}

// MarkConsumed flips consumed_at exactly once. It reports false when the
// challenge was already consumed, expired or out of attempts.
func (r *GormEmailOTPRepository) MarkConsumed(ctx context.Context, id string, now time.Time, maxAttempts int) (bool, error) {
	q := r.db.WithContext(ctx).Model(&domain.EmailOTP{}).
		Where("id = ? AND consumed_at IS NULL AND expires_at > ?", id, now)
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	res := q.Update("consumed_at", now)
	recordOperation(ctx, "email_otp", "mark_consumed", res.Error, nil)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormEmailOTPRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", before).Delete(&domain.EmailOTP{})
	recordOperation(ctx, "email_otp", "delete_expired", res.Error, nil)
	return res.RowsAffected, res.Error
}
