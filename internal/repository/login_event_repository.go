package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/session-security-engine/internal/domain"

	"gorm.io/gorm"
)

var ErrLoginEventNotFound = errors.New("login event not found")

const maxRecentLoginEvents = 500

// LoginEventRepository is append-only: no update or delete is exposed.
type LoginEventRepository interface {
	Append(ctx context.Context, e *domain.LoginEvent) error
	Recent(ctx context.Context, limit int) ([]domain.LoginEvent, error)
	LastSuccessFor(ctx context.Context, userID uint) (*domain.LoginEvent, error)
}

type GormLoginEventRepository struct{ db *gorm.DB }

func NewLoginEventRepository(db *gorm.DB) LoginEventRepository {
	return &GormLoginEventRepository{db: db}
}

func (r *GormLoginEventRepository) Append(ctx context.Context, e *domain.LoginEvent) error {
	err := r.db.WithContext(ctx).Create(e).Error
	recordOperation(ctx, "login_event", "append", err, nil)
	return err
}

func (r *GormLoginEventRepository) Recent(ctx context.Context, limit int) ([]domain.LoginEvent, error) {
	if limit <= 0 || limit > maxRecentLoginEvents {
		limit = maxRecentLoginEvents
	}
	var events []domain.LoginEvent
	err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&events).Error
	recordOperation(ctx, "login_event", "recent", err, nil)
	return events, err
}

func (r *GormLoginEventRepository) LastSuccessFor(ctx context.Context, userID uint) (*domain.LoginEvent, error) {
	var e domain.LoginEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND success = ?", userID, true).
		Order("created_at DESC").Order("id DESC").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrLoginEventNotFound
	}
	recordOperation(ctx, "login_event", "last_success_for", err, ErrLoginEventNotFound)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
