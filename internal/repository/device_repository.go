package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrDeviceNotFound = errors.New("device not found")

type DeviceRepository interface {
	Find(ctx context.Context, userID uint, deviceHash string) (*domain.Device, error)
	Upsert(ctx context.Context, userID uint, deviceHash string, trusted *bool, label *string, now time.Time) (*domain.Device, error)
	ListByUser(ctx context.Context, userID uint) ([]domain.Device, error)
}

type GormDeviceRepository struct{ db *gorm.DB }

func NewDeviceRepository(db *gorm.DB) DeviceRepository { return &GormDeviceRepository{db: db} }

func (r *GormDeviceRepository) Find(ctx context.Context, userID uint, deviceHash string) (*domain.Device, error) {
	var d domain.Device
	err := r.db.WithContext(ctx).Where("user_id = ? AND device_hash = ?", userID, deviceHash).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrDeviceNotFound
	}
	recordOperation(ctx, "device", "find", err, ErrDeviceNotFound)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Upsert inserts the (user, device) pair or refreshes last_used_at. A nil
// trusted leaves an existing flag alone and inserts untrusted; a nil label
// keeps the stored label.
func (r *GormDeviceRepository) Upsert(ctx context.Context, userID uint, deviceHash string, trusted *bool, label *string, now time.Time) (*domain.Device, error) {
	d := domain.Device{
		UserID:     userID,
		DeviceHash: deviceHash,
		Label:      label,
		LastUsedAt: now,
	}
	assignments := map[string]any{"last_used_at": now, "updated_at": now}
	if trusted != nil {
		d.Trusted = *trusted
		assignments["trusted"] = *trusted
	}
	if label != nil {
		assignments["label"] = *label
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "device_hash"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&d).Error
	recordOperation(ctx, "device", "upsert", err, nil)
	if err != nil {
		return nil, err
	}
	return r.Find(ctx, userID, deviceHash)
}

func (r *GormDeviceRepository) ListByUser(ctx context.Context, userID uint) ([]domain.Device, error) {
	var devices []domain.Device
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("last_used_at DESC").Find(&devices).Error
	recordOperation(ctx, "device", "list_by_user", err, nil)
	return devices, err
}
