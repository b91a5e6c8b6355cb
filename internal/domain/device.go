package domain

import "time"

type Device struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"uniqueIndex:idx_device_user_hash;not null" json:"user_id"`
	DeviceHash string    `gorm:"size:128;uniqueIndex:idx_device_user_hash;not null" json:"-"`
	Trusted    bool      `gorm:"not null;default:false" json:"trusted"`
	Label      *string   `gorm:"size:128" json:"label,omitempty"`
	LastUsedAt time.Time `gorm:"not null" json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
