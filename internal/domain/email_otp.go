package domain

import "time"

type EmailOTP struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	UserID     uint       `gorm:"index;not null" json:"user_id"`
	CodeHash   string     `gorm:"size:128;not null" json:"-"`
	DeviceHash *string    `gorm:"size:128" json:"-"`
	IP         string     `gorm:"size:64" json:"ip"`
	Country    *string    `gorm:"size:2" json:"country,omitempty"`
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
	ExpiresAt  time.Time  `gorm:"index;not null" json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (o *EmailOTP) Consumable(now time.Time, maxAttempts int) bool {
	if o == nil || o.ConsumedAt != nil || !o.ExpiresAt.After(now) {
		return false
	}
	return maxAttempts <= 0 || o.Attempts < maxAttempts
}
