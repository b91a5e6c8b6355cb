package domain

import "time"

const (
	RevokedReasonRotated       = "rotated"
	RevokedReasonLogout        = "logout"
	RevokedReasonAdmin         = "admin_terminated"
	RevokedReasonReuseDetected = "reuse_detected"
	RevokedReasonUserRevokeAll = "user_revoke_all"
)

// RefreshToken is the server-side record of an opaque refresh token. Only
// the keyed hash of the token is stored.
type RefreshToken struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	TokenHash     string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserID        uint       `gorm:"index;not null" json:"user_id"`
	FamilyID      string     `gorm:"size:64;index;not null" json:"-"`
	DeviceHash    *string    `gorm:"size:128" json:"-"`
	IP            string     `gorm:"size:64" json:"ip"`
	Country       *string    `gorm:"size:2" json:"country,omitempty"`
	UserAgent     string     `gorm:"size:512" json:"user_agent"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt     *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	ReplacedBy    *uint      `gorm:"index" json:"replaced_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Active reports whether the token can still be exchanged at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return t != nil && t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// Rotated reports whether the token was consumed by a successful rotation.
func (t *RefreshToken) Rotated() bool {
	return t != nil && t.RevokedAt != nil && t.ReplacedBy != nil
}
