package domain

import "time"

const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonOTPRequired        = "otp_required"
	ReasonLoginSuccess       = "login_success"
	ReasonOTPSuccess         = "otp_success"
	ReasonInvalidOTP         = "invalid_otp"
)

// LoginEvent is one row of the append-only login audit trail.
type LoginEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     *uint     `gorm:"index" json:"user_id,omitempty"`
	DeviceHash *string   `gorm:"size:128" json:"-"`
	IP         string    `gorm:"size:64" json:"ip"`
	Country    *string   `gorm:"size:2" json:"country,omitempty"`
	UserAgent  string    `gorm:"size:512" json:"user_agent"`
	Success    bool      `gorm:"index;not null" json:"success"`
	Reason     string    `gorm:"size:64;not null" json:"reason"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// Models lists every table owned by the session authority.
func Models() []any {
	return []any{&User{}, &RefreshToken{}, &EmailOTP{}, &Device{}, &LoginEvent{}}
}
