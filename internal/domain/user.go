package domain

import (
	"strings"
	"time"
)

type CredentialKind string

const (
	CredentialLegacyPlaintext CredentialKind = "legacy-plaintext"
	CredentialHashed          CredentialKind = "hashed"
)

// Credential is the stored password representation. Kind selects the
// verification branch; Value is never serialized.
type Credential struct {
	Kind  CredentialKind `gorm:"size:32;not null" json:"-"`
	Value string         `gorm:"size:1024;not null" json:"-"`
}

func LegacyPlaintext(v string) Credential {
	return Credential{Kind: CredentialLegacyPlaintext, Value: v}
}

func Hashed(v string) Credential {
	return Credential{Kind: CredentialHashed, Value: v}
}

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type User struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Username        string     `gorm:"size:128;not null" json:"username"`
	UsernameKey     string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	Password        Credential `gorm:"embedded;embeddedPrefix:password_" json:"-"`
	Email           *string    `gorm:"size:320" json:"email,omitempty"`
	Role            string     `gorm:"size:32;not null;default:member" json:"role"`
	Organization    string     `gorm:"size:128" json:"organization,omitempty"`
	RequireEmailOTP bool       `gorm:"not null;default:false" json:"require_email_otp"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NormalizeUsername is the case-insensitive comparison key for usernames.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// DeliverableEmail returns the address step-up codes can be sent to.
func (u *User) DeliverableEmail() (string, bool) {
	if u == nil || u.Email == nil {
		return "", false
	}
	email := strings.TrimSpace(*u.Email)
	if email == "" || !strings.Contains(email, "@") {
		return "", false
	}
	return email, true
}
