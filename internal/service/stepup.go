package service

import "github.com/sandeepkv93/session-security-engine/internal/domain"

type StepUpInput struct {
	RequireEmailOTP bool
	// DeviceHash is nil when the client sent no device identifier.
	DeviceHash *string
	// Device is the stored trust record, nil when unknown.
	Device             *domain.Device
	LastSuccessCountry *string
	CurrentCountry     *string
}

// RequiresOTP reports whether a password login must be stepped up with an
// email code.
func RequiresOTP(in StepUpInput) bool {
	return stepUpReason(in) != ""
}

func stepUpReason(in StepUpInput) string {
	switch {
	case in.RequireEmailOTP:
		return "user_policy"
	case in.DeviceHash == nil:
		return "no_device"
	case in.Device == nil:
		return "unknown_device"
	case !in.Device.Trusted:
		return "untrusted_device"
	case in.LastSuccessCountry != nil && in.CurrentCountry != nil && *in.LastSuccessCountry != *in.CurrentCountry:
		return "country_changed"
	default:
		return ""
	}
}
