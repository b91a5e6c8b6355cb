package service

import (
	"errors"
	"fmt"
	"time"
)

// Client-facing failures. Specific reasons only reach the login audit log.
var (
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrInvalidOrExpiredOTP = errors.New("Invalid or expired code") //nolint:staticcheck // shown verbatim to clients
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// ErrRefreshTokenReuseDetected matches ErrInvalidRefreshToken as well.
var ErrRefreshTokenReuseDetected = fmt.Errorf("%w: reuse detected", ErrInvalidRefreshToken)

// ReuseDetectedError reports a replayed, already rotated refresh token. The
// whole family has been revoked by the time it is returned.
type ReuseDetectedError struct {
	UserID   uint
	FamilyID string
}

func (e *ReuseDetectedError) Error() string {
	return fmt.Sprintf("refresh token reuse detected for user %d", e.UserID)
}

func (e *ReuseDetectedError) Unwrap() error { return ErrRefreshTokenReuseDetected }

// ErrTooManyAttempts is returned while an abuse cooldown is active.
var ErrTooManyAttempts = errors.New("too many attempts")

type TooManyAttemptsError struct {
	RetryAfter time.Duration
}

func (e *TooManyAttemptsError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *TooManyAttemptsError) Unwrap() error { return ErrTooManyAttempts }
