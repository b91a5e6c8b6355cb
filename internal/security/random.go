package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	refreshTokenBytes = 64
	otpDigits         = 6

	// RefreshTokenLength is the length of the hex-encoded refresh token.
	RefreshTokenLength = refreshTokenBytes * 2
)

func NewRefreshToken() (string, error) {
	return randomHex(refreshTokenBytes)
}

func NewSessionID() (string, error) {
	return randomHex(32)
}

// NewOTPCode returns a zero-padded 6-digit code drawn uniformly from
// crypto/rand.
func NewOTPCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
