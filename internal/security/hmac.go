package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Hash purposes keep digests of different secrets from colliding.
const (
	PurposeRefreshToken = "refresh_token"
	PurposeDevice       = "device"
	PurposeOTP          = "email_otp"
)

// KeyedHasher computes HMAC-SHA256 digests of secrets before they are
// persisted. The raw values never reach storage.
type KeyedHasher struct {
	key []byte
}

func NewKeyedHasher(secret string) *KeyedHasher {
	return &KeyedHasher{key: []byte(secret)}
}

func (h *KeyedHasher) Hash(purpose, value string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares the digest of value against stored in constant time.
func (h *KeyedHasher) Equal(purpose, value, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(h.Hash(purpose, value)), []byte(stored)) == 1
}

func (h *KeyedHasher) HashRefreshToken(token string) string {
	return h.Hash(PurposeRefreshToken, token)
}

// HashDevice returns nil when no device identifier was supplied.
func (h *KeyedHasher) HashDevice(deviceID string) *string {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil
	}
	v := h.Hash(PurposeDevice, deviceID)
	return &v
}
