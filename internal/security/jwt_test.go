package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestJWTManager() *JWTManager {
	return NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
}

func TestSignAndParseAccessToken(t *testing.T) {
	m := newTestJWTManager()
	token, exp, err := m.SignAccessToken(42, 7, "fam-1", 15*time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if time.Until(exp) <= 14*time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}
	claims, err := m.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	uid, err := claims.UserID()
	if err != nil || uid != 42 {
		t.Fatalf("expected subject 42, got %d (%v)", uid, err)
	}
	if claims.RefreshTokenID != 7 || claims.FamilyID != "fam-1" {
		t.Fatalf("unexpected chain claims: %+v", claims)
	}
}

func TestParseAccessTokenFailsClosed(t *testing.T) {
	m := newTestJWTManager()
	expired, _, err := m.SignAccessToken(1, 1, "f", -time.Minute)
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	other := NewJWTManager("iss", "aud", "a-completely-different-secret-value")
	foreign, _, err := other.SignAccessToken(1, 1, "f", time.Minute)
	if err != nil {
		t.Fatalf("sign foreign: %v", err)
	}
	wrongType, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "iss",
			Subject:   "1",
			Audience:  []string{"aud"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte("abcdefghijklmnopqrstuvwxyz123456"))
	if err != nil {
		t.Fatalf("sign wrong type: %v", err)
	}

	cases := map[string]string{
		"garbage":    "not-a-jwt",
		"empty":      "",
		"expired":    expired,
		"signature":  foreign,
		"token type": wrongType,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := m.ParseAccessToken(raw); err != ErrInvalidToken {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
