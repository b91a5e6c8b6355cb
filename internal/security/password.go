package security

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
)

var ErrEmptyPassword = errors.New("password is required")

type PasswordHasher struct {
	Cost int

	dummyOnce sync.Once
	dummy     []byte
	compares  atomic.Uint64
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &PasswordHasher{Cost: cost}
}

func (h *PasswordHasher) Hash(password string) (domain.Credential, error) {
	if password == "" {
		return domain.Credential{}, ErrEmptyPassword
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return domain.Credential{}, err
	}
	return domain.Hashed(string(b)), nil
}

// VerifyResult is the outcome of checking a submitted password.
type VerifyResult struct {
	Valid        bool
	NeedsUpgrade bool
}

// VerifyPassword checks submitted against the stored credential. Legacy
// plaintext credentials match by trimmed equality and request an upgrade.
func VerifyPassword(submitted string, stored domain.Credential) VerifyResult {
	switch stored.Kind {
	case domain.CredentialLegacyPlaintext:
		want := strings.TrimSpace(stored.Value)
		if want == "" {
			return VerifyResult{}
		}
		if strings.TrimSpace(submitted) == want {
			return VerifyResult{Valid: true, NeedsUpgrade: true}
		}
		return VerifyResult{}
	case domain.CredentialHashed:
		if err := bcrypt.CompareHashAndPassword([]byte(stored.Value), []byte(submitted)); err != nil {
			return VerifyResult{}
		}
		return VerifyResult{Valid: true}
	default:
		return VerifyResult{}
	}
}

// Verify is VerifyPassword with equal failure cost: a rejected credential
// that never reached bcrypt (legacy plaintext, unknown kind) pays a burn
// comparison so every failure costs one bcrypt compare.
func (h *PasswordHasher) Verify(submitted string, stored domain.Credential) VerifyResult {
	res := VerifyPassword(submitted, stored)
	switch {
	case stored.Kind == domain.CredentialHashed:
		h.compares.Add(1)
	case !res.Valid:
		h.BurnCheck(submitted)
	}
	return res
}

// BurnCheck runs a throwaway comparison at the configured cost so the
// unknown-user path costs the same as a wrong password.
func (h *PasswordHasher) BurnCheck(submitted string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("unknown-user-placeholder"), h.Cost)
	})
	h.compares.Add(1)
	if len(h.dummy) == 0 {
		return
	}
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(submitted))
}

// Compares reports how many bcrypt comparisons Verify and BurnCheck ran.
func (h *PasswordHasher) Compares() uint64 { return h.compares.Load() }
