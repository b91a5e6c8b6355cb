package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/mail"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
)

type OTPChallenge struct {
	ID        string
	ExpiresAt time.Time
}

type OTPService struct {
	repo        repository.EmailOTPRepository
	hasher      *security.KeyedHasher
	sender      mail.Sender
	ttl         time.Duration
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
	newCode     func() (string, error)
}

func NewOTPService(repo repository.EmailOTPRepository, hasher *security.KeyedHasher, sender mail.Sender, ttl time.Duration, maxAttempts int, logger *slog.Logger) *OTPService {
	return &OTPService{
		repo:        repo,
		hasher:      hasher,
		sender:      sender,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		newCode:     security.NewOTPCode,
	}
}

// Issue stores the keyed hash of a fresh code and hands the plaintext to the
// sender. A delivery failure is logged; the challenge is still returned.
func (s *OTPService) Issue(ctx context.Context, userID uint, email string, deviceHash *string, ip string, country *string) (*OTPChallenge, error) {
	code, err := s.newCode()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	now := s.now()
	rec := &domain.EmailOTP{
		ID:         uuid.NewString(),
		UserID:     userID,
		DeviceHash: deviceHash,
		IP:         ip,
		Country:    country,
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
	}
	rec.CodeHash = s.codeHash(rec.ID, code)
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}
	if err := s.sender.SendLoginCode(ctx, email, code, rec.ExpiresAt); err != nil {
		s.logger.ErrorContext(ctx, "login code delivery failed", "otp_id", rec.ID, "user_id", userID, "error", err)
	}
	return &OTPChallenge{ID: rec.ID, ExpiresAt: rec.ExpiresAt}, nil
}

// Consume accepts a code at most once and only before expiry. Missing,
// consumed, expired and exhausted challenges all fail the same way. The
// record is returned whenever it exists so callers can attribute failures.
func (s *OTPService) Consume(ctx context.Context, otpID, code string) (*domain.EmailOTP, bool, error) {
	otpID = strings.TrimSpace(otpID)
	code = strings.TrimSpace(code)
	if otpID == "" || code == "" {
		return nil, false, nil
	}
	if _, err := uuid.Parse(otpID); err != nil {
		return nil, false, nil
	}
	rec, err := s.repo.FindByID(ctx, otpID)
	if err != nil {
		if errors.Is(err, repository.ErrOTPNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	now := s.now()
	if !rec.Consumable(now, s.maxAttempts) {
		return rec, false, nil
	}
	if !s.hasher.Equal(security.PurposeOTP, otpID+":"+code, rec.CodeHash) {
		if err := s.repo.IncrementAttempts(ctx, otpID, now); err != nil {
			return rec, false, err
		}
		return rec, false, nil
	}
	ok, err := s.repo.MarkConsumed(ctx, otpID, now, s.maxAttempts)
	if err != nil {
		return rec, false, err
	}
	if ok {
		rec.ConsumedAt = &now
	}
	return rec, ok, nil
}

func (s *OTPService) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.DeleteExpired(ctx, before)
}

func (s *OTPService) codeHash(otpID, code string) string {
	return s.hasher.Hash(security.PurposeOTP, otpID+":"+code)
}
