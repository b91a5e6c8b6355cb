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
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
)

// IssueMeta is the request origin captured on each refresh token record.
type IssueMeta struct {
	DeviceHash *string
	IP         string
	Country    *string
	UserAgent  string
}

type TokenPair struct {
	UserID           uint
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	RefreshTokenID   uint
	FamilyID         string
}

type TokenService struct {
	jwtMgr     *security.JWTManager
	repo       repository.RefreshTokenRepository
	hasher     *security.KeyedHasher
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewTokenService(jwtMgr *security.JWTManager, repo repository.RefreshTokenRepository, hasher *security.KeyedHasher, accessTTL, refreshTTL time.Duration, logger *slog.Logger) *TokenService {
	return &TokenService{
		jwtMgr:     jwtMgr,
		repo:       repo,
		hasher:     hasher,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Issue starts a new refresh family for a fresh login.
func (s *TokenService) Issue(ctx context.Context, userID uint, meta IssueMeta) (*TokenPair, error) {
	raw, rec, err := s.newRecord(userID, uuid.NewString(), meta)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return s.pair(rec, raw)
}

// Rotate exchanges a presented refresh token for a new pair in the same
// family. Replaying a token that was already rotated revokes the family.
func (s *TokenService) Rotate(ctx context.Context, presented string, meta IssueMeta) (*TokenPair, error) {
	presented = strings.TrimSpace(presented)
	if len(presented) != security.RefreshTokenLength {
		return nil, ErrInvalidRefreshToken
	}
	current, err := s.repo.FindByHash(ctx, s.hasher.HashRefreshToken(presented))
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	now := s.now()
	if current.Rotated() {
		n, err := s.repo.RevokeFamily(ctx, current.FamilyID, domain.RevokedReasonReuseDetected, now)
		if err != nil {
			return nil, fmt.Errorf("revoke family after reuse: %w", err)
		}
		s.logger.WarnContext(ctx, "refresh token reuse detected; family revoked",
			"user_id", current.UserID,
			"refresh_token_id", current.ID,
			"revoked", n,
		)
		return nil, &ReuseDetectedError{UserID: current.UserID, FamilyID: current.FamilyID}
	}
	if !current.Active(now) {
		return nil, ErrInvalidRefreshToken
	}

	if meta.DeviceHash == nil {
		meta.DeviceHash = current.DeviceHash
	}
	raw, next, err := s.newRecord(current.UserID, current.FamilyID, meta)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Rotate(ctx, current.ID, next, now); err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotActive) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	return s.pair(next, raw)
}

// Revoke terminates one record without touching its replacement pointer.
func (s *TokenService) Revoke(ctx context.Context, tokenID uint, reason string) error {
	_, err := s.repo.RevokeByID(ctx, tokenID, reason, s.now())
	return err
}

// RevokeByToken is the logout path; unknown tokens are not an error.
func (s *TokenService) RevokeByToken(ctx context.Context, presented string) error {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return nil
	}
	rec, err := s.repo.FindByHash(ctx, s.hasher.HashRefreshToken(presented))
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil
		}
		return err
	}
	return s.Revoke(ctx, rec.ID, domain.RevokedReasonLogout)
}

func (s *TokenService) RevokeAllForUser(ctx context.Context, userID uint, reason string) (int64, error) {
	return s.repo.RevokeAllForUser(ctx, userID, reason, s.now())
}

func (s *TokenService) ListActive(ctx context.Context, userID uint) ([]domain.RefreshToken, error) {
	return s.repo.ListActiveByUser(ctx, userID, s.now())
}

// CleanupExpired deletes records that expired before the cutoff.
func (s *TokenService) CleanupExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.CleanupExpired(ctx, before)
}

// ValidateAccessToken never panics; any problem is ErrUnauthorized.
func (s *TokenService) ValidateAccessToken(ctx context.Context, raw string) (*security.Claims, error) {
	claims, err := s.jwtMgr.ParseAccessToken(raw)
	if err != nil {
		observability.RecordAccessTokenValidation(ctx, "bearer", "invalid")
		return nil, ErrUnauthorized
	}
	observability.RecordAccessTokenValidation(ctx, "bearer", "valid")
	return claims, nil
}

func (s *TokenService) newRecord(userID uint, familyID string, meta IssueMeta) (string, *domain.RefreshToken, error) {
	raw, err := security.NewRefreshToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate refresh token: %w", err)
	}
	now := s.now()
	return raw, &domain.RefreshToken{
		TokenHash:  s.hasher.HashRefreshToken(raw),
		UserID:     userID,
		FamilyID:   familyID,
		DeviceHash: meta.DeviceHash,
		IP:         meta.IP,
		Country:    meta.Country,
		UserAgent:  truncate(meta.UserAgent, 512),
		ExpiresAt:  now.Add(s.refreshTTL),
		CreatedAt:  now,
	}, nil
}

func (s *TokenService) pair(rec *domain.RefreshToken, raw string) (*TokenPair, error) {
	access, accessExp, err := s.jwtMgr.SignAccessToken(rec.UserID, rec.ID, rec.FamilyID, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &TokenPair{
		UserID:           rec.UserID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: rec.ExpiresAt,
		RefreshTokenID:   rec.ID,
		FamilyID:         rec.FamilyID,
	}, nil
}

func truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return v[:n]
}
