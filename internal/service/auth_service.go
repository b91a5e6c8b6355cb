package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
)

// ClientInfo is the request origin recorded with tokens and audit events.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type LoginInput struct {
	Username string
	Password string
	// RememberDevice nil keeps the device's current trust flag.
	RememberDevice *bool
	DeviceID       string
	Client         ClientInfo
}

type VerifyOTPInput struct {
	OTPID          string
	Code           string
	RememberDevice *bool
	DeviceID       string
	Client         ClientInfo
}

// Session is a completed authentication: a token pair plus, when the store
// accepted it, a server-side session.
type Session struct {
	User      *domain.User
	Tokens    *TokenPair
	SessionID string
	// SessionExpiresAt is zero when no server session was created.
	SessionExpiresAt time.Time
}

// PendingChallenge is returned instead of a Session when step-up is needed.
type PendingChallenge struct {
	OTPID       string
	MaskedEmail string
	ExpiresAt   time.Time
}

type LoginResult struct {
	Session *Session
	Pending *PendingChallenge
}

type AuthConfig struct {
	SessionTTL time.Duration
}

type AuthService struct {
	users    repository.UserRepository
	hasher   *security.PasswordHasher
	keyed    *security.KeyedHasher
	devices  *DeviceService
	anomaly  *AnomalyDetector
	otp      *OTPService
	tokens   *TokenService
	audit    *AuditService
	sessions SessionStore
	guard    AuthAbuseGuard
	cfg      AuthConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuthService(
	users repository.UserRepository,
	hasher *security.PasswordHasher,
	keyed *security.KeyedHasher,
	devices *DeviceService,
	anomaly *AnomalyDetector,
	otp *OTPService,
	tokens *TokenService,
	audit *AuditService,
	sessions SessionStore,
	guard AuthAbuseGuard,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		hasher:   hasher,
		keyed:    keyed,
		devices:  devices,
		anomaly:  anomaly,
		otp:      otp,
		tokens:   tokens,
		audit:    audit,
		sessions: sessions,
		guard:    guard,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	deviceHash := s.keyed.HashDevice(in.DeviceID)
	country := s.anomaly.ResolveCountry(in.Client.IP)

	if err := s.checkAbuse(ctx, AuthAbuseScopeLogin, in.Username, in.Client.IP); err != nil {
		observability.RecordAuthLogin(ctx, "throttled")
		return nil, err
	}

	user, err := s.users.FindByUsername(ctx, in.Username)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthLogin(ctx, "error")
			return nil, fmt.Errorf("load user: %w", err)
		}
		s.hasher.BurnCheck(in.Password)
		s.record(ctx, nil, deviceHash, country, in.Client, false, domain.ReasonInvalidCredentials)
		s.registerAbuse(ctx, AuthAbuseScopeLogin, in.Username, in.Client.IP)
		observability.RecordAuthLogin(ctx, domain.ReasonInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	verdict := s.hasher.Verify(in.Password, user.Password)
	if !verdict.Valid {
		s.record(ctx, &user.ID, deviceHash, country, in.Client, false, domain.ReasonInvalidCredentials)
		s.registerAbuse(ctx, AuthAbuseScopeLogin, in.Username, in.Client.IP)
		observability.RecordAuthLogin(ctx, domain.ReasonInvalidCredentials)
		return nil, ErrInvalidCredentials
	}
	s.resetAbuse(ctx, AuthAbuseScopeLogin, in.Username)
	if verdict.NeedsUpgrade {
		s.upgradeCredential(ctx, user, in.Password)
	}

	email, deliverable := user.DeliverableEmail()
	if !deliverable {
		s.logger.WarnContext(ctx, "step-up skipped: user has no deliverable email", "user_id", user.ID)
	} else {
		step := StepUpInput{
			RequireEmailOTP: user.RequireEmailOTP,
			DeviceHash:      deviceHash,
			CurrentCountry:  country,
		}
		if deviceHash != nil {
			if step.Device, err = s.devices.Lookup(ctx, user.ID, *deviceHash); err != nil {
				observability.RecordAuthLogin(ctx, "error")
				return nil, fmt.Errorf("lookup device: %w", err)
			}
		}
		if step.LastSuccessCountry, err = s.anomaly.LastSuccessfulCountry(ctx, user.ID); err != nil {
			observability.RecordAuthLogin(ctx, "error")
			return nil, fmt.Errorf("last successful country: %w", err)
		}
		if reason := stepUpReason(step); reason != "" {
			challenge, err := s.otp.Issue(ctx, user.ID, email, deviceHash, in.Client.IP, country)
			if err != nil {
				observability.RecordAuthLogin(ctx, "error")
				return nil, err
			}
			s.logger.InfoContext(ctx, "step-up required", "user_id", user.ID, "reason", reason, "otp_id", challenge.ID)
			s.record(ctx, &user.ID, deviceHash, country, in.Client, false, domain.ReasonOTPRequired)
			observability.RecordAuthLogin(ctx, domain.ReasonOTPRequired)
			return &LoginResult{Pending: &PendingChallenge{
				OTPID:       challenge.ID,
				MaskedEmail: MaskEmail(email),
				ExpiresAt:   challenge.ExpiresAt,
			}}, nil
		}
	}

	sess, err := s.complete(ctx, user, deviceHash, in.RememberDevice, country, in.Client, domain.ReasonLoginSuccess)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}
	observability.RecordAuthLogin(ctx, domain.ReasonLoginSuccess)
	return &LoginResult{Session: sess}, nil
}

// VerifyOTP completes a pending login. Every failure is the same
// ErrInvalidOrExpiredOTP whether the id, the code or the timing was wrong.
func (s *AuthService) VerifyOTP(ctx context.Context, in VerifyOTPInput) (*Session, error) {
	country := s.anomaly.ResolveCountry(in.Client.IP)
	deviceHash := s.keyed.HashDevice(in.DeviceID)

	if err := s.checkAbuse(ctx, AuthAbuseScopeOTP, "", in.Client.IP); err != nil {
		observability.RecordOTPVerification(ctx, "throttled")
		return nil, err
	}

	rec, ok, err := s.otp.Consume(ctx, in.OTPID, in.Code)
	if err != nil {
		observability.RecordOTPVerification(ctx, "error")
		return nil, fmt.Errorf("consume otp: %w", err)
	}
	if !ok {
		var userID *uint
		if rec != nil {
			userID = &rec.UserID
		}
		s.record(ctx, userID, deviceHash, country, in.Client, false, domain.ReasonInvalidOTP)
		s.registerAbuse(ctx, AuthAbuseScopeOTP, "", in.Client.IP)
		observability.RecordOTPVerification(ctx, domain.ReasonInvalidOTP)
		return nil, ErrInvalidOrExpiredOTP
	}

	user, err := s.users.FindByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.record(ctx, &rec.UserID, deviceHash, country, in.Client, false, domain.ReasonInvalidOTP)
			observability.RecordOTPVerification(ctx, domain.ReasonInvalidOTP)
			return nil, ErrInvalidOrExpiredOTP
		}
		observability.RecordOTPVerification(ctx, "error")
		return nil, fmt.Errorf("load user: %w", err)
	}
	if deviceHash == nil {
		deviceHash = rec.DeviceHash
	}

	sess, err := s.complete(ctx, user, deviceHash, in.RememberDevice, country, in.Client, domain.ReasonOTPSuccess)
	if err != nil {
		observability.RecordOTPVerification(ctx, "error")
		return nil, err
	}
	observability.RecordOTPVerification(ctx, domain.ReasonOTPSuccess)
	return sess, nil
}

// Refresh rotates the presented refresh token. Every failure is
// ErrUnauthorized to the caller.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*TokenPair, error) {
	pair, err := s.tokens.Rotate(ctx, refreshToken, IssueMeta{
		IP:        client.IP,
		Country:   s.anomaly.ResolveCountry(client.IP),
		UserAgent: client.UserAgent,
	})
	if err == nil {
		observability.RecordAuthRefresh(ctx, "success")
		return pair, nil
	}

	var reuse *ReuseDetectedError
	switch {
	case errors.As(err, &reuse):
		observability.RecordAuthRefresh(ctx, "reuse_detected")
		if derr := s.sessions.DeleteAllForUser(ctx, reuse.UserID); derr != nil {
			s.logger.WarnContext(ctx, "server session cleanup after reuse failed", "user_id", reuse.UserID, "error", derr)
		}
	case errors.Is(err, ErrInvalidRefreshToken):
		observability.RecordAuthRefresh(ctx, "invalid")
	default:
		observability.RecordAuthRefresh(ctx, "error")
		s.logger.ErrorContext(ctx, "refresh failed", "error", err)
	}
	return nil, ErrUnauthorized
}

// Logout is best-effort: an unknown token or session is not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken, sessionID string) {
	status := "success"
	if refreshToken != "" {
		if err := s.tokens.RevokeByToken(ctx, refreshToken); err != nil {
			status = "partial"
			s.logger.WarnContext(ctx, "refresh token revocation failed during logout", "error", err)
		}
	}
	if sessionID != "" {
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			status = "partial"
			s.logger.WarnContext(ctx, "server session delete failed during logout", "error", err)
		}
	}
	observability.RecordAuthLogout(ctx, status)
}

func (s *AuthService) CurrentUser(ctx context.Context, userID uint) (*domain.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// complete is the shared tail of a successful login: device upsert, token
// pair, server session, then the audit event.
func (s *AuthService) complete(ctx context.Context, user *domain.User, deviceHash *string, remember *bool, country *string, client ClientInfo, reason string) (*Session, error) {
	if deviceHash != nil {
		if _, err := s.devices.Upsert(ctx, user.ID, *deviceHash, remember, nil); err != nil {
			return nil, fmt.Errorf("upsert device: %w", err)
		}
	}
	pair, err := s.tokens.Issue(ctx, user.ID, IssueMeta{
		DeviceHash: deviceHash,
		IP:         client.IP,
		Country:    country,
		UserAgent:  client.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	sess := &Session{User: user, Tokens: pair}
	if id, expiresAt, err := s.openServerSession(ctx, pair); err != nil {
		s.logger.WarnContext(ctx, "server session not created; bearer only", "user_id", user.ID, "error", err)
	} else {
		sess.SessionID, sess.SessionExpiresAt = id, expiresAt
	}
	s.record(ctx, &user.ID, deviceHash, country, client, true, reason)
	return sess, nil
}

func (s *AuthService) openServerSession(ctx context.Context, pair *TokenPair) (string, time.Time, error) {
	if s.sessions == nil || s.cfg.SessionTTL <= 0 {
		return "", time.Time{}, errors.New("server sessions disabled")
	}
	id, err := security.NewSessionID()
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now()
	expiresAt := now.Add(s.cfg.SessionTTL)
	if expiresAt.After(pair.RefreshExpiresAt) {
		expiresAt = pair.RefreshExpiresAt
	}
	err = s.sessions.Create(ctx, ServerSession{
		ID:             id,
		UserID:         pair.UserID,
		RefreshTokenID: pair.RefreshTokenID,
		FamilyID:       pair.FamilyID,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return id, expiresAt, nil
}

// The abuse guard fails open: a store error is logged and the attempt goes
// through to the normal checks.
func (s *AuthService) checkAbuse(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	if s.guard == nil {
		return nil
	}
	wait, err := s.guard.Check(ctx, scope, identity, ip)
	if err != nil {
		s.logger.WarnContext(ctx, "abuse guard check failed", "scope", scope, "error", err)
		return nil
	}
	if wait > 0 {
		s.logger.InfoContext(ctx, "attempt throttled", "scope", scope, "ip", ip, "retry_after", wait)
		return &TooManyAttemptsError{RetryAfter: wait}
	}
	return nil
}

func (s *AuthService) registerAbuse(ctx context.Context, scope AuthAbuseScope, identity, ip string) {
	if s.guard == nil {
		return
	}
	if _, err := s.guard.RegisterFailure(ctx, scope, identity, ip); err != nil {
		s.logger.WarnContext(ctx, "abuse guard register failed", "scope", scope, "error", err)
	}
}

// resetAbuse clears only the identity counter. The IP counter keeps running
// so one good login cannot wash out failures against other accounts.
func (s *AuthService) resetAbuse(ctx context.Context, scope AuthAbuseScope, identity string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Reset(ctx, scope, identity, ""); err != nil {
		s.logger.WarnContext(ctx, "abuse guard reset failed", "scope", scope, "error", err)
	}
}

func (s *AuthService) upgradeCredential(ctx context.Context, user *domain.User, password string) {
	cred, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdateCredential(ctx, user.ID, cred)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "legacy credential upgrade failed", "user_id", user.ID, "error", err)
		return
	}
	user.Password = cred
	s.logger.InfoContext(ctx, "legacy credential upgraded", "user_id", user.ID)
}

func (s *AuthService) record(ctx context.Context, userID *uint, deviceHash, country *string, client ClientInfo, success bool, reason string) {
	s.audit.Record(ctx, domain.LoginEvent{
		UserID:     userID,
		DeviceHash: deviceHash,
		IP:         client.IP,
		Country:    country,
		UserAgent:  truncate(client.UserAgent, 512),
		Success:    success,
		Reason:     reason,
		CreatedAt:  s.now(),
	})
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	local, domainPart := email[:at], email[at+1:]
	if len(local) == 1 {
		return "*@" + domainPart
	}
	return local[:1] + strings.Repeat("*", min(len(local)-1, 5)) + "@" + domainPart
}
