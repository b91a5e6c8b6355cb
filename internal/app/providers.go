package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/sandeepkv93/session-security-engine/internal/config"
	"github.com/sandeepkv93/session-security-engine/internal/geo"
	"github.com/sandeepkv93/session-security-engine/internal/health"
	"github.com/sandeepkv93/session-security-engine/internal/http/handler"
	"github.com/sandeepkv93/session-security-engine/internal/http/middleware"
	"github.com/sandeepkv93/session-security-engine/internal/http/router"
	"github.com/sandeepkv93/session-security-engine/internal/mail"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/security"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

const (
	redisSessionPrefix = "sse:session"
	redisAbusePrefix   = "sse:abuse"
	redisLimiterPrefix = "sse:rl"
)

var infraSet = wire.NewSet(
	provideDB,
	provideRedis,
	provideGeo,
	provideMailSender,
)

var repositorySet = wire.NewSet(
	repository.NewUserRepository,
	repository.NewRefreshTokenRepository,
	repository.NewEmailOTPRepository,
	repository.NewDeviceRepository,
	repository.NewLoginEventRepository,
)

var securitySet = wire.NewSet(
	providePasswordHasher,
	provideKeyedHasher,
	provideJWTManager,
	provideCookieSigner,
)

var serviceSet = wire.NewSet(
	provideTokenService,
	provideOTPService,
	provideAuditService,
	provideSessionStore,
	service.NewDeviceService,
	service.NewAnomalyDetector,
	service.NewUserService,
	provideJanitor,
)

var httpSet = wire.NewSet(
	provideAbuseGuard,
	provideAuthService,
	providePrincipalResolver,
	provideGlobalRateLimiter,
	provideAuthRateLimiter,
	provideReadiness,
	provideRouterDependencies,
	provideHTTPHandler,
	provideHTTPServer,
	provideObservability,
	New,
)

func provideDB(ctx context.Context, cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := repository.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := repository.Ping(ctx, db); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return db, cleanup, nil
}

// provideRedis returns a nil client when REDIS_ADDR is unset; consumers fall
// back to in-process implementations.
func provideRedis(ctx context.Context, cfg *config.Config) (redis.UniversalClient, func(), error) {
	if !cfg.RedisEnabled() {
		return nil, func() {}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func provideGeo(cfg *config.Config, logger *slog.Logger) (geo.Resolver, func()) {
	resolver, closeFn := geo.New(cfg.GeoIPDBPath, logger)
	return resolver, func() { _ = closeFn() }
}

func provideMailSender(cfg *config.Config, logger *slog.Logger) (mail.Sender, error) {
	if !cfg.SMTPEnabled() {
		logger.Warn("SMTP not configured; login codes will only be logged")
		return mail.LogSender{Logger: logger}, nil
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

func providePasswordHasher(cfg *config.Config) *security.PasswordHasher {
	return security.NewPasswordHasher(cfg.BcryptCost)
}

func provideKeyedHasher(cfg *config.Config) *security.KeyedHasher {
	return security.NewKeyedHasher(cfg.TokenHashSecret)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

func provideCookieSigner(cfg *config.Config) *security.CookieSigner {
	return security.NewCookieSigner(cfg.SessionSecret)
}

func provideTokenService(cfg *config.Config, jwtMgr *security.JWTManager, repo repository.RefreshTokenRepository, hasher *security.KeyedHasher, logger *slog.Logger) *service.TokenService {
	return service.NewTokenService(jwtMgr, repo, hasher, cfg.AccessTTL, cfg.RefreshTTL, logger)
}

func provideOTPService(cfg *config.Config, repo repository.EmailOTPRepository, hasher *security.KeyedHasher, sender mail.Sender, logger *slog.Logger) *service.OTPService {
	return service.NewOTPService(repo, hasher, sender, cfg.OTPTTL, cfg.OTPMaxAttempts, logger)
}

func provideAuditService(cfg *config.Config, repo repository.LoginEventRepository, logger *slog.Logger) (*service.AuditService, func()) {
	audit := service.NewAuditService(repo, cfg.AuditBufferSize, logger)
	return audit, audit.Close
}

func provideSessionStore(client redis.UniversalClient) service.SessionStore {
	if client == nil {
		return service.NewMemorySessionStore()
	}
	return service.NewRedisSessionStore(client, redisSessionPrefix)
}

func provideAbuseGuard(client redis.UniversalClient) service.AuthAbuseGuard {
	policy := service.AuthAbusePolicy{}
	if client == nil {
		return service.NewLocalAuthAbuseGuard(policy)
	}
	return service.NewRedisAuthAbuseGuard(client, redisAbusePrefix, policy)
}

func provideJanitor(cfg *config.Config, tokens *service.TokenService, otp *service.OTPService, sessions service.SessionStore, guard service.AuthAbuseGuard, logger *slog.Logger) *Janitor {
	var sweepers []service.Sweeper
	for _, c := range []any{sessions, guard} {
		if sw, ok := c.(service.Sweeper); ok {
			sweepers = append(sweepers, sw)
		}
	}
	return NewJanitor(tokens, otp, cfg.RefreshTokenRetention, logger, sweepers...)
}

func provideAuthService(
	cfg *config.Config,
	users repository.UserRepository,
	hasher *security.PasswordHasher,
	keyed *security.KeyedHasher,
	devices *service.DeviceService,
	anomaly *service.AnomalyDetector,
	otp *service.OTPService,
	tokens *service.TokenService,
	audit *service.AuditService,
	sessions service.SessionStore,
	guard service.AuthAbuseGuard,
	logger *slog.Logger,
) *service.AuthService {
	return service.NewAuthService(users, hasher, keyed, devices, anomaly, otp, tokens, audit, sessions, guard,
		service.AuthConfig{SessionTTL: cfg.SessionTTL}, logger)
}

func providePrincipalResolver(sessions service.SessionStore, signer *security.CookieSigner, tokens *service.TokenService, logger *slog.Logger) *service.PrincipalResolver {
	return service.NewPrincipalResolver(
		service.SessionStrategy{Store: sessions, Signer: signer, Logger: logger},
		service.BearerStrategy{Tokens: tokens},
	)
}

func newLimiter(client redis.UniversalClient) middleware.Limiter {
	if client == nil {
		return middleware.NewLocalFixedWindowLimiter()
	}
	return middleware.NewRedisFixedWindowLimiter(client, redisLimiterPrefix)
}

func provideGlobalRateLimiter(cfg *config.Config, client redis.UniversalClient, tokens *service.TokenService) router.GlobalRateLimiterFunc {
	return middleware.NewSharedRateLimiter(
		newLimiter(client), middleware.RateLimitPolicy{Limit: cfg.APIRateLimitRPM, Window: time.Minute},
		middleware.FailOpen, "api", middleware.SubjectOrIPKeyFunc(tokens),
	).Middleware()
}

func provideAuthRateLimiter(cfg *config.Config, client redis.UniversalClient) router.AuthRateLimiterFunc {
	return middleware.NewSharedRateLimiter(
		newLimiter(client), middleware.RateLimitPolicy{Limit: cfg.AuthRateLimitRPM, Window: time.Minute},
		middleware.FailClosed, "auth", nil,
	).Middleware()
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.DBChecker(db)}
	if client != nil {
		checkers = append(checkers, health.RedisChecker(client))
	}
	return health.NewProbeRunner(2*time.Second, 2*time.Second, checkers...)
}

func provideRouterDependencies(
	cfg *config.Config,
	auth *service.AuthService,
	users *service.UserService,
	devices *service.DeviceService,
	audit *service.AuditService,
	resolver *service.PrincipalResolver,
	signer *security.CookieSigner,
	global router.GlobalRateLimiterFunc,
	authLimiter router.AuthRateLimiterFunc,
	readiness *health.ProbeRunner,
) router.Dependencies {
	cookies := security.CookieOptions{Path: cfg.APIBasePath, Secure: cfg.IsProduction()}
	return router.Dependencies{
		AuthHandler:       handler.NewAuthHandler(auth, signer, cookies),
		UserHandler:       handler.NewUserHandler(devices),
		AdminHandler:      handler.NewAdminHandler(audit, users),
		Resolver:          resolver,
		Users:             auth,
		BasePath:          cfg.APIBasePath,
		CORSOrigins:       cfg.CORSOrigins,
		TrustedProxies:    cfg.TrustedProxyPrefixes(),
		AuthRateLimitRPM:  cfg.AuthRateLimitRPM,
		APIRateLimitRPM:   cfg.APIRateLimitRPM,
		GlobalRateLimiter: global,
		AuthRateLimiter:   authLimiter,
		Readiness:         readiness,
		EnableOTelHTTP:    cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	}
}

func provideHTTPHandler(dep router.Dependencies) http.Handler {
	return router.NewRouter(dep)
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideObservability(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, logger, lp)
}

// Maintenance is the graph used by one-shot CLI commands: no HTTP server and
// no telemetry exporters.
type Maintenance struct {
	DB      *gorm.DB
	Users   *service.UserService
	Audit   *service.AuditService
	Janitor *Janitor
}

func newMaintenance(db *gorm.DB, users *service.UserService, audit *service.AuditService, janitor *Janitor) *Maintenance {
	return &Maintenance{DB: db, Users: users, Audit: audit, Janitor: janitor}
}
