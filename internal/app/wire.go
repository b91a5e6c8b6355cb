//go:build wireinject
// +build wireinject

package app

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/sandeepkv93/session-security-engine/internal/config"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*App, func(), error) {
	wire.Build(infraSet, repositorySet, securitySet, serviceSet, httpSet)
	return nil, nil, nil
}

func InitializeMaintenance(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Maintenance, func(), error) {
	wire.Build(
		provideDB,
		provideRedis,
		provideMailSender,
		repository.NewUserRepository,
		repository.NewRefreshTokenRepository,
		repository.NewEmailOTPRepository,
		repository.NewLoginEventRepository,
		providePasswordHasher,
		provideKeyedHasher,
		provideJWTManager,
		provideTokenService,
		provideOTPService,
		provideAuditService,
		provideSessionStore,
		provideAbuseGuard,
		service.NewUserService,
		provideJanitor,
		newMaintenance,
	)
	return nil, nil, nil
}
