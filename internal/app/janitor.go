package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/session-security-engine/internal/service"
)

// CleanupReport counts the rows removed by one janitor pass.
type CleanupReport struct {
	RefreshTokens int64
	OTPs          int64
	// MemoryEntries counts expired entries evicted from in-process stores.
	MemoryEntries int
}

// Janitor deletes refresh tokens that expired more than the retention window
// ago and every expired OTP challenge. Revoked tokens are kept until they
// expire so reuse detection keeps working. Without Redis it also sweeps the
// in-memory session store and abuse guard.
type Janitor struct {
	tokens    *service.TokenService
	otp       *service.OTPService
	retention time.Duration
	sweepers  []service.Sweeper
	logger    *slog.Logger
	now       func() time.Time
}

func NewJanitor(tokens *service.TokenService, otp *service.OTPService, retention time.Duration, logger *slog.Logger, sweepers ...service.Sweeper) *Janitor {
	return &Janitor{
		tokens:    tokens,
		otp:       otp,
		retention: retention,
		sweepers:  sweepers,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (j *Janitor) RunOnce(ctx context.Context) (CleanupReport, error) {
	now := j.now()
	var report CleanupReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := j.tokens.CleanupExpired(gctx, now.Add(-j.retention))
		report.RefreshTokens = n
		return err
	})
	g.Go(func() error {
		n, err := j.otp.DeleteExpired(gctx, now)
		report.OTPs = n
		return err
	})
	err := g.Wait()
	for _, sw := range j.sweepers {
		report.MemoryEntries += sw.Sweep()
	}
	return report, err
}

func (j *Janitor) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := j.RunOnce(ctx)
			if err != nil {
				j.logger.ErrorContext(ctx, "cleanup pass failed", "error", err)
				continue
			}
			j.logger.InfoContext(ctx, "cleanup pass complete",
				"refresh_tokens_deleted", report.RefreshTokens,
				"otps_deleted", report.OTPs,
				"memory_entries_evicted", report.MemoryEntries,
			)
		}
	}
}
