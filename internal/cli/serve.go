package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/session-security-engine/internal/app"
	"github.com/sandeepkv93/session-security-engine/internal/config"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP session authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if migrate {
				if err := migrateSchema(ctx, cfg); err != nil {
					return err
				}
			}
			logger, lp, err := observability.NewLogger(ctx, cfg, os.Stdout)
			if err != nil {
				return err
			}
			a, cleanup, err := app.InitializeApp(ctx, cfg, logger, lp)
			if err != nil {
				if lp != nil {
					_ = lp.Shutdown(context.WithoutCancel(ctx))
				}
				return err
			}
			defer cleanup()
			return a.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply schema migrations before serving")
	return cmd
}

func migrateSchema(ctx context.Context, cfg *config.Config) error {
	db, err := repository.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	return repository.Migrate(ctx, db)
}
