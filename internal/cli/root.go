// Package cli holds the authd command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/session-security-engine/internal/app"
	"github.com/sandeepkv93/session-security-engine/internal/config"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
	"github.com/sandeepkv93/session-security-engine/internal/tools/common"
	"github.com/sandeepkv93/session-security-engine/internal/tools/loadgen"
	"github.com/sandeepkv93/session-security-engine/internal/tools/obscheck"
	"github.com/sandeepkv93/session-security-engine/internal/tools/ui"
)

type globalOptions struct {
	envFile string
	ci      bool
}

func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "authd",
		Short:         "Session security engine: login, step-up, token rotation and audit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional env file loaded before the environment")
	root.PersistentFlags().BoolVar(&opts.ci, "ci", false, "plain output without spinners")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newCleanupCommand(opts),
		newUsersCommand(opts),
		newAuditCommand(opts),
		newToolsCommand(),
	)
	return root
}

func loadConfig(opts *globalOptions) (*config.Config, error) {
	if err := common.LoadEnvFile(opts.envFile); err != nil {
		return nil, err
	}
	return config.LoadFile(opts.envFile)
}

func newLogger(ctx context.Context, cfg *config.Config) *slog.Logger {
	// One-shot commands never ship logs over OTLP.
	local := *cfg
	local.OTELLogsEnabled = false
	logger, _, err := observability.NewLogger(ctx, &local, os.Stderr)
	if err != nil {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return logger
}

// withMaintenance builds the maintenance graph and runs fn behind a spinner
// unless --ci is set.
func withMaintenance(cmd *cobra.Command, opts *globalOptions, title string, fn func(ctx context.Context, m *app.Maintenance) ([]string, error)) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	m, cleanup, err := app.InitializeMaintenance(ctx, cfg, newLogger(ctx, cfg))
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.ci {
		details, err := fn(ctx, m)
		for _, d := range details {
			fmt.Fprintln(cmd.OutOrStdout(), d)
		}
		return err
	}
	_, err = ui.Run(title, func(ctx context.Context) ([]string, error) { return fn(ctx, m) })
	return err
}

func newToolsCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "tools", Short: "Operator tooling"}
	cmd.AddCommand(newLoadgenCommand(), obscheck.NewCommand())
	return cmd
}

func newLoadgenCommand() *cobra.Command {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Send synthetic health and login traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := loadgen.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total=%d failures=%d classes=%v endpoints=%v\n",
				res.TotalRequests, res.Failures, res.ByStatusClass, res.ByEndpoint)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "authd base URL")
	f.StringVar(&cfg.BasePath, "base-path", "/api", "API base path")
	f.StringVar(&cfg.Profile, "profile", "mixed", "health|auth|mixed")
	f.DurationVar(&cfg.Duration, "duration", 0, "how long to run (default 10s)")
	f.IntVar(&cfg.RPS, "rps", 10, "requests per second")
	f.IntVar(&cfg.Concurrency, "concurrency", 4, "parallel workers")
	f.Uint64Var(&cfg.Seed, "seed", 1, "random seed")
	f.StringVar(&cfg.Username, "username", "", "account used for successful logins")
	f.StringVar(&cfg.Password, "password", "", "password for --username")
	return cmd
}
