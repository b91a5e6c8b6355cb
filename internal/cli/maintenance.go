package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/session-security-engine/internal/app"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMaintenance(cmd, opts, "migrate", func(ctx context.Context, m *app.Maintenance) ([]string, error) {
				if err := repository.Migrate(ctx, m.DB); err != nil {
					return nil, err
				}
				return []string{"schema up to date"}, nil
			})
		},
	}
}

func newCleanupCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired OTP challenges and refresh tokens past retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMaintenance(cmd, opts, "cleanup", func(ctx context.Context, m *app.Maintenance) ([]string, error) {
				report, err := m.Janitor.RunOnce(ctx)
				if err != nil {
					return nil, err
				}
				return []string{
					fmt.Sprintf("refresh tokens deleted=%d", report.RefreshTokens),
					fmt.Sprintf("otp challenges deleted=%d", report.OTPs),
				}, nil
			})
		},
	}
}

func newUsersCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage accounts"}
	cmd.AddCommand(newUsersCreateCommand(opts), newUsersResetPasswordCommand(opts), newUsersRevokeCommand(opts))
	return cmd
}

func newUsersCreateCommand(opts *globalOptions) *cobra.Command {
	in := service.CreateUserInput{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account with a bcrypt credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMaintenance(cmd, opts, "users create", func(ctx context.Context, m *app.Maintenance) ([]string, error) {
				u, err := m.Users.Create(ctx, in)
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("created user id=%d username=%s role=%s", u.ID, u.Username, u.Role)}, nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Username, "username", "", "login name (required)")
	f.StringVar(&in.Password, "password", "", "initial password (required)")
	f.StringVar(&in.Email, "email", "", "address for step-up codes")
	f.StringVar(&in.Role, "role", "", "member or admin")
	f.StringVar(&in.Organization, "organization", "", "organization label")
	f.BoolVar(&in.RequireEmailOTP, "require-email-otp", false, "always require an email code")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUsersResetPasswordCommand(opts *globalOptions) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "reset-password <user-id>",
		Short: "Replace a password and terminate the user's sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withMaintenance(cmd, opts, "users reset-password", func(ctx context.Context, m *app.Maintenance) ([]string, error) {
				if err := m.Users.ResetPassword(ctx, id, password); err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("password reset for user %d; sessions terminated", id)}, nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "new password (required)")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUsersRevokeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-sessions <user-id>",
		Short: "Revoke every refresh token and server session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withMaintenance(cmd, opts, "users revoke-sessions", func(ctx context.Context, m *app.Maintenance) ([]string, error) {
				n, err := m.Users.RevokeSessions(ctx, id)
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("revoked %d refresh tokens for user %d", n, id)}, nil
			})
		},
	}
}

func newAuditCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Inspect the login audit log"}
	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Show the newest login events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
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
			events, err := m.Audit.Recent(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderEvents(events, !opts.ci))
			return nil
		},
	}
	recent.Flags().IntVar(&limit, "limit", 20, "number of events")
	cmd.AddCommand(recent)
	return cmd
}

func parseUserID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return uint(id), nil
}
