// Package mail delivers step-up codes. Only the "send code" contract lives
// here; there is no templating, queueing or retry.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gomail "github.com/wneessen/go-mail"
)

type Sender interface {
	SendLoginCode(ctx context.Context, to, code string, expiresAt time.Time) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPSender struct {
	cfg    SMTPConfig
	client *gomail.Client
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(10 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &SMTPSender{cfg: cfg, client: client}, nil
}

func (s *SMTPSender) SendLoginCode(ctx context.Context, to, code string, expiresAt time.Time) error {
	msg, err := loginCodeMessage(s.cfg.From, to, code, expiresAt)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send login code: %w", err)
	}
	return nil
}

func loginCodeMessage(from, to, code string, expiresAt time.Time) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	msg.Subject("Your sign-in code")
	msg.SetBodyString(gomail.TypeTextPlain, fmt.Sprintf(
		"Your sign-in code is %s.\n\nIt expires at %s. If you did not try to sign in, change your password.\n",
		code, expiresAt.UTC().Format(time.RFC1123),
	))
	return msg, nil
}

// LogSender is the degraded mode used when SMTP is not configured: the code
// only reaches the server log.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) SendLoginCode(ctx context.Context, to, code string, expiresAt time.Time) error {
	s.Logger.WarnContext(ctx, "email delivery not configured; login code logged server-side",
		"to", to,
		"code", code,
		"expires_at", expiresAt.UTC(),
	)
	return nil
}
