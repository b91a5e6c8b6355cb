// Package config loads the process-wide configuration once at startup.
// Secrets are read here and nowhere else; the resulting Config is treated as
// immutable and handed to each component by pointer.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfiguration marks a configuration problem that must abort startup.
var ErrConfiguration = errors.New("configuration error")

const minSecretLength = 32

type Config struct {
	Env         string   `mapstructure:"APP_ENV"`
	HTTPAddr    string   `mapstructure:"HTTP_ADDR"`
	APIBasePath string   `mapstructure:"API_BASE_PATH"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// Peers allowed to set the client address via X-Forwarded-For/X-Real-IP.
	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES"`

	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// JWTAccessSecret signs access tokens.
	JWTAccessSecret string `mapstructure:"JWT_ACCESS_SECRET"`
	// TokenHashSecret keys the HMAC applied to refresh tokens, device ids and OTP codes.
	TokenHashSecret string `mapstructure:"TOKEN_HASH_SECRET"`
	// SessionSecret signs the server-side session cookie.
	SessionSecret string        `mapstructure:"SESSION_SECRET"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	JWTAudience   string        `mapstructure:"JWT_AUDIENCE"`
	AccessTTL     time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTTL    time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`
	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`
	BcryptCost    int           `mapstructure:"BCRYPT_COST"`

	OTPTTL         time.Duration `mapstructure:"OTP_TTL"`
	OTPMaxAttempts int           `mapstructure:"OTP_MAX_ATTEMPTS"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	GeoIPDBPath string `mapstructure:"GEOIP_DB_PATH"`

	AuthRateLimitRPM int `mapstructure:"AUTH_RATE_LIMIT_RPM"`
	APIRateLimitRPM  int `mapstructure:"API_RATE_LIMIT_RPM"`
	AuditBufferSize  int `mapstructure:"AUDIT_BUFFER_SIZE"`

	RefreshTokenRetention time.Duration `mapstructure:"REFRESH_TOKEN_RETENTION"`
	// CleanupInterval drives the in-process janitor; zero disables it.
	CleanupInterval time.Duration `mapstructure:"CLEANUP_INTERVAL"`

	OTELServiceName           string        `mapstructure:"OTEL_SERVICE_NAME"`
	OTELEnvironment           string        `mapstructure:"OTEL_ENVIRONMENT"`
	OTELExporterOTLPEndpoint  string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELExporterOTLPInsecure  bool          `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELMetricsEnabled        bool          `mapstructure:"OTEL_METRICS_ENABLED"`
	OTELTracingEnabled        bool          `mapstructure:"OTEL_TRACING_ENABLED"`
	OTELLogsEnabled           bool          `mapstructure:"OTEL_LOGS_ENABLED"`
	OTELMetricsExportInterval time.Duration `mapstructure:"OTEL_METRICS_EXPORT_INTERVAL"`
	LogLevel                  string        `mapstructure:"LOG_LEVEL"`

	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var defaults = map[string]any{
	"APP_ENV":                       "development",
	"HTTP_ADDR":                     ":8080",
	"API_BASE_PATH":                 "/api",
	"CORS_ORIGINS":                  "",
	"TRUSTED_PROXIES":               "",
	"DATABASE_DRIVER":               "postgres",
	"DATABASE_URL":                  "",
	"REDIS_ADDR":                    "",
	"REDIS_PASSWORD":                "",
	"REDIS_DB":                      0,
	"JWT_ACCESS_SECRET":             "",
	"TOKEN_HASH_SECRET":             "",
	"SESSION_SECRET":                "",
	"JWT_ISSUER":                    "session-security-engine",
	"JWT_AUDIENCE":                  "session-security-engine-api",
	"ACCESS_TOKEN_TTL":              "15m",
	"REFRESH_TOKEN_TTL":             "720h",
	"SESSION_TTL":                   "24h",
	"BCRYPT_COST":                   12,
	"OTP_TTL":                       "10m",
	"OTP_MAX_ATTEMPTS":              5,
	"SMTP_HOST":                     "",
	"SMTP_PORT":                     587,
	"SMTP_USERNAME":                 "",
	"SMTP_PASSWORD":                 "",
	"SMTP_FROM":                     "",
	"GEOIP_DB_PATH":                 "",
	"AUTH_RATE_LIMIT_RPM":           30,
	"API_RATE_LIMIT_RPM":            600,
	"AUDIT_BUFFER_SIZE":             1024,
	"REFRESH_TOKEN_RETENTION":       "2160h",
	"CLEANUP_INTERVAL":              "1h",
	"OTEL_SERVICE_NAME":             "session-security-engine",
	"OTEL_ENVIRONMENT":              "development",
	"OTEL_EXPORTER_OTLP_ENDPOINT":   "localhost:4317",
	"OTEL_EXPORTER_OTLP_INSECURE":   true,
	"OTEL_METRICS_ENABLED":          false,
	"OTEL_TRACING_ENABLED":          false,
	"OTEL_LOGS_ENABLED":             false,
	"OTEL_METRICS_EXPORT_INTERVAL":  "15s",
	"LOG_LEVEL":                     "info",
	"SHUTDOWN_TIMEOUT":              "20s",
}

// Load reads an optional .env file, overlays the environment and validates
// the result. Any error wraps ErrConfiguration.
func Load() (*Config, error) {
	return LoadFile(".env")
}

func LoadFile(envFile string) (*Config, error) {
	ctx := context.Background()
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !envFileMissing(err) {
			err = fmt.Errorf("%w: %w %s: %v", ErrConfiguration, errEnvFile, envFile, err)
			recordConfigLoad(ctx, "", nil, err)
			return nil, err
		}
	}
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		err = fmt.Errorf("%w: %w config: %v", ErrConfiguration, errDecode, err)
		recordConfigLoad(ctx, v.GetString("APP_ENV"), nil, err)
		return nil, err
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.TrustedProxies = splitList(cfg.TrustedProxies)
	cfg.APIBasePath = normalizeBasePath(cfg.APIBasePath)

	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("validate config: %w", err)
		recordConfigLoad(ctx, cfg.Env, &cfg, err)
		return nil, err
	}
	recordConfigLoad(ctx, cfg.Env, &cfg, nil)
	return &cfg, nil
}

func envFileMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var problems []string
	for _, s := range []struct{ key, val string }{
		{"JWT_ACCESS_SECRET", c.JWTAccessSecret},
		{"TOKEN_HASH_SECRET", c.TokenHashSecret},
		{"SESSION_SECRET", c.SessionSecret},
	} {
		switch {
		case strings.TrimSpace(s.val) == "":
			problems = append(problems, s.key+" is required")
		case len(s.val) < minSecretLength:
			problems = append(problems, fmt.Sprintf("%s must be at least %d characters", s.key, minSecretLength))
		}
	}
	if c.JWTAccessSecret != "" && c.JWTAccessSecret == c.TokenHashSecret {
		problems = append(problems, "JWT_ACCESS_SECRET and TOKEN_HASH_SECRET must differ")
	}
	if c.HTTPAddr == "" {
		problems = append(problems, "HTTP_ADDR is required")
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		problems = append(problems, "DATABASE_DRIVER must be postgres or sqlite")
	}
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.SessionTTL <= 0 || c.OTPTTL <= 0 {
		problems = append(problems, "token, session and OTP TTLs must be positive")
	}
	if c.AccessTTL >= c.RefreshTTL {
		problems = append(problems, "ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		problems = append(problems, "BCRYPT_COST must be between 4 and 31")
	}
	for _, p := range c.TrustedProxies {
		if _, err := parseProxyPrefix(p); err != nil {
			problems = append(problems, fmt.Sprintf("TRUSTED_PROXIES entry %q is not an IP or CIDR", p))
		}
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		problems = append(problems, "SMTP_FROM is required when SMTP_HOST is set")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// SMTPEnabled reports whether OTP codes can be mailed. Without it codes are
// only logged server-side.
func (c *Config) SMTPEnabled() bool { return c.SMTPHost != "" }

func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// TrustedProxyPrefixes parses TRUSTED_PROXIES. Invalid entries are rejected
// by Validate and skipped here.
func (c *Config) TrustedProxyPrefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, p := range c.TrustedProxies {
		if prefix, err := parseProxyPrefix(p); err == nil {
			out = append(out, prefix)
		}
	}
	return out
}

func parseProxyPrefix(v string) (netip.Prefix, error) {
	if strings.Contains(v, "/") {
		p, err := netip.ParsePrefix(v)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}
