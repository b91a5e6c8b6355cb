package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Load failure classes, used as the error_class attribute.
var (
	errEnvFile = errors.New("env file")
	errDecode  = errors.New("decode")
)

var (
	loadMetricsOnce sync.Once
	loadCounter     metric.Int64Counter
)

// recordConfigLoad counts one startup load. cfg is nil when decoding failed.
func recordConfigLoad(ctx context.Context, rawEnv string, cfg *Config, err error) {
	loadMetricsOnce.Do(func() {
		counter, cerr := otel.Meter("session-security-engine/config").Int64Counter(
			"config.load.events",
			metric.WithDescription("Configuration loads by profile, backing stores and outcome"),
		)
		if cerr == nil {
			loadCounter = counter
		}
	})
	if loadCounter == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	driver, sessions := "unknown", "unknown"
	if cfg != nil {
		driver = cfg.DatabaseDriver
		sessions = "memory"
		if cfg.RedisEnabled() {
			sessions = "redis"
		}
	}
	loadCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", configProfile(rawEnv)),
		attribute.String("db_driver", driver),
		attribute.String("session_store", sessions),
		attribute.String("outcome", outcome),
		attribute.String("error_class", classifyLoadError(err)),
	))
}

// configProfile folds APP_ENV spellings onto a fixed set so the attribute
// stays low-cardinality.
func configProfile(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "unknown"
	case "prod", "production":
		return "production"
	case "dev", "development", "local":
		return "development"
	case "test", "testing", "ci":
		return "test"
	case "staging", "stage":
		return "staging"
	default:
		return "other"
	}
}

func classifyLoadError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, errEnvFile):
		return "env_file"
	case errors.Is(err, errDecode):
		return "decode"
	default:
		return "validation"
	}
}
