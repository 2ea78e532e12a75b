package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName               string
	AppEnv                string
	Port                  string
	LogLevel              string
	DatabaseURL           string
	RedisURL              string
	RabbitMQURL           string
	ShutdownPeriod        time.Duration
	IdempotencyTTL        time.Duration
	StoreTimeout          time.Duration
	PublishTimeout        time.Duration
	ProfileCacheTTL       time.Duration
	OutboxPollInterval    time.Duration
	OutboxBatchSize       int
	OutboxRetention       time.Duration
	OutboxPruneSchedule   string
	RegistrationRateLimit int
}

var defaults = map[string]any{
	"APP_NAME":                "congo-accounts",
	"APP_ENV":                 "development",
	"PORT":                    "8080",
	"LOG_LEVEL":               "info",
	"SHUTDOWN_TIMEOUT":        "10s",
	"IDEMPOTENCY_TTL":         "24h",
	"STORE_TIMEOUT":           "5s",
	"PUBLISH_TIMEOUT":         "5s",
	"PROFILE_CACHE_TTL":       "10m",
	"OUTBOX_POLL_INTERVAL":    "1200ms",
	"OUTBOX_BATCH_SIZE":       50,
	"OUTBOX_RETENTION":        "168h",
	"OUTBOX_PRUNE_SCHEDULE":   "0 3 * * *",
	"REGISTRATION_RATE_LIMIT": 10,
}

// Load reads configuration from the environment. Durations accept either a
// whole number of seconds or a Go duration string. Outside development the
// Postgres, Redis and RabbitMQ URLs are mandatory.
func Load() (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "RABBITMQ_URL"} {
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()

	cfg := Config{
		AppName:               v.GetString("APP_NAME"),
		AppEnv:                strings.ToLower(v.GetString("APP_ENV")),
		Port:                  v.GetString("PORT"),
		LogLevel:              strings.ToLower(v.GetString("LOG_LEVEL")),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisURL:              strings.TrimSpace(v.GetString("REDIS_URL")),
		RabbitMQURL:           strings.TrimSpace(v.GetString("RABBITMQ_URL")),
		OutboxBatchSize:       v.GetInt("OUTBOX_BATCH_SIZE"),
		OutboxPruneSchedule:   v.GetString("OUTBOX_PRUNE_SCHEDULE"),
		RegistrationRateLimit: v.GetInt("REGISTRATION_RATE_LIMIT"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownPeriod},
		{"IDEMPOTENCY_TTL", &cfg.IdempotencyTTL},
		{"STORE_TIMEOUT", &cfg.StoreTimeout},
		{"PUBLISH_TIMEOUT", &cfg.PublishTimeout},
		{"PROFILE_CACHE_TTL", &cfg.ProfileCacheTTL},
		{"OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval},
		{"OUTBOX_RETENTION", &cfg.OutboxRetention},
	}
	for _, d := range durations {
		parsed, err := parseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if cfg.OutboxBatchSize <= 0 {
		return Config{}, fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	if _, err := cron.ParseStandard(cfg.OutboxPruneSchedule); err != nil {
		return Config{}, fmt.Errorf("invalid OUTBOX_PRUNE_SCHEDULE: %w", err)
	}

	if !cfg.IsDev() {
		required := map[string]string{
			"DATABASE_URL": cfg.DatabaseURL,
			"REDIS_URL":    cfg.RedisURL,
			"RABBITMQ_URL": cfg.RabbitMQURL,
		}
		for _, key := range []string{"DATABASE_URL", "REDIS_URL", "RABBITMQ_URL"} {
			if required[key] == "" {
				return Config{}, fmt.Errorf("%s must be set when APP_ENV=%s", key, cfg.AppEnv)
			}
		}
	}

	return cfg, nil
}

// IsDev reports whether missing backends may fall back to in-memory stores.
func (c Config) IsDev() bool {
	switch c.AppEnv {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("must not be negative")
		}
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}
