package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	Cache  *redis.Client
	Limit  int
	Window time.Duration
	// Scope namespaces the counters so several limiters can share Redis.
	Scope  string
	Logger *slog.Logger
}

// RateLimit caps requests per client IP within a fixed window using Redis
// INCR and EXPIRE. It fails open when Redis is absent or erroring.
func RateLimit(cfg RateLimitConfig) fiber.Handler {
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Scope == "" {
		cfg.Scope = "default"
	}
	return func(c *fiber.Ctx) error {
		if cfg.Cache == nil {
			return c.Next()
		}
		key := "rl:" + cfg.Scope + ":" + c.IP()
		cnt, err := cfg.Cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit check skipped", slog.String("scope", cfg.Scope), slog.Any("error", err))
			}
			return c.Next()
		}
		if cnt == 1 {
			cfg.Cache.Expire(c.UserContext(), key, cfg.Window)
		}
		if cnt > int64(cfg.Limit) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(cfg.Window.Seconds())))
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
