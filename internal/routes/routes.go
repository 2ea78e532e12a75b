package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/accounts/internal/account"
	"github.com/congo-pay/accounts/internal/cache"
	"github.com/congo-pay/accounts/internal/config"
	"github.com/congo-pay/accounts/internal/middleware"
	"github.com/congo-pay/accounts/internal/notification"
	"github.com/congo-pay/accounts/internal/wallet"
)

// Pinger reports broker liveness for the health endpoint.
type Pinger interface {
	Ping() error
}

// Deps aggregates shared dependencies required to wire routes. Nil backends
// fall back to in-memory implementations, which Setup only allows in
// development.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Broker Pinger
	Outbox notification.Outbox
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Broker == nil {
			return fmt.Errorf("rabbitmq is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Outbox == nil {
		if d.DB != nil {
			return fmt.Errorf("an outbox is required with a database")
		}
		d.Outbox = notification.NewMemoryOutbox()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Services and handlers
	var (
		walletRepo  wallet.Repository
		accountRepo account.Repository
	)
	if d.DB != nil {
		walletRepo = wallet.NewPostgresRepository(d.DB)
		accountRepo = account.NewPostgresRepository(d.DB)
	} else {
		walletRepo = wallet.NewMemoryRepository()
		accountRepo = account.NewMemoryRepository(walletRepo, d.Outbox)
	}

	opts := []account.Option{
		account.WithLogger(d.Logger),
		account.WithStoreTimeout(d.Cfg.StoreTimeout),
	}
	if d.Cache != nil {
		opts = append(opts, account.WithCache(cache.NewViewCache[account.Profile](d.Cache, d.Cfg.ProfileCacheTTL, d.Logger)))
	}
	accountSvc := account.NewService(accountRepo, walletRepo, wallet.NewNumberGenerator(), opts...)
	accountHandler := account.NewHandler(accountSvc, d.Logger)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	var createGuards []fiber.Handler
	if d.Cache != nil {
		createGuards = append(createGuards,
			middleware.RateLimit(middleware.RateLimitConfig{
				Cache:  d.Cache,
				Limit:  d.Cfg.RegistrationRateLimit,
				Window: time.Minute,
				Scope:  "register",
				Logger: d.Logger,
			}),
			middleware.Idempotency(middleware.IdempotencyConfig{
				Cache:  d.Cache,
				TTL:    d.Cfg.IdempotencyTTL,
				Logger: d.Logger,
			}),
		)
	}
	RegisterAccountRoutes(api, accountHandler, createGuards...)

	return nil
}
