package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	statusOK       = "ok"
	statusDisabled = "disabled"
)

// RegisterHealthRoutes adds a readiness endpoint covering every configured
// backend. Backends that are not configured report "disabled".
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		dbStatus, redisStatus, brokerStatus := statusDisabled, statusDisabled, statusDisabled

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			dbStatus = statusOf(d.DB.Ping(ctx))
		}
		if d.Cache != nil {
			redisStatus = statusOf(d.Cache.Ping(ctx).Err())
		}
		if d.Broker != nil {
			brokerStatus = statusOf(d.Broker.Ping())
		}

		status := http.StatusOK
		for _, s := range []string{dbStatus, redisStatus, brokerStatus} {
			if s != statusOK && s != statusDisabled {
				status = http.StatusServiceUnavailable
			}
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"postgres": dbStatus, "redis": redisStatus, "rabbitmq": brokerStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

func statusOf(err error) string {
	if err != nil {
		return err.Error()
	}
	return statusOK
}
