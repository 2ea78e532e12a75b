package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/accounts/internal/account"
)

// RegisterAccountRoutes wires the account endpoints. guards run before the
// create handler only.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler, guards ...fiber.Handler) {
	create := append(append([]fiber.Handler{}, guards...), h.Create)
	r.Post("/accounts", create...)
	r.Get("/accounts/number/:accountNumber", h.GetByNumber)
	r.Get("/accounts/:id", h.Get)
	r.Put("/accounts/:id/enable", h.Enable)
	r.Put("/accounts/:id", h.Overwrite)
	r.Patch("/accounts/:id", h.Patch)
	r.Delete("/accounts/:id", h.Delete)
}
