package account

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/accounts/internal/middleware"
	"github.com/congo-pay/accounts/internal/wallet"
)

// Handler exposes the account endpoints.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Create registers an account.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.svc.Create(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"message":        "Account created",
		"id":             account.ID,
		"account_number": account.Wallet.AccountNumber,
	})
}

// Enable activates an account.
func (h *Handler) Enable(c *fiber.Ctx) error {
	id, err := accountID(c)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.svc.Enable(c.UserContext(), id); err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "Account enabled"})
}

// Patch applies a partial update from a JSON object of field names to values.
func (h *Handler) Patch(c *fiber.Ctx) error {
	id, err := accountID(c)
	if err != nil {
		return h.fail(c, err)
	}
	fields := map[string]any{}
	if err := c.BodyParser(&fields); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Patch(c.UserContext(), id, fields); err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "Account updated"})
}

// Overwrite replaces the account's administrator-overwritable fields.
func (h *Handler) Overwrite(c *fiber.Ctx) error {
	id, err := accountID(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req Overwrite
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Overwrite(c.UserContext(), id, req); err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "account updated by transaction"})
}

// Get returns the profile view.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := accountID(c)
	if err != nil {
		return h.fail(c, err)
	}
	profile, err := h.svc.Profile(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(profile)
}

// GetByNumber looks an account up by its external number. An unknown number
// is a successful empty result.
func (h *Handler) GetByNumber(c *fiber.Ctx) error {
	account, found, err := h.svc.FindByAccountNumber(c.UserContext(), c.Params("accountNumber"))
	if err != nil {
		return h.fail(c, err)
	}
	if !found {
		return c.Status(http.StatusOK).JSON(fiber.Map{"account": nil})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"account": account.Summary()})
}

// Delete removes an account and its wallet.
func (h *Handler) Delete(c *fiber.Ctx) error {
	id, err := accountID(c)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.svc.Delete(c.UserContext(), id); err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "Account deleted"})
}

func accountID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	ferr := statusFor(err)
	if ferr.Code >= http.StatusInternalServerError {
		h.logger.Error("account request failed",
			slog.String("request_id", middleware.RequestIDFrom(c)),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
	}
	return ferr
}

// statusFor maps service errors onto HTTP errors.
func statusFor(err error) *fiber.Error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrBadRequest), errors.Is(err, wallet.ErrNumberExhausted):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
