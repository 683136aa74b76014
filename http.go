package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// Envelope is the JSON shape of every API response
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SendData writes a successful envelope
func SendData(c router.Context, status int, data any) error {
	return c.JSON(status, Envelope{Success: true, Data: data})
}

// SendError writes a failed envelope
func SendError(c router.Context, status int, message string) error {
	return c.JSON(status, Envelope{Success: false, Error: message})
}

func sendFiberError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(Envelope{Success: false, Error: message})
}

// StatusFor maps an error category to the HTTP status reported to clients
func StatusFor(err *errors.Error) int {
	if err == nil {
		return http.StatusInternalServerError
	}

	switch err.Category {
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case errors.CategoryOperation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorHandler renders errors returned by route handlers as envelopes.
// Internal errors are reported with a generic message; metadata is only
// logged. It is installed on the fiber app behind the router adapter.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = defLogger{}
	}

	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return sendFiberError(c, fiberErr.Code, fiberErr.Message)
		}

		var richErr *errors.Error
		if !errors.As(err, &richErr) {
			richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
				WithCode(errors.CodeInternal)
		}

		status := StatusFor(richErr)
		logger.Debug("request error path=%s status=%d category=%s text_code=%s details=%s",
			c.Path(), status, richErr.Category, richErr.TextCode, print.MaybePrettyJSON(richErr.Metadata))

		if status >= http.StatusInternalServerError {
			logger.Error("request failed path=%s: %v", c.Path(), err)
			return sendFiberError(c, status, "internal server error")
		}

		return sendFiberError(c, status, richErr.Message)
	}
}
