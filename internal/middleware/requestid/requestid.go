// Package requestid tags every request with an X-Request-ID, honoring one
// supplied by the caller, so log lines correlate across a request.
package requestid

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofrs/uuid"
)

const (
	HeaderRequestID     = "X-Request-ID"
	ContextKeyRequestID = "request_id"
)

// New generates or propagates the request id and echoes it on the response.
func New() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(HeaderRequestID)
		if requestID == "" {
			if id, err := uuid.NewV4(); err == nil {
				requestID = id.String()
			}
		}

		c.Locals(ContextKeyRequestID, requestID)
		c.Set(HeaderRequestID, requestID)
		return c.Next()
	}
}

// FromCtx returns the request id set by New, or an empty string.
func FromCtx(c *fiber.Ctx) string {
	id, _ := c.Locals(ContextKeyRequestID).(string)
	return id
}
