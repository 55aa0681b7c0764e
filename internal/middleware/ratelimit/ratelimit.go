// Package ratelimit throttles mutating requests per client IP. Reads are
// cheap and already bounded by the response limit; writes fan out into limit
// and uniqueness counts, so they get a ceiling of their own.
package ratelimit

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/recordbase/recordbase/internal/pkg/log"
)

// Config holds the throttle parameters.
type Config struct {
	// Max requests per Window. Zero disables the middleware.
	Max    int
	Window time.Duration

	// Next skips the throttle for a request when it returns true.
	Next func(c *fiber.Ctx) bool

	// KeyGenerator buckets requests; defaults to the client IP.
	KeyGenerator func(c *fiber.Ctx) string
}

// New creates the throttling middleware. The rejection body follows the same
// envelope shape as the record error responses.
func New(config Config) fiber.Handler {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.KeyGenerator == nil {
		config.KeyGenerator = func(c *fiber.Ctx) string { return c.IP() }
	}

	return limiter.New(limiter.Config{
		Max:          config.Max,
		Expiration:   config.Window,
		KeyGenerator: config.KeyGenerator,
		Next:         config.Next,
		LimitReached: func(c *fiber.Ctx) error {
			log.Warn("rate limit exceeded for %s on %s", c.IP(), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": fiber.Map{
					"statusCode": fiber.StatusTooManyRequests,
					"name":       "RateLimitError",
					"message":    "too many requests, please try again later",
					"code":       "RATE_LIMIT_EXCEEDED",
					"status":     fiber.StatusTooManyRequests,
				},
			})
		},
	})
}

// ForWrites throttles everything except GET requests.
func ForWrites(max int, window time.Duration) fiber.Handler {
	return New(Config{
		Max:    max,
		Window: window,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodGet || c.Method() == fiber.MethodHead
		},
	})
}
