package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newThrottledApp(handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(handler)
	app.All("/records", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return app
}

func TestThrottleRejectsPastTheCeiling(t *testing.T) {
	app := newThrottledApp(New(Config{Max: 2, Window: time.Minute}))

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/records", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest("POST", "/records", nil))
	require.NoError(t, err)
	assert.Equal(t, 429, resp.StatusCode)
}

func TestForWritesSkipsReads(t *testing.T) {
	app := newThrottledApp(ForWrites(1, time.Minute))

	resp, err := app.Test(httptest.NewRequest("POST", "/records", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("POST", "/records", nil))
	require.NoError(t, err)
	assert.Equal(t, 429, resp.StatusCode)

	for i := 0; i < 3; i++ {
		resp, err = app.Test(httptest.NewRequest("GET", "/records", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode, "reads are never throttled")
	}
}
