package errors

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respondWith(t *testing.T, err error) (int, map[string]interface{}) {
	t.Helper()

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return Respond(c, err)
	})

	resp, reqErr := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, reqErr)
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(resp.Body)
	require.NoError(t, readErr)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &body))
	inner, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "every error response wraps an 'error' object")
	return resp.StatusCode, inner
}

func TestRespondNotFoundEnvelope(t *testing.T) {
	status, body := respondWith(t, NewNotFound("record 'x' not found"))

	assert.Equal(t, 404, status)
	assert.Equal(t, float64(404), body["statusCode"])
	assert.Equal(t, float64(404), body["status"])
	assert.Equal(t, NameNotFound, body["name"])
	assert.Equal(t, CodeNotFound, body["code"])
	assert.Equal(t, "record 'x' not found", body["message"])
	assert.NotContains(t, body, "details")
}

func TestRespondLimitExceededDetails(t *testing.T) {
	status, body := respondWith(t, NewLimitExceeded("filter[where][_kind]=book", 2))

	assert.Equal(t, 429, status)
	details, ok := body["details"].([]interface{})
	require.True(t, ok)
	require.Len(t, details, 1)

	info := details[0].(map[string]interface{})["info"].(map[string]interface{})
	assert.Equal(t, float64(2), info["limit"])
	assert.Equal(t, "filter[where][_kind]=book", info["scope"])
}

func TestRespondUniquenessDetails(t *testing.T) {
	status, body := respondWith(t, NewUniqueness([]string{"_slug"}))

	assert.Equal(t, 409, status)
	details := body["details"].([]interface{})
	info := details[0].(map[string]interface{})["info"].(map[string]interface{})
	assert.Equal(t, []interface{}{"_slug"}, info["fields"])
}

func TestRespondWrapsUnknownErrors(t *testing.T) {
	status, body := respondWith(t, errors.New("pq: connection refused"))

	assert.Equal(t, 500, status)
	assert.Equal(t, NameInternal, body["name"])
	assert.Equal(t, "internal server error", body["message"], "internal causes never leak to clients")
}

func TestRecordErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &RecordError{StatusCode: 500, Name: NameInternal, Code: CodeInternal, Message: "x", Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}
