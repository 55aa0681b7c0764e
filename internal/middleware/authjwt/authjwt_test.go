package authjwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordbase/recordbase/internal/types"
)

func newKeyPair(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()

	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	require.NoError(t, err)
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return private, string(publicPEM)
}

func signToken(t *testing.T, key *ecdsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func newAuthApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(New(cfg))
	app.Get("/", func(c *fiber.Ctx) error {
		user, _ := c.Locals(types.UserCtxName).(types.UserContext)
		return c.JSON(user)
	})
	return app
}

func userFrom(t *testing.T, resp *http.Response) types.UserContext {
	t.Helper()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var user types.UserContext
	require.NoError(t, json.Unmarshal(payload, &user))
	return user
}

func TestValidTokenExtractsUserContext(t *testing.T) {
	private, publicPEM := newKeyPair(t)
	app := newAuthApp(Config{PublicKey: publicPEM, Strict: true})

	token := signToken(t, private, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
		"claim": map[string]interface{}{
			"uid":         "u1",
			"displayName": "Ishmael",
			"role":        "user",
			"groups":      []string{"g1", "g2"},
		},
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(types.HeaderAuthorization, types.BearerPrefix+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	user := userFrom(t, resp)
	assert.Equal(t, "u1", user.UserID)
	assert.Equal(t, "Ishmael", user.DisplayName)
	assert.Equal(t, []string{"g1", "g2"}, user.Groups)
	assert.False(t, user.IsAnonymous())
}

func TestTokenFromCookie(t *testing.T) {
	private, publicPEM := newKeyPair(t)
	app := newAuthApp(Config{PublicKey: publicPEM, Strict: true})

	token := signToken(t, private, jwt.MapClaims{
		"exp":   time.Now().Add(time.Hour).Unix(),
		"claim": map[string]interface{}{"uid": "u1"},
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "u1", userFrom(t, resp).UserID)
}

func TestMissingTokenStrictVsLax(t *testing.T) {
	_, publicPEM := newKeyPair(t)

	strict := newAuthApp(Config{PublicKey: publicPEM, Strict: true})
	resp, err := strict.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)

	lax := newAuthApp(Config{PublicKey: publicPEM})
	resp, err = lax.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	assert.True(t, userFrom(t, resp).IsAnonymous(), "without a token the request continues anonymously")
}

func TestExpiredTokenRejected(t *testing.T) {
	private, publicPEM := newKeyPair(t)
	app := newAuthApp(Config{PublicKey: publicPEM, Strict: true})

	token := signToken(t, private, jwt.MapClaims{
		"exp":   time.Now().Add(-time.Hour).Unix(),
		"claim": map[string]interface{}{"uid": "u1"},
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(types.HeaderAuthorization, types.BearerPrefix+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestWrongAlgorithmRejected(t *testing.T) {
	_, publicPEM := newKeyPair(t)
	app := newAuthApp(Config{PublicKey: publicPEM, Strict: true})

	hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp":   time.Now().Add(time.Hour).Unix(),
		"claim": map[string]interface{}{"uid": "u1"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(types.HeaderAuthorization, types.BearerPrefix+hmacToken)

	resp, reqErr := app.Test(req)
	require.NoError(t, reqErr)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestTokenWithoutUserIDRejected(t *testing.T) {
	private, publicPEM := newKeyPair(t)
	app := newAuthApp(Config{PublicKey: publicPEM, Strict: true})

	token := signToken(t, private, jwt.MapClaims{
		"exp":   time.Now().Add(time.Hour).Unix(),
		"claim": map[string]interface{}{"displayName": "Nobody"},
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(types.HeaderAuthorization, types.BearerPrefix+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestUnusableKeyFallsBackPerMode(t *testing.T) {
	strict := newAuthApp(Config{Strict: true})
	resp, err := strict.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)

	lax := newAuthApp(Config{})
	resp, err = lax.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	assert.True(t, userFrom(t, resp).IsAnonymous())
}
