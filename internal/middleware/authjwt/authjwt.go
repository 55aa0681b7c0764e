package authjwt

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/recordbase/recordbase/internal/pkg/log"
	"github.com/recordbase/recordbase/internal/types"
)

// Config defines the config for the JWT middleware.
type Config struct {
	// The EC public key for validating ES256 tokens.
	PublicKey string
	// The claim key where the user context is stored. Defaults to "claim".
	ClaimKey string
	// Strict rejects requests without a valid token with 401. When false,
	// such requests continue with an anonymous user context and the access
	// predicate restricts them to public records.
	Strict bool
}

// New creates a new middleware handler.
func New(cfg Config) fiber.Handler {
	if cfg.ClaimKey == "" {
		cfg.ClaimKey = "claim"
	}

	// Parse the key once on startup. Without a usable key no token can
	// validate: reads fall back to anonymous, writes are rejected.
	ecPublicKey, err := jwt.ParseECPublicKeyFromPEM([]byte(cfg.PublicKey))
	if err != nil {
		log.Warn("authjwt: no usable EC public key, tokens will not be accepted: %s", err.Error())
		ecPublicKey = nil
	}

	unauthorized := func(c *fiber.Ctx, message string) error {
		if !cfg.Strict {
			c.Locals(types.UserCtxName, types.UserContext{})
			return c.Next()
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"code":    "UNAUTHORIZED",
			"message": message,
		})
	}

	return func(c *fiber.Ctx) error {
		var tokenString string

		authHeader := c.Get(types.HeaderAuthorization)
		if authHeader != "" && strings.HasPrefix(authHeader, types.BearerPrefix) {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			tokenString = c.Cookies("access_token")
		}
		if tokenString == "" || ecPublicKey == nil {
			return unauthorized(c, "Missing or invalid JWT")
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			// Enforce the expected signing algorithm.
			if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return ecPublicKey, nil
		})
		if err != nil {
			log.Warn("JWT validation failed: %s", err.Error())
			return unauthorized(c, "Invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			return unauthorized(c, "Invalid token")
		}
		if exp, ok := claims["exp"].(float64); ok && int64(exp) < time.Now().Unix() {
			return unauthorized(c, "Token has expired")
		}

		claimData, ok := claims[cfg.ClaimKey].(map[string]interface{})
		if !ok {
			return unauthorized(c, "Invalid token claim format")
		}

		user := types.UserContext{}
		if uid, ok := claimData["uid"].(string); ok {
			user.UserID = uid
		}
		if displayName, ok := claimData["displayName"].(string); ok {
			user.DisplayName = displayName
		}
		if role, ok := claimData["role"].(string); ok {
			user.SystemRole = role
		}
		if rawGroups, ok := claimData["groups"].([]interface{}); ok {
			for _, rawGroup := range rawGroups {
				if group, ok := rawGroup.(string); ok {
					user.Groups = append(user.Groups, group)
				}
			}
		}
		if user.UserID == "" {
			return unauthorized(c, "Token carries no user id")
		}

		c.Locals(types.UserCtxName, user)
		return c.Next()
	}
}
