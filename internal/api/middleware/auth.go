/**
 * @description
 * Authentication middleware for the admin API.
 * Validates Bearer JWTs either with a shared HMAC secret or against a JWKS.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: HTTP Context
 * - github.com/golang-jwt/jwt/v5: JWT parsing
 * - github.com/MicahParks/keyfunc/v2: JWKS fetching and caching
 *
 * @notes
 * - ADMIN_JWKS_URL wins over ADMIN_JWT_SECRET when both are set.
 * - With neither configured every protected route answers 503.
 */

package middleware

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/logger"
)

const adminLocalKey = "admin_id"

// AuthMiddlewareConfig holds the key lookup used to verify tokens
type AuthMiddlewareConfig struct {
	Keyfunc jwt.Keyfunc
	Methods []string
	jwks    *keyfunc.JWKS
}

var (
	mwMu     sync.RWMutex
	mwConfig *AuthMiddlewareConfig
)

// InitAuthMiddleware sets up token verification. Should be called at startup.
func InitAuthMiddleware(cfg *config.Config) error {
	switch {
	case cfg.Admin.JWKSURL != "":
		jwks, err := keyfunc.Get(cfg.Admin.JWKSURL, keyfunc.Options{
			RefreshInterval: time.Hour,
			RefreshErrorHandler: func(err error) {
				logger.Error("JWKS refresh failed: %v", err)
			},
		})
		if err != nil {
			return err
		}
		setConfig(&AuthMiddlewareConfig{Keyfunc: jwks.Keyfunc, Methods: []string{"RS256", "ES256"}, jwks: jwks})
		logger.Info("admin auth initialised with JWKS")

	case cfg.Admin.JWTSecret != "":
		UseSecret(cfg.Admin.JWTSecret)
		logger.Info("admin auth initialised with shared secret")

	default:
		logger.Warn("ADMIN_JWT_SECRET and ADMIN_JWKS_URL are empty; admin routes are disabled")
		setConfig(nil)
	}
	return nil
}

// UseSecret verifies tokens with an HMAC shared secret.
func UseSecret(secret string) {
	key := []byte(secret)
	setConfig(&AuthMiddlewareConfig{
		Keyfunc: func(*jwt.Token) (interface{}, error) { return key, nil },
		Methods: []string{"HS256", "HS384", "HS512"},
	})
}

// Shutdown stops the JWKS refresh goroutine, if any.
func Shutdown() {
	mwMu.RLock()
	defer mwMu.RUnlock()
	if mwConfig != nil && mwConfig.jwks != nil {
		mwConfig.jwks.EndBackground()
	}
}

func setConfig(c *AuthMiddlewareConfig) {
	mwMu.Lock()
	mwConfig = c
	mwMu.Unlock()
}

func currentConfig() *AuthMiddlewareConfig {
	mwMu.RLock()
	defer mwMu.RUnlock()
	return mwConfig
}

// Protected guards admin routes
func Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cfg := currentConfig()
		if cfg == nil || cfg.Keyfunc == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Admin auth is not configured",
			})
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing authorization header"})
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token format"})
		}

		token, err := jwt.Parse(tokenString, cfg.Keyfunc, jwt.WithValidMethods(cfg.Methods), jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Token missing subject"})
		}

		c.Locals(adminLocalKey, sub)

		return c.Next()
	}
}

// GetAdminID returns the authenticated subject from context
func GetAdminID(c *fiber.Ctx) (string, error) {
	id, ok := c.Locals(adminLocalKey).(string)
	if !ok {
		return "", errors.New("admin id not found in context")
	}
	return id, nil
}
