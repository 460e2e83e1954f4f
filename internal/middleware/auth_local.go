package middleware

import (
	"log"
	"os"

	"engram/pkg/auth"

	"github.com/gofiber/fiber/v2"
)

// tokenFromRequest extracts a JWT from either the Authorization header or the
// "token" query parameter. The query fallback exists for WebSocket clients,
// which cannot set headers on the upgrade request from browsers.
func tokenFromRequest(c *fiber.Ctx) string {
	if authHeader := c.Get("Authorization"); authHeader != "" {
		if token, err := auth.ExtractToken(authHeader); err == nil {
			return token
		}
	}
	return c.Query("token")
}

// devBypassAllowed reports whether running without a configured JWT secret is
// acceptable. SECURITY: never in production - the server refuses to start.
func devBypassAllowed(environment string) bool {
	return environment == "development" || environment == "testing" || environment == ""
}

// LocalAuthMiddleware verifies local JWT tokens
// Supports both Authorization header and query parameter (for WebSocket connections)
func LocalAuthMiddleware(jwtAuth *auth.LocalJWTAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		environment := os.Getenv("ENVIRONMENT")

		if jwtAuth == nil {
			// CRITICAL: Never allow auth bypass in production
			if environment == "production" {
				log.Fatal("❌ CRITICAL SECURITY ERROR: JWT auth not configured in production environment. Authentication is required.")
			}

			if !devBypassAllowed(environment) {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "Authentication service unavailable",
				})
			}

			log.Println("⚠️  Auth skipped: JWT not configured (development mode)")
			c.Locals("user_id", "dev-user")
			c.Locals("user_email", "dev@localhost")
			c.Locals("user_role", "user")
			return c.Next()
		}

		token := tokenFromRequest(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or invalid authorization token",
			})
		}

		user, err := jwtAuth.VerifyAccessToken(token)
		if err != nil {
			log.Printf("❌ Auth failed: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("user_id", user.ID)
		c.Locals("user_email", user.Email)
		c.Locals("user_role", user.Role)

		log.Printf("✅ Authenticated user: %s (%s)", user.Email, user.ID)
		return c.Next()
	}
}

// OptionalLocalAuthMiddleware makes authentication optional
// Supports both Authorization header and query parameter (for WebSocket)
func OptionalLocalAuthMiddleware(jwtAuth *auth.LocalJWTAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := tokenFromRequest(c)

		// If no token found, proceed as anonymous
		if token == "" {
			c.Locals("user_id", "anonymous")
			log.Println("🔓 Anonymous connection")
			return c.Next()
		}

		environment := os.Getenv("ENVIRONMENT")

		if jwtAuth == nil {
			// CRITICAL: Never allow auth bypass in production
			if environment == "production" {
				log.Fatal("❌ CRITICAL SECURITY ERROR: JWT auth not configured in production environment")
			}

			if !devBypassAllowed(environment) {
				c.Locals("user_id", "anonymous")
				log.Println("⚠️  JWT unavailable, proceeding as anonymous")
				return c.Next()
			}

			c.Locals("user_id", "dev-user")
			c.Locals("user_email", "dev@localhost")
			c.Locals("user_role", "user")
			log.Println("⚠️  Auth skipped: JWT not configured (dev mode)")
			return c.Next()
		}

		user, err := jwtAuth.VerifyAccessToken(token)
		if err != nil {
			log.Printf("⚠️  Token validation failed: %v (continuing as anonymous)", err)
			c.Locals("user_id", "anonymous")
			return c.Next()
		}

		c.Locals("user_id", user.ID)
		c.Locals("user_email", user.Email)
		c.Locals("user_role", user.Role)

		log.Printf("✅ Authenticated user: %s (%s)", user.Email, user.ID)
		return c.Next()
	}
}
