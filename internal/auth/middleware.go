package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"rocket-import/internal/engine"
	"rocket-import/internal/metadata"
)

// ImporterRole may run and restore imports. Admins always may.
const ImporterRole = "importer"

// AuthMiddleware validates the bearer token and stores the UserContext in
// the request locals.
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return engine.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		c.Locals("user", &metadata.UserContext{
			ID:    claims.Subject,
			Roles: claims.Roles,
		})
		return c.Next()
	}
}

// RequireRole lets admins and users holding any of roles through.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if user.IsAdmin() {
			return c.Next()
		}
		for _, r := range roles {
			if user.HasRole(r) {
				return c.Next()
			}
		}
		return engine.ForbiddenError("Import access required")
	}
}

// GetUser extracts the UserContext from a Fiber context.
func GetUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
