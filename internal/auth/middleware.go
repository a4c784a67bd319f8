package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"tabular/internal/engine"
	"tabular/internal/perm"
)

// Middleware validates the bearer token and sets the principal on the
// request.
func Middleware(secret string) fiber.Handler {
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

		c.Locals("principal", &perm.Principal{
			ID:          claims.Subject,
			Roles:       claims.Roles,
			Permissions: claims.Permissions,
		})

		return c.Next()
	}
}

// Authorizer is the engine's authorization collaborator: a principal holds a
// permission when the admin role bypasses, or the resolved permission string
// is among its grants.
type Authorizer struct{}

func (Authorizer) Authorize(p perm.Principal, permission string) bool {
	if p.HasRole("admin") {
		return true
	}
	for _, granted := range p.Permissions {
		if granted == permission {
			return true
		}
	}
	return false
}
