package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

const actorKey = "actor"

// Middleware authenticates a request and resolves the acting user once; the
// handler chain reads it back through ActorFrom.
func Middleware(tokens *TokenManager, users repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			return util.NewUnauthorized("missing bearer token")
		}
		claims, err := tokens.Parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return util.NewUnauthorized("invalid or expired token")
		}
		user, err := users.GetByID(c.UserContext(), claims.UserID)
		if err != nil {
			return util.NewUnauthorized("unknown user")
		}
		if !user.Active {
			return util.NewUnauthorized("account disabled")
		}
		c.Locals(actorKey, user)
		return c.Next()
	}
}

// RequireAdmin rejects non-admin actors.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := ActorFrom(c)
		if actor == nil || !actor.IsAdmin() {
			return util.NewPermissionDenied("admin role required")
		}
		return c.Next()
	}
}

// ActorFrom returns the authenticated user, or nil outside the middleware.
func ActorFrom(c *fiber.Ctx) *domain.User {
	actor, _ := c.Locals(actorKey).(*domain.User)
	return actor
}
