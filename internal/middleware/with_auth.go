package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// Auth role constants used by WithAuth helper.
const (
	AuthRoleAny       = "any"
	AuthRoleStudent   = "student"
	AuthRoleProfessor = "professor"
	AuthRoleAdmin     = "admin"
)

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth wraps a handler with authentication and role guards. Professor
// routes also admit administrators.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}

	requireUser := opts.RequireUser
	if !requireUser && role != AuthRoleAny {
		requireUser = true
	}

	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id")
		if requireUser && userID == nil {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}

		currentRole := normalizeRoleValue(c.Locals("user_role"))
		switch role {
		case AuthRoleAny:
			return handler(c)
		case AuthRoleProfessor:
			if currentRole != AuthRoleProfessor && currentRole != AuthRoleAdmin {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", fiber.Map{"required_role": role})
			}
		default:
			if currentRole != role {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", fiber.Map{"required_role": role})
			}
		}

		return handler(c)
	}
}
