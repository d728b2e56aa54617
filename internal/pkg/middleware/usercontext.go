package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/ManuelReschke/PayMirror/internal/pkg/usercontext"
)

const DefaultIdentityHeader = "X-User-ID"

// UserContextMiddleware reads the caller's user id from the identity header
// set by the fronting gateway. Missing or malformed ids leave the request
// anonymous.
func UserContextMiddleware(header string) fiber.Handler {
	if header == "" {
		header = DefaultIdentityHeader
	}
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get(header))
		id, err := uuid.Parse(raw)
		if raw == "" || err != nil {
			c.Locals(usercontext.KeyUserContext, usercontext.UserContext{IsLoggedIn: false})
			return c.Next()
		}

		userID := id.String()
		c.Locals(usercontext.KeyUserContext, usercontext.UserContext{
			UserID:     userID,
			IsLoggedIn: true,
		})
		c.Locals(usercontext.KeyUserID, userID)
		return c.Next()
	}
}
