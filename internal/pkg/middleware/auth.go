package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayMirror/internal/pkg/usercontext"
)

// RequireUser rejects anonymous API requests with a JSON 401.
func RequireUser(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "user identity required",
		})
	}
	return c.Next()
}
