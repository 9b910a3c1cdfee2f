package middleware

import (
	"github.com/gofiber/fiber/v2"

	icuser "github.com/reelhouse/reelhouse/internal/pkg/usercontext"
)

// RequireAPISessionAuth ensures a logged-in session for API routes and returns JSON 401 instead of redirect.
func RequireAPISessionAuth(c *fiber.Ctx) error {
	if !icuser.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "authentication_error",
			"message": "login required",
		})
	}
	return c.Next()
}

// RequireAdmin ensures a logged-in administrator.
func RequireAdmin(c *fiber.Ctx) error {
	uc := icuser.GetUserContext(c)
	if !uc.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "authentication_error",
			"message": "login required",
		})
	}
	if !uc.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "authorization_error",
			"message": "administrator role required",
		})
	}
	return c.Next()
}
