package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/reelhouse/reelhouse/internal/pkg/security"
)

// Where a scheduled task presents its credential.
const (
	CredentialBearer = "bearer"
	CredentialAPIKey = "api_key"
)

// RequireTaskCredential guards a scheduled-task endpoint. The credential is
// read from the Authorization bearer token or the X-API-Key header.
func RequireTaskCredential(cred security.Credential, task, source string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		presented := ""
		switch source {
		case CredentialBearer:
			presented = extractBearerToken(c)
		case CredentialAPIKey:
			presented = strings.TrimSpace(c.Get("X-API-Key"))
		}
		if presented == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication_error", "message": "missing task credential"})
		}
		if cred == nil || !cred.Verify(presented, task) {
			log.Warnf("[TaskAuth] Rejected credential for %s from %s", task, c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication_error", "message": "invalid task credential"})
		}
		return c.Next()
	}
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
