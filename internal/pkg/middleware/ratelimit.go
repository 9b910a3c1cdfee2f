package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/reelhouse/reelhouse/internal/pkg/usercontext"
)

// NewRateLimiter throttles a route group per user, or per client IP for
// anonymous callers. A nil storage keeps counters in process memory.
func NewRateLimiter(storage fiber.Storage, max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := usercontext.GetUserID(c); id != 0 {
				return fmt.Sprintf("user:%d", id)
			}
			return "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests, try again later",
			})
		},
	})
}
