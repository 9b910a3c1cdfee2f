package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/reelhouse/reelhouse/app/models"
	"github.com/reelhouse/reelhouse/app/repository"
	"github.com/reelhouse/reelhouse/internal/pkg/session"
	"github.com/reelhouse/reelhouse/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the complete user context for every request
// from the session and the global user repository.
func UserContextMiddleware(c *fiber.Ctx) error {
	return NewUserContextMiddleware(func() repository.UserRepository {
		return repository.GetGlobalFactory().GetUserRepository()
	})(c)
}

// NewUserContextMiddleware resolves the session user through users. Unknown
// or disabled accounts are treated as anonymous.
func NewUserContextMiddleware(users func() repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := session.UserID(c)
		if userID == 0 {
			usercontext.SetUserContext(c, usercontext.UserContext{})
			return c.Next()
		}

		user, err := users().GetByID(userID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Errorf("[UserContext] Failed to load user %d: %v", userID, err)
			}
			usercontext.SetUserContext(c, usercontext.UserContext{})
			return c.Next()
		}
		if user.Status != models.STATUS_ACTIVE {
			usercontext.SetUserContext(c, usercontext.UserContext{})
			return c.Next()
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:            user.ID,
			Username:          user.Name,
			Role:              user.Role,
			IsLoggedIn:        true,
			IsAdmin:           user.Role == models.ROLE_ADMIN,
			EntitlementStatus: user.SubscriptionStatus,
		})
		return c.Next()
	}
}
