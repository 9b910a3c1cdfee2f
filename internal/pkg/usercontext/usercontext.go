package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the complete user context for a request
type UserContext struct {
	UserID            uint   `json:"user_id"`
	Username          string `json:"username"`
	Role              string `json:"role"`
	IsLoggedIn        bool   `json:"is_logged_in"`
	IsAdmin           bool   `json:"is_admin"`
	EntitlementStatus string `json:"entitlement_status"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(LocalsKey).(UserContext); ok {
		return ctx
	}
	return UserContext{IsLoggedIn: false, IsAdmin: false}
}

// SetUserContext stores the context and the legacy per-key locals.
func SetUserContext(c *fiber.Ctx, uc UserContext) {
	c.Locals(LocalsKey, uc)
	c.Locals(KeyFromProtected, uc.IsLoggedIn)
	c.Locals(KeyIsAdmin, uc.IsAdmin)
	if uc.IsLoggedIn {
		c.Locals(KeyUserID, uc.UserID)
		c.Locals(KeyUsername, uc.Username)
	}
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsAdmin checks if the current user is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}

// OptionalUserID returns nil for anonymous requests.
func OptionalUserID(c *fiber.Ctx) *uint {
	uc := GetUserContext(c)
	if !uc.IsLoggedIn || uc.UserID == 0 {
		return nil
	}
	id := uc.UserID
	return &id
}
