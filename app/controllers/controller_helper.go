package controllers

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/reelhouse/reelhouse/internal/pkg/billing"
	"github.com/reelhouse/reelhouse/internal/pkg/usercontext"
)

var kindStatus = map[billing.Kind]int{
	billing.KindValidation:      fiber.StatusBadRequest,
	billing.KindAuthentication:  fiber.StatusUnauthorized,
	billing.KindAuthorization:   fiber.StatusForbidden,
	billing.KindNotFound:        fiber.StatusNotFound,
	billing.KindConflict:        fiber.StatusConflict,
	billing.KindSignature:       fiber.StatusBadRequest,
	billing.KindExternalService: fiber.StatusBadGateway,
	billing.KindInternal:        fiber.StatusInternalServerError,
}

// writeBillingError maps a billing error kind to its HTTP status and writes
// the JSON error body. Internal causes are logged, never returned.
func writeBillingError(c *fiber.Ctx, err error) error {
	kind := billing.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = fiber.StatusInternalServerError
	}

	body := fiber.Map{"error": string(kind)}
	var be *billing.Error
	if errors.As(err, &be) && kind != billing.KindInternal {
		body["message"] = be.Message
		if len(be.Details) > 0 {
			body["details"] = be.Details
		}
	} else {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		body["message"] = "internal error"
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, message string) error {
	return writeBillingError(c, billing.NewValidationError("%s", message))
}

// paramID parses a positive numeric route parameter.
func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, billing.NewValidationError("invalid %s", name).WithDetail(name, c.Params(name))
	}
	return uint(id), nil
}

// queryTime parses an RFC3339 timestamp or a YYYY-MM-DD date.
func queryTime(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, billing.NewValidationError("invalid %s", key).WithDetail(key, raw)
}

// actorFromRequest describes the logged-in administrator for the audit log.
func actorFromRequest(c *fiber.Ctx) billing.Actor {
	requestID, _ := c.Locals(usercontext.KeyRequestID).(string)
	return billing.Actor{
		UserID:    usercontext.GetUserID(c),
		IP:        GetClientIP(c),
		RequestID: requestID,
	}
}

// GetClientIP determines the client address considering Cloudflare and
// standard proxy headers. The first address of X-Forwarded-For wins.
func GetClientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if ip := strings.TrimSpace(c.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	// ::ffff:192.0.2.1 is stored as the IPv4 address
	return strings.TrimPrefix(c.IP(), "::ffff:")
}
