package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reelhouse/reelhouse/app/controllers"
	"github.com/reelhouse/reelhouse/internal/pkg/middleware"
	"github.com/reelhouse/reelhouse/internal/pkg/usercontext"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Use(requestid.New(requestid.Config{ContextKey: usercontext.KeyRequestID}))

	// Apply UserContext middleware globally
	if h.deps.Users != nil {
		app.Use(middleware.NewUserContextMiddleware(h.deps.Users))
	} else {
		app.Use(middleware.UserContextMiddleware)
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Stripe signs the raw body; no session or limiter in front of it.
	billingCtl := controllers.NewBillingController(h.deps.Billing)
	app.Post("/webhooks/stripe", billingCtl.HandleStripeWebhook)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
