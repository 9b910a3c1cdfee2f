package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/reelhouse/reelhouse/app/controllers"
	"github.com/reelhouse/reelhouse/internal/pkg/middleware"
	"github.com/reelhouse/reelhouse/internal/pkg/security"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	h.registerBillingRoutes(v1)
	h.registerCronRoutes(v1)
	h.registerAdminRoutes(v1)
}

func (h ApiRouter) registerBillingRoutes(v1 fiber.Router) {
	ctl := controllers.NewBillingController(h.deps.Billing)
	throttle := middleware.NewRateLimiter(h.deps.LimiterStorage, 10, time.Minute)

	billingGroup := v1.Group("/billing")
	billingGroup.Get("/plans", ctl.HandlePlans)
	billingGroup.Post("/checkout", throttle, ctl.HandleCheckout)
	billingGroup.Get("/subscription", middleware.RequireAPISessionAuth, ctl.HandleSubscription)
	billingGroup.Post("/subscription/cancel", middleware.RequireAPISessionAuth, throttle, ctl.HandleCancel)
}

func (h ApiRouter) registerCronRoutes(v1 fiber.Router) {
	ctl := controllers.NewCronController(h.deps.Billing)

	cron := v1.Group("/cron")
	cron.Post("/reconcile-subscriptions",
		middleware.RequireTaskCredential(h.deps.CronCredential, security.TaskReconcileSubscriptions, middleware.CredentialBearer),
		ctl.HandleReconcileSubscriptions)
	cron.Post("/cleanup-checkouts",
		middleware.RequireTaskCredential(h.deps.CleanupCredential, security.TaskCleanupCheckouts, middleware.CredentialAPIKey),
		ctl.HandleCleanupCheckouts)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
