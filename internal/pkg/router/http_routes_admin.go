package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/reelhouse/reelhouse/app/controllers"
	"github.com/reelhouse/reelhouse/internal/pkg/middleware"
)

func (h ApiRouter) registerAdminRoutes(v1 fiber.Router) {
	ctl := controllers.NewAdminBillingController(h.deps.Billing, h.deps.Analytics, h.deps.Audit, h.deps.Plans)

	adminGroup := v1.Group("/admin/billing", middleware.RequireAdmin)

	// Subscription overrides
	adminGroup.Post("/subscriptions/bulk-expire", ctl.HandleBulkExpire)
	adminGroup.Post("/subscriptions/:id/force-cancel", ctl.HandleForceCancel)
	adminGroup.Post("/subscriptions/:id/force-expire", ctl.HandleForceExpire)
	adminGroup.Post("/subscriptions/:id/reinstate", ctl.HandleReinstate)

	// User overrides
	adminGroup.Post("/users/:id/force-expire", ctl.HandleForceExpireUser)
	adminGroup.Post("/users/:id/grant-plan", ctl.HandleGrantPlan)

	// Plan catalogue
	adminGroup.Get("/plans", ctl.HandleListPlans)
	adminGroup.Put("/plans", ctl.HandleSavePlan)

	// Reporting
	adminGroup.Get("/analytics", ctl.HandleAnalytics)
	adminGroup.Get("/audit", ctl.HandleAuditLog)
}
