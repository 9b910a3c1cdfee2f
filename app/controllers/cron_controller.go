package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/reelhouse/reelhouse/internal/pkg/billing"
)

// CronController exposes the background sweeps to an external scheduler.
type CronController struct {
	svc *billing.Service
}

func NewCronController(svc *billing.Service) *CronController {
	return &CronController{svc: svc}
}

// HandleReconcileSubscriptions runs one pass of the scheduled reconciler.
func (cc *CronController) HandleReconcileSubscriptions(c *fiber.Ctx) error {
	start := time.Now()
	n, err := cc.svc.ReconcileSubscriptions(c.UserContext())
	if err != nil {
		return writeBillingError(c, err)
	}
	log.Infof("[Cron] Reconciled %d subscriptions in %s", n, time.Since(start))
	return c.JSON(fiber.Map{
		"task":        "reconcile-subscriptions",
		"transitions": n,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// HandleCleanupCheckouts expires abandoned checkout sessions.
func (cc *CronController) HandleCleanupCheckouts(c *fiber.Ctx) error {
	start := time.Now()
	n, err := cc.svc.SweepCheckouts(c.UserContext())
	if err != nil {
		return writeBillingError(c, err)
	}
	log.Infof("[Cron] Expired %d checkout sessions in %s", n, time.Since(start))
	return c.JSON(fiber.Map{
		"task":        "cleanup-checkouts",
		"expired":     n,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}
