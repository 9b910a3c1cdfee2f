package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/reelhouse/reelhouse/internal/pkg/billing"
	"github.com/reelhouse/reelhouse/internal/pkg/usercontext"
)

// BillingController serves the customer billing API and the provider webhook.
type BillingController struct {
	svc *billing.Service
}

// NewBillingController creates a billing controller around the service.
func NewBillingController(svc *billing.Service) *BillingController {
	return &BillingController{svc: svc}
}

// HandlePlans lists the purchasable plans in display order.
func (bc *BillingController) HandlePlans(c *fiber.Ctx) error {
	plans, err := bc.svc.ListPlans(c.UserContext())
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandleCheckout starts a hosted checkout. Guests may check out; the session
// user is recorded when present.
func (bc *BillingController) HandleCheckout(c *fiber.Ctx) error {
	var in billing.CheckoutInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}

	session, err := bc.svc.StartCheckout(c.UserContext(), usercontext.OptionalUserID(c), in)
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"checkout_id":  session.ExternalSessionID,
		"checkout_url": session.CheckoutURL,
		"mode":         session.Mode,
		"amount":       session.Amount,
		"currency":     session.Currency,
		"expires_at":   session.ExpiresAt,
	})
}

// HandleSubscription returns the caller's entitlement snapshot and latest subscription.
func (bc *BillingController) HandleSubscription(c *fiber.Ctx) error {
	view, err := bc.svc.CurrentSubscription(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.JSON(view)
}

// HandleCancel cancels the caller's subscription.
func (bc *BillingController) HandleCancel(c *fiber.Ctx) error {
	var in billing.CancelInput
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	res, err := bc.svc.Cancel(c.UserContext(), usercontext.GetUserID(c), in)
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.JSON(res)
}

// HandleStripeWebhook verifies and applies a Stripe notification. Anything
// but a 2xx makes Stripe redeliver, so only processed events and recognized
// duplicates are acknowledged.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	outcome, err := bc.svc.HandleWebhook(c.UserContext(), payload, c.Get("Stripe-Signature"))
	if err != nil {
		if !billing.IsKind(err, billing.KindSignature) {
			log.Warnf("[Webhook] Stripe notification not acknowledged: %v", err)
		}
		return writeBillingError(c, err)
	}
	return c.JSON(fiber.Map{
		"received":  true,
		"event_id":  outcome.EventID,
		"kind":      outcome.Kind,
		"duplicate": outcome.Duplicate,
		"ignored":   outcome.Ignored,
	})
}
