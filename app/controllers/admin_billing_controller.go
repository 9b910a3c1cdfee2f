package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/reelhouse/reelhouse/app/models"
	"github.com/reelhouse/reelhouse/app/repository"
	"github.com/reelhouse/reelhouse/internal/pkg/billing"
	"github.com/reelhouse/reelhouse/internal/pkg/statistics"
)

// ============================================================================
// ADMIN BILLING CONTROLLER - overrides, analytics and audit trail
// ============================================================================

type overrideRequest struct {
	Reason string `json:"reason"`
}

type bulkExpireRequest struct {
	SubscriptionIDs []uint `json:"subscription_ids"`
	Reason          string `json:"reason"`
}

type grantPlanRequest struct {
	PlanID *uint  `json:"plan_id"`
	Reason string `json:"reason"`
}

type planRequest struct {
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	BillingCycle    string          `json:"billing_cycle"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	ProviderPriceID string          `json:"provider_price_id"`
	MaxScreens      int             `json:"max_screens"`
	OfflineViewing  bool            `json:"offline_viewing"`
	VaultAccess     bool            `json:"vault_access"`
	AdFree          bool            `json:"ad_free"`
	IsActive        bool            `json:"is_active"`
	DisplayOrder    int             `json:"display_order"`
}

// AdminBillingController handles administrator billing requests
type AdminBillingController struct {
	svc       *billing.Service
	analytics *statistics.Analytics
	audit     repository.AuditRepository
	plans     repository.PlanRepository
}

// NewAdminBillingController creates a new admin billing controller
func NewAdminBillingController(svc *billing.Service, analytics *statistics.Analytics, audit repository.AuditRepository, plans repository.PlanRepository) *AdminBillingController {
	return &AdminBillingController{svc: svc, analytics: analytics, audit: audit, plans: plans}
}

type subscriptionOverride func(c *fiber.Ctx, actor billing.Actor, id uint, reason string) (*billing.OverrideResult, error)

func (abc *AdminBillingController) subscriptionAction(c *fiber.Ctx, param string, fn subscriptionOverride) error {
	id, err := paramID(c, param)
	if err != nil {
		return writeBillingError(c, err)
	}
	var req overrideRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	res, err := fn(c, actorFromRequest(c), id, req.Reason)
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.JSON(res)
}

// HandleForceCancel cancels a subscription immediately.
func (abc *AdminBillingController) HandleForceCancel(c *fiber.Ctx) error {
	return abc.subscriptionAction(c, "id", func(c *fiber.Ctx, actor billing.Actor, id uint, reason string) (*billing.OverrideResult, error) {
		return abc.svc.Admin().ForceCancel(c.UserContext(), actor, id, reason)
	})
}

// HandleForceExpire expires a subscription immediately.
func (abc *AdminBillingController) HandleForceExpire(c *fiber.Ctx) error {
	return abc.subscriptionAction(c, "id", func(c *fiber.Ctx, actor billing.Actor, id uint, reason string) (*billing.OverrideResult, error) {
		return abc.svc.Admin().ForceExpire(c.UserContext(), actor, id, reason)
	})
}

// HandleForceExpireUser expires the current subscription of a user.
func (abc *AdminBillingController) HandleForceExpireUser(c *fiber.Ctx) error {
	return abc.subscriptionAction(c, "id", func(c *fiber.Ctx, actor billing.Actor, id uint, reason string) (*billing.OverrideResult, error) {
		return abc.svc.Admin().ForceExpireUser(c.UserContext(), actor, id, reason)
	})
}

// HandleReinstate issues a fresh subscription in place of a terminal one.
func (abc *AdminBillingController) HandleReinstate(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return writeBillingError(c, err)
	}
	var req overrideRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	res, err := abc.svc.Admin().Reinstate(c.UserContext(), actorFromRequest(c), id, req.Reason)
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// HandleBulkExpire expires several subscriptions and reports each outcome.
func (abc *AdminBillingController) HandleBulkExpire(c *fiber.Ctx) error {
	var req bulkExpireRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	results, err := abc.svc.Admin().BulkForceExpire(c.UserContext(), actorFromRequest(c), req.SubscriptionIDs, req.Reason)
	if err != nil {
		return writeBillingError(c, err)
	}
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	return c.JSON(fiber.Map{"results": results, "failed": failed})
}

// HandleGrantPlan grants a complimentary plan, or revokes the grant when
// plan_id is null.
func (abc *AdminBillingController) HandleGrantPlan(c *fiber.Ctx) error {
	userID, err := paramID(c, "id")
	if err != nil {
		return writeBillingError(c, err)
	}
	var req grantPlanRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := abc.svc.Admin().GrantPlan(c.UserContext(), actorFromRequest(c), userID, req.PlanID, req.Reason)
	if err != nil {
		return writeBillingError(c, err)
	}
	return c.JSON(res)
}

// HandleAnalytics reports revenue and checkout conversion over a window.
func (abc *AdminBillingController) HandleAnalytics(c *fiber.Ctx) error {
	from, err := queryTime(c, "from")
	if err != nil {
		return writeBillingError(c, err)
	}
	to, err := queryTime(c, "to")
	if err != nil {
		return writeBillingError(c, err)
	}
	q := statistics.Query{
		Status:         c.Query("status"),
		CheckoutStatus: c.Query("checkout_status"),
	}
	if from != nil {
		q.From = *from
	}
	if to != nil {
		q.To = *to
	}
	if err := q.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	report, err := abc.analytics.Report(q)
	if err != nil {
		return writeBillingError(c, billing.NewInternalError(err, "build analytics report"))
	}
	return c.JSON(report)
}

// HandleAuditLog lists administrative audit rows, newest first.
func (abc *AdminBillingController) HandleAuditLog(c *fiber.Ctx) error {
	filter := repository.AuditFilter{
		ActorID:      queryUint(c, "actor_id"),
		TargetUserID: queryUint(c, "target_user_id"),
		Action:       strings.TrimSpace(c.Query("action")),
		Limit:        c.QueryInt("limit", 50),
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	filter.Offset = (page - 1) * filter.Limit

	var err error
	if filter.From, err = queryTime(c, "from"); err != nil {
		return writeBillingError(c, err)
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		return writeBillingError(c, err)
	}

	logs, total, err := abc.audit.List(filter)
	if err != nil {
		return writeBillingError(c, billing.NewInternalError(err, "list audit log"))
	}
	c.Set("X-Total-Count", strconv.FormatInt(total, 10))
	return c.JSON(fiber.Map{"entries": logs, "total": total, "page": page})
}

// HandleListPlans returns the whole catalogue, inactive plans included.
func (abc *AdminBillingController) HandleListPlans(c *fiber.Ctx) error {
	plans, err := abc.plans.List()
	if err != nil {
		return writeBillingError(c, billing.NewInternalError(err, "list plans"))
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandleSavePlan creates a plan or updates the one with the same type and
// billing cycle.
func (abc *AdminBillingController) HandleSavePlan(c *fiber.Ctx) error {
	var req planRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	plan := &models.Plan{
		Name:            strings.TrimSpace(req.Name),
		Type:            strings.ToLower(strings.TrimSpace(req.Type)),
		BillingCycle:    strings.ToLower(strings.TrimSpace(req.BillingCycle)),
		Price:           req.Price,
		Currency:        strings.ToLower(strings.TrimSpace(req.Currency)),
		ProviderPriceID: strings.TrimSpace(req.ProviderPriceID),
		MaxScreens:      req.MaxScreens,
		OfflineViewing:  req.OfflineViewing,
		VaultAccess:     req.VaultAccess,
		AdFree:          req.AdFree,
		IsActive:        req.IsActive,
		DisplayOrder:    req.DisplayOrder,
	}
	if plan.BillingCycle == "" {
		plan.BillingCycle = models.BillingCycleMonthly
	}
	if plan.Currency == "" {
		plan.Currency = "usd"
	}
	if err := validatePlan(plan); err != nil {
		return writeBillingError(c, err)
	}

	if err := abc.plans.Upsert(plan); err != nil {
		return writeBillingError(c, billing.NewInternalError(err, "save plan"))
	}
	saved, err := abc.plans.GetByTypeAndCycle(plan.Type, plan.BillingCycle)
	if err != nil {
		return writeBillingError(c, billing.NewInternalError(err, "reload plan"))
	}
	log.Infof("[AdminBilling] Plan %d (%s/%s) saved by user %d", saved.ID, saved.Type, saved.BillingCycle, actorFromRequest(c).UserID)
	return c.JSON(saved)
}

func validatePlan(plan *models.Plan) error {
	verr := billing.NewValidationError("invalid plan")
	var verrs validator.ValidationErrors
	if err := plan.Validate(); errors.As(err, &verrs) {
		for _, fe := range verrs {
			verr.WithDetail(strings.ToLower(fe.Field()), fe.Tag())
		}
	} else if err != nil {
		return billing.NewValidationError("invalid plan: %v", err)
	}
	if plan.Price.IsNegative() {
		verr.WithDetail("price", "min")
	}
	if plan.Type == models.PlanTypeFree && !plan.Price.IsZero() {
		verr.WithDetail("price", "zero")
	}
	if len(verr.Details) > 0 {
		return verr
	}
	return nil
}

func queryUint(c *fiber.Ctx, key string) uint {
	if v := c.QueryInt(key, 0); v > 0 {
		return uint(v)
	}
	return 0
}
