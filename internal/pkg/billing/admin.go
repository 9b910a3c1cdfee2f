package billing

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/reelhouse/reelhouse/app/models"
	"github.com/reelhouse/reelhouse/internal/pkg/metrics"
)

// MaxBulkTargets limits a single bulk override request.
const MaxBulkTargets = 100

const reasonAdmin = "admin override"

// AdminOverride performs administrative transitions. Every call writes an
// audit row: successful ones inside the transaction that changed state,
// rejected ones afterwards with the state left unchanged.
type AdminOverride struct {
	repo    Repository
	machine *StateMachine
}

// NewAdminOverride creates the override component.
func NewAdminOverride(repo Repository, machine *StateMachine) *AdminOverride {
	return &AdminOverride{repo: repo, machine: machine}
}

type overrideFunc func(tx Repository, res *OverrideResult) error

// ForceCancel moves a subscription to CANCELLED immediately.
func (a *AdminOverride) ForceCancel(ctx context.Context, actor Actor, subscriptionID uint, reason string) (*OverrideResult, error) {
	return a.apply(ctx, actor, models.AuditActionForceCancel, reason, func(tx Repository, res *OverrideResult) error {
		sub, err := a.loadTarget(tx, subscriptionID, res)
		if err != nil {
			return err
		}
		updated, err := a.machine.cancelImmediately(tx, sub, reasonOr(reason))
		if err != nil {
			return err
		}
		res.NewState = updated.Status
		res.Subscription = updated
		return nil
	})
}

// ForceExpire moves a subscription to EXPIRED.
func (a *AdminOverride) ForceExpire(ctx context.Context, actor Actor, subscriptionID uint, reason string) (*OverrideResult, error) {
	return a.apply(ctx, actor, models.AuditActionForceExpire, reason, a.expireFunc(subscriptionID))
}

// ForceExpireUser expires the user's current subscription.
func (a *AdminOverride) ForceExpireUser(ctx context.Context, actor Actor, userID uint, reason string) (*OverrideResult, error) {
	sub, err := a.repo.FindLatestSubscription(userID)
	if err != nil {
		return nil, err
	}
	return a.ForceExpire(ctx, actor, sub.ID, reason)
}

// BulkForceExpire expires several subscriptions. It refuses the whole request
// when any target belongs to the acting administrator. Per-target failures are
// reported in the results and do not stop the batch.
func (a *AdminOverride) BulkForceExpire(ctx context.Context, actor Actor, subscriptionIDs []uint, reason string) ([]OverrideResult, error) {
	if len(subscriptionIDs) == 0 {
		return nil, NewValidationError("at least one subscription id is required")
	}
	if len(subscriptionIDs) > MaxBulkTargets {
		return nil, NewValidationError("at most %d subscriptions per request", MaxBulkTargets).
			WithDetail("count", len(subscriptionIDs))
	}

	ids := make([]uint, 0, len(subscriptionIDs))
	missing := make(map[uint]bool, len(subscriptionIDs))
	for _, id := range subscriptionIDs {
		if _, dup := missing[id]; dup {
			continue
		}
		ids = append(ids, id)
		sub, err := a.repo.GetSubscription(id)
		if IsKind(err, KindNotFound) {
			missing[id] = true
			continue
		}
		if err != nil {
			return nil, err
		}
		missing[id] = false
		if sub.UserID == actor.UserID {
			a.auditRejection(actor, models.AuditActionBulkExpire, reason, &OverrideResult{
				SubscriptionID: sub.ID,
				UserID:         sub.UserID,
				PriorState:     sub.Status,
			}, "self-targeting bulk operation")
			metrics.AdminOverridesTotal.WithLabelValues(models.AuditActionBulkExpire, "rejected").Inc()
			return nil, NewAuthorizationError("bulk operations may not target your own account").
				WithDetail("subscription_id", sub.ID)
		}
	}

	results := make([]OverrideResult, 0, len(ids))
	for _, id := range ids {
		if missing[id] {
			results = append(results, OverrideResult{SubscriptionID: id, Error: NewNotFoundError("subscription %d not found", id).Error()})
			continue
		}
		res, err := a.apply(ctx, actor, models.AuditActionBulkExpire, reason, a.expireFunc(id))
		if err != nil {
			failed := OverrideResult{SubscriptionID: id}
			if res != nil {
				failed = *res
			}
			failed.Error = err.Error()
			results = append(results, failed)
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

// Reinstate creates a fresh ACTIVE subscription for the owner and plan of a
// terminal subscription, valid for one billing cycle and not auto-renewing.
func (a *AdminOverride) Reinstate(ctx context.Context, actor Actor, subscriptionID uint, reason string) (*OverrideResult, error) {
	return a.apply(ctx, actor, models.AuditActionReinstate, reason, func(tx Repository, res *OverrideResult) error {
		old, err := a.loadTarget(tx, subscriptionID, res)
		if err != nil {
			return err
		}
		if !old.IsTerminal() {
			return NewConflictError("subscription %d is still %s", old.ID, old.Status).
				WithDetail("status", old.Status)
		}
		fresh := &models.Subscription{
			UserID:      old.UserID,
			PlanID:      old.PlanID,
			Status:      models.SubscriptionStatusPending,
			StartDate:   a.machine.Now(),
			AutoRenewal: false,
		}
		if err := tx.CreateSubscription(fresh); err != nil {
			return err
		}
		activated, err := a.machine.activate(tx, fresh, nil)
		if err != nil {
			return err
		}
		res.SubscriptionID = activated.ID
		res.NewState = activated.Status
		res.Subscription = activated
		return nil
	})
}

// GrantPlan gives a user a complimentary plan, or revokes an existing grant
// when planID is nil. Billing takes precedence: a user with a paid
// subscription cannot receive a grant.
func (a *AdminOverride) GrantPlan(ctx context.Context, actor Actor, userID uint, planID *uint, reason string) (*OverrideResult, error) {
	return a.apply(ctx, actor, models.AuditActionGrantPlan, reason, func(tx Repository, res *OverrideResult) error {
		user, err := tx.GetUser(userID)
		if err != nil {
			return err
		}
		res.UserID = user.ID
		res.PriorState = user.SubscriptionStatus

		var plan *models.Plan
		if planID == nil {
			if !user.HasGrant() {
				return NewConflictError("user %d has no complimentary plan", user.ID)
			}
		} else {
			active, err := tx.ListEntitlingSubscriptions(user.ID)
			if err != nil {
				return err
			}
			if len(active) > 0 {
				return NewConflictError("user %d has a paid subscription", user.ID).
					WithDetail("subscription_id", active[0].ID)
			}
			if plan, err = tx.GetPlan(*planID); err != nil {
				return err
			}
		}
		if err := a.machine.grantSnapshot(tx, user, plan); err != nil {
			return err
		}
		res.NewState = user.SubscriptionStatus
		return nil
	})
}

func (a *AdminOverride) expireFunc(subscriptionID uint) overrideFunc {
	return func(tx Repository, res *OverrideResult) error {
		sub, err := a.loadTarget(tx, subscriptionID, res)
		if err != nil {
			return err
		}
		updated, err := a.machine.expire(tx, sub)
		if err != nil {
			return err
		}
		res.NewState = updated.Status
		res.Subscription = updated
		return nil
	}
}

func (a *AdminOverride) loadTarget(tx Repository, subscriptionID uint, res *OverrideResult) (*models.Subscription, error) {
	sub, err := tx.GetSubscription(subscriptionID)
	if err != nil {
		return nil, err
	}
	res.SubscriptionID = sub.ID
	res.UserID = sub.UserID
	res.PriorState = sub.Status
	return sub, nil
}

func (a *AdminOverride) apply(ctx context.Context, actor Actor, action, reason string, fn overrideFunc) (*OverrideResult, error) {
	if actor.UserID == 0 {
		return nil, NewAuthenticationError("administrator identity is required")
	}
	if actor.RequestID == "" {
		actor.RequestID = uuid.NewString()
	}

	var res *OverrideResult
	err := a.repo.Transaction(ctx, func(tx Repository) error {
		res = &OverrideResult{}
		if err := fn(tx, res); err != nil {
			return err
		}
		return tx.CreateAuditLog(newAuditLog(actor, action, reason, res))
	})
	if err != nil {
		metrics.AdminOverridesTotal.WithLabelValues(action, "rejected").Inc()
		if res != nil && res.UserID != 0 {
			a.auditRejection(actor, action, reason, res, err.Error())
			res.NewState = res.PriorState
			res.Subscription = nil
			return res, err
		}
		return nil, err
	}

	metrics.AdminOverridesTotal.WithLabelValues(action, "ok").Inc()
	log.Infof("[AdminOverride] %s by user %d on user %d: %s -> %s", action, actor.UserID, res.UserID, res.PriorState, res.NewState)
	return res, nil
}

func (a *AdminOverride) auditRejection(actor Actor, action, reason string, res *OverrideResult, cause string) {
	entry := newAuditLog(actor, action, truncate("rejected: "+cause+"; "+reason, 500), &OverrideResult{
		SubscriptionID: res.SubscriptionID,
		UserID:         res.UserID,
		PriorState:     res.PriorState,
		NewState:       res.PriorState,
	})
	if err := a.repo.CreateAuditLog(entry); err != nil {
		log.Errorf("[AdminOverride] Failed to write audit log for rejected %s: %v", action, err)
	}
}

func newAuditLog(actor Actor, action, reason string, res *OverrideResult) *models.AdminAuditLog {
	entry := &models.AdminAuditLog{
		RequestID:    actor.RequestID,
		ActorID:      actor.UserID,
		ActorIP:      actor.IP,
		Action:       action,
		TargetUserID: res.UserID,
		PriorState:   res.PriorState,
		NewState:     res.NewState,
		Reason:       truncate(reason, 500),
	}
	if res.SubscriptionID != 0 {
		id := res.SubscriptionID
		entry.TargetSubscriptionID = &id
	}
	return entry
}

func reasonOr(reason string) string {
	if reason == "" {
		return reasonAdmin
	}
	return reason
}
