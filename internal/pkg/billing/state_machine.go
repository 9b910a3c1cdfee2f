package billing

import (
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/reelhouse/reelhouse/app/models"
	"github.com/reelhouse/reelhouse/internal/pkg/metrics"
)

const reasonSuperseded = "superseded"

// StateMachine owns subscription transitions and the user entitlement snapshot.
// Every method expects a transaction-bound repository.
type StateMachine struct {
	cfg Config
	now func() time.Time
}

// NewStateMachine creates a state machine using the wall clock in UTC.
func NewStateMachine(cfg Config) *StateMachine {
	return &StateMachine{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Now returns the machine's current time.
func (m *StateMachine) Now() time.Time {
	return m.now()
}

// transition moves sub to the target status with a conditional update scoped to
// the status it was read with, then recomputes the owner's snapshot.
func (m *StateMachine) transition(repo Repository, sub *models.Subscription, to string, fields map[string]any) (*models.Subscription, error) {
	from := sub.Status
	if from == to {
		return nil, NewConflictError("subscription %d is already %s", sub.ID, to).
			WithDetail("status", from)
	}
	if !canTransition(from, to) {
		return nil, NewConflictError("subscription %d cannot move from %s to %s", sub.ID, from, to).
			WithDetail("status", from)
	}

	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	ok, err := repo.CompareAndSwapSubscription(sub.ID, from, updates)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewConflictError("subscription %d changed concurrently", sub.ID).
			WithDetail("expected_status", from)
	}

	updated, err := repo.GetSubscription(sub.ID)
	if err != nil {
		return nil, err
	}
	metrics.SubscriptionTransitionsTotal.WithLabelValues(from, to).Inc()
	log.Infof("[Billing] Subscription %d: %s -> %s", sub.ID, from, to)

	if err := m.syncSnapshot(repo, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// activate moves a PENDING or GRACE_PERIOD subscription to ACTIVE. Other paid
// subscriptions of the same user are cancelled as superseded.
func (m *StateMachine) activate(repo Repository, sub *models.Subscription, periodEnd *time.Time) (*models.Subscription, error) {
	now := m.now()
	plan, err := repo.GetPlan(sub.PlanID)
	if err != nil {
		return nil, err
	}
	end := m.resolvePeriodEnd(plan, periodEnd, now)

	others, err := repo.ListEntitlingSubscriptions(sub.UserID)
	if err != nil {
		return nil, err
	}
	for i := range others {
		if others[i].ID == sub.ID {
			continue
		}
		if _, err := m.cancelImmediately(repo, &others[i], reasonSuperseded); err != nil {
			return nil, err
		}
	}

	fields := map[string]any{
		"end_date":         end,
		"grace_period_end": nil,
	}
	if sub.Status == models.SubscriptionStatusPending {
		fields["start_date"] = now
	}
	if sub.AutoRenewal {
		fields["next_billing_date"] = end
	} else {
		fields["next_billing_date"] = nil
	}
	return m.transition(repo, sub, models.SubscriptionStatusActive, fields)
}

// renew extends an ACTIVE subscription to a newly paid period end.
func (m *StateMachine) renew(repo Repository, sub *models.Subscription, periodEnd *time.Time) (*models.Subscription, error) {
	now := m.now()
	plan, err := repo.GetPlan(sub.PlanID)
	if err != nil {
		return nil, err
	}
	end := m.resolvePeriodEnd(plan, periodEnd, now)
	if sub.EndDate != nil && !end.After(*sub.EndDate) {
		return sub, nil
	}

	fields := map[string]any{"end_date": end}
	if sub.AutoRenewal {
		fields["next_billing_date"] = end
	}
	ok, err := repo.CompareAndSwapSubscription(sub.ID, sub.Status, fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewConflictError("subscription %d changed concurrently", sub.ID)
	}
	updated, err := repo.GetSubscription(sub.ID)
	if err != nil {
		return nil, err
	}
	return updated, m.syncSnapshot(repo, updated)
}

// enterGrace handles a failed renewal charge on an ACTIVE subscription. The
// user keeps access until endDate plus the grace window, the same leeway the
// scheduled reconciler gives a renewal that never reported back. A failure
// past that point expires the subscription.
func (m *StateMachine) enterGrace(repo Repository, sub *models.Subscription) (*models.Subscription, error) {
	if sub.EndDate == nil {
		return m.expire(repo, sub)
	}
	graceEnd := sub.EndDate.Add(m.cfg.GracePeriod)
	if !m.now().Before(graceEnd) {
		return m.expire(repo, sub)
	}
	return m.transition(repo, sub, models.SubscriptionStatusGracePeriod, map[string]any{
		"grace_period_end": graceEnd,
	})
}

// cancelImmediately revokes access now.
func (m *StateMachine) cancelImmediately(repo Repository, sub *models.Subscription, reason string) (*models.Subscription, error) {
	now := m.now()
	fields := map[string]any{
		"auto_renewal":      false,
		"next_billing_date": nil,
	}
	if sub.CancelledAt == nil {
		fields["cancelled_at"] = now
	}
	if reason != "" {
		fields["cancellation_reason"] = reason
	}
	return m.transition(repo, sub, models.SubscriptionStatusCancelled, fields)
}

// scheduleCancellation stops renewal but keeps the subscription ACTIVE until
// its end date. The scheduled reconciler performs the downgrade.
func (m *StateMachine) scheduleCancellation(repo Repository, sub *models.Subscription, reason string) (*models.Subscription, error) {
	if sub.CancelledAt != nil && !sub.AutoRenewal {
		return nil, NewConflictError("subscription %d is already scheduled for cancellation", sub.ID).
			WithDetail("status", sub.Status)
	}
	fields := map[string]any{
		"auto_renewal":      false,
		"cancelled_at":      m.now(),
		"next_billing_date": nil,
	}
	if reason != "" {
		fields["cancellation_reason"] = reason
	}
	ok, err := repo.ScheduleCancellation(sub.ID, sub.Status, fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewConflictError("subscription %d changed concurrently", sub.ID)
	}
	updated, err := repo.GetSubscription(sub.ID)
	if err != nil {
		return nil, err
	}
	log.Infof("[Billing] Subscription %d scheduled for cancellation at %v", sub.ID, updated.EndDate)
	return updated, m.syncSnapshot(repo, updated)
}

// resumeRenewal undoes a scheduled cancellation while the subscription is
// still ACTIVE.
func (m *StateMachine) resumeRenewal(repo Repository, sub *models.Subscription) (*models.Subscription, error) {
	if !sub.HasScheduledCancellation() {
		return nil, NewConflictError("subscription %d has no scheduled cancellation", sub.ID)
	}
	ok, err := repo.CompareAndSwapSubscription(sub.ID, sub.Status, map[string]any{
		"auto_renewal":        true,
		"cancelled_at":        nil,
		"cancellation_reason": nil,
		"next_billing_date":   sub.EndDate,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewConflictError("subscription %d changed concurrently", sub.ID)
	}
	updated, err := repo.GetSubscription(sub.ID)
	if err != nil {
		return nil, err
	}
	log.Infof("[Billing] Subscription %d renewal resumed", sub.ID)
	return updated, m.syncSnapshot(repo, updated)
}

// expire ends a subscription for a time-based, provider or administrative reason.
func (m *StateMachine) expire(repo Repository, sub *models.Subscription) (*models.Subscription, error) {
	return m.transition(repo, sub, models.SubscriptionStatusExpired, map[string]any{
		"auto_renewal":      false,
		"next_billing_date": nil,
	})
}

func (m *StateMachine) resolvePeriodEnd(plan *models.Plan, periodEnd *time.Time, now time.Time) time.Time {
	if periodEnd != nil && periodEnd.After(now) {
		return periodEnd.UTC()
	}
	return now.Add(plan.CycleLength())
}
