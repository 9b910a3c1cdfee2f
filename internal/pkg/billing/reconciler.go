package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/reelhouse/reelhouse/app/models"
	"github.com/reelhouse/reelhouse/internal/pkg/metrics"
)

const reasonProvider = "provider"

type eventHandler func(tx Repository, env *Envelope) error

// EventReconciler applies verified provider notifications. Each event is
// claimed and applied in one transaction, so a redelivered event either finds
// the claim and is acknowledged, or finds nothing and is applied again.
type EventReconciler struct {
	repo        Repository
	machine     *StateMachine
	tracker     *CheckoutTracker
	maxAttempts int
	handlers    map[EventKind]eventHandler
}

// NewEventReconciler wires the dispatch table.
func NewEventReconciler(repo Repository, machine *StateMachine, tracker *CheckoutTracker, maxAttempts int) *EventReconciler {
	r := &EventReconciler{
		repo:        repo,
		machine:     machine,
		tracker:     tracker,
		maxAttempts: maxAttempts,
	}
	r.handlers = map[EventKind]eventHandler{
		EventCheckoutCompleted:   r.checkoutCompleted,
		EventCheckoutExpired:     r.checkoutExpired,
		EventPaymentSucceeded:    r.paymentSucceeded,
		EventPaymentFailed:       r.paymentFailed,
		EventSubscriptionUpdated: r.subscriptionUpdated,
		EventSubscriptionDeleted: r.subscriptionDeleted,
		EventIgnored:             func(Repository, *Envelope) error { return nil },
	}
	return r
}

// Process applies a verified envelope exactly once.
func (r *EventReconciler) Process(ctx context.Context, env *Envelope) (*Outcome, error) {
	if env == nil || env.ID == "" {
		return nil, NewValidationError("event id is required")
	}
	kind := env.Kind()
	handler, ok := r.handlers[kind]
	if !ok {
		kind = EventIgnored
		handler = r.handlers[EventIgnored]
	}

	start := time.Now()
	defer func() {
		metrics.WebhookDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}()

	outcome := &Outcome{EventID: env.ID, Kind: kind, Ignored: kind == EventIgnored}
	err := withRetry(ctx, r.maxAttempts, func() error {
		outcome.Duplicate = false
		return r.repo.Transaction(ctx, func(tx Repository) error {
			claimed, err := tx.ClaimWebhookEvent(newWebhookEvent(env), r.machine.Now())
			if err != nil {
				return err
			}
			if !claimed {
				outcome.Duplicate = true
				return nil
			}
			return handler(tx, env)
		})
	})
	if err != nil {
		if recErr := r.repo.RecordWebhookFailure(newWebhookEvent(env), err.Error()); recErr != nil {
			log.Errorf("[EventReconciler] Failed to record failure of event %s: %v", env.ID, recErr)
		}
		metrics.WebhookEventsTotal.WithLabelValues(string(kind), "failed").Inc()
		log.Errorf("[EventReconciler] Event %s (%s) failed: %v", env.ID, env.ProviderType, err)
		return nil, err
	}

	switch {
	case outcome.Duplicate:
		metrics.WebhookEventsTotal.WithLabelValues(string(kind), "duplicate").Inc()
		log.Infof("[EventReconciler] Event %s already processed", env.ID)
	case outcome.Ignored:
		metrics.WebhookEventsTotal.WithLabelValues(string(kind), "ignored").Inc()
		log.Debugf("[EventReconciler] Event %s (%s) ignored", env.ID, env.ProviderType)
	default:
		metrics.WebhookEventsTotal.WithLabelValues(string(kind), "processed").Inc()
		log.Infof("[EventReconciler] Event %s (%s) processed", env.ID, env.ProviderType)
	}
	return outcome, nil
}

func newWebhookEvent(env *Envelope) *models.BillingWebhookEvent {
	provider := env.Provider
	if provider == "" {
		provider = models.BillingProviderStripe
	}
	eventType := env.ProviderType
	if eventType == "" {
		eventType = string(env.Kind())
	}
	payload := string(env.Raw)
	if payload == "" {
		payload = "{}"
	}
	return &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: env.ID,
		EventType:       eventType,
		PayloadJSON:     payload,
	}
}

func (r *EventReconciler) checkoutCompleted(tx Repository, env *Envelope) error {
	p := env.Payload.(CheckoutCompleted)
	session, err := tx.GetCheckoutSessionByExternalID(p.SessionID)
	if IsKind(err, KindNotFound) {
		log.Warnf("[EventReconciler] Unknown checkout session %s, acknowledging", p.SessionID)
		return nil
	}
	if err != nil {
		return err
	}
	if session.Status == models.CheckoutStatusCompleted {
		return nil
	}
	if session.UserID == nil {
		log.Infof("[EventReconciler] Guest checkout %s completed", p.SessionID)
		_, err := r.tracker.MarkCompleted(tx, p.SessionID, nil, p.PaymentStatus)
		return err
	}

	mode := normalizeMode(p.Mode)
	if mode == "" {
		mode = session.Mode
	}
	if mode == models.CheckoutModeSubscription && p.ProviderSubscriptionID == "" {
		return NewValidationError("checkout %s completed without a subscription reference", p.SessionID)
	}

	sub, err := r.findOrCreatePending(tx, session, mode, p.ProviderSubscriptionID)
	if err != nil {
		return err
	}

	if mode == models.CheckoutModeOneTime && p.PaymentStatus == "paid" && sub.Status == models.SubscriptionStatusPending {
		externalID := p.PaymentIntentID
		if externalID == "" {
			externalID = "checkout:" + p.SessionID
		}
		amount := p.Amount
		if amount.IsZero() {
			amount = session.Amount
		}
		now := r.machine.Now()
		if _, err := tx.CreatePaymentIfNotExists(&models.Payment{
			SubscriptionID:  sub.ID,
			Amount:          amount,
			Currency:        normalizeCurrency(firstNonEmpty(p.Currency, session.Currency)),
			Status:          models.PaymentStatusSucceeded,
			PaymentMethod:   paymentMethod(env),
			ExternalID:      externalID,
			ProviderEventID: env.ID,
			PaidAt:          &now,
		}); err != nil {
			return err
		}
		if _, err := r.machine.activate(tx, sub, nil); err != nil {
			return err
		}
	}

	_, err = r.tracker.MarkCompleted(tx, p.SessionID, &sub.ID, p.PaymentStatus)
	return err
}

func (r *EventReconciler) findOrCreatePending(tx Repository, session *models.CheckoutSession, mode, providerSubscriptionID string) (*models.Subscription, error) {
	if providerSubscriptionID != "" {
		sub, err := tx.GetSubscriptionByProviderID(providerSubscriptionID)
		if err == nil {
			return sub, nil
		}
		if !IsKind(err, KindNotFound) {
			return nil, err
		}
	}

	sub := &models.Subscription{
		UserID:      *session.UserID,
		PlanID:      session.PlanID,
		Status:      models.SubscriptionStatusPending,
		StartDate:   r.machine.Now(),
		AutoRenewal: mode == models.CheckoutModeSubscription,
	}
	if providerSubscriptionID != "" {
		ref := providerSubscriptionID
		sub.ProviderSubscriptionID = &ref
	}
	if err := tx.CreateSubscription(sub); err != nil {
		return nil, err
	}
	log.Infof("[EventReconciler] Created pending subscription %d for user %d", sub.ID, sub.UserID)
	return sub, nil
}

func (r *EventReconciler) checkoutExpired(tx Repository, env *Envelope) error {
	p := env.Payload.(CheckoutExpired)
	changed, err := r.tracker.MarkExpired(tx, p.SessionID)
	if IsKind(err, KindNotFound) {
		log.Warnf("[EventReconciler] Unknown checkout session %s, acknowledging", p.SessionID)
		return nil
	}
	if err == nil && changed {
		log.Infof("[EventReconciler] Checkout session %s expired by provider", p.SessionID)
	}
	return err
}

func (r *EventReconciler) paymentSucceeded(tx Repository, env *Envelope) error {
	p := env.Payload.(PaymentSucceeded)
	if p.ProviderSubscriptionID == "" {
		log.Debugf("[EventReconciler] Payment %s has no subscription, ignoring", p.ExternalID)
		return nil
	}
	sub, err := tx.GetSubscriptionByProviderID(p.ProviderSubscriptionID)
	if err != nil {
		return err
	}

	paidAt := p.PaidAt
	if paidAt.IsZero() {
		paidAt = r.machine.Now()
	}
	created, err := tx.CreatePaymentIfNotExists(&models.Payment{
		SubscriptionID:  sub.ID,
		Amount:          p.Amount,
		Currency:        normalizeCurrency(p.Currency),
		Status:          models.PaymentStatusSucceeded,
		PaymentMethod:   paymentMethod(env),
		ExternalID:      p.ExternalID,
		ProviderEventID: env.ID,
		PaidAt:          &paidAt,
	})
	if err != nil {
		return err
	}
	if !created {
		log.Infof("[EventReconciler] Payment %s already recorded", p.ExternalID)
		return nil
	}

	switch sub.Status {
	case models.SubscriptionStatusPending:
		_, err = r.machine.activate(tx, sub, p.PeriodEnd)
	case models.SubscriptionStatusActive:
		_, err = r.machine.renew(tx, sub, p.PeriodEnd)
	case models.SubscriptionStatusGracePeriod:
		if sub.GracePeriodEnd != nil && !r.machine.Now().Before(*sub.GracePeriodEnd) {
			log.Warnf("[EventReconciler] Payment %s arrived after grace period of subscription %d", p.ExternalID, sub.ID)
			return nil
		}
		_, err = r.machine.activate(tx, sub, p.PeriodEnd)
	default:
		log.Warnf("[EventReconciler] Payment %s recorded for %s subscription %d", p.ExternalID, sub.Status, sub.ID)
	}
	return err
}

func (r *EventReconciler) paymentFailed(tx Repository, env *Envelope) error {
	p := env.Payload.(PaymentFailed)
	if p.ProviderSubscriptionID == "" {
		return nil
	}
	sub, err := tx.GetSubscriptionByProviderID(p.ProviderSubscriptionID)
	if err != nil {
		return err
	}
	created, err := tx.CreatePaymentIfNotExists(&models.Payment{
		SubscriptionID:  sub.ID,
		Amount:          p.Amount,
		Currency:        normalizeCurrency(p.Currency),
		Status:          models.PaymentStatusFailed,
		PaymentMethod:   paymentMethod(env),
		ExternalID:      p.ExternalID,
		ProviderEventID: env.ID,
		FailureReason:   truncate(p.Reason, 500),
	})
	if err != nil || !created {
		return err
	}
	if sub.Status != models.SubscriptionStatusActive {
		log.Infof("[EventReconciler] Payment failure on %s subscription %d recorded", sub.Status, sub.ID)
		return nil
	}
	_, err = r.machine.enterGrace(tx, sub)
	return err
}

func (r *EventReconciler) subscriptionUpdated(tx Repository, env *Envelope) error {
	p := env.Payload.(SubscriptionUpdated)
	sub, err := tx.GetSubscriptionByProviderID(p.ProviderSubscriptionID)
	if err != nil {
		return err
	}
	if sub.IsTerminal() {
		log.Infof("[EventReconciler] Subscription %d is %s, ignoring provider update", sub.ID, sub.Status)
		return nil
	}

	if sub.Status == models.SubscriptionStatusActive {
		switch {
		case p.CancelAtPeriodEnd && !sub.HasScheduledCancellation():
			if sub, err = r.machine.scheduleCancellation(tx, sub, reasonProvider); err != nil {
				return err
			}
		case !p.CancelAtPeriodEnd && sub.HasScheduledCancellation():
			if sub, err = r.machine.resumeRenewal(tx, sub); err != nil {
				return err
			}
		}
	}

	// The period end only moves with a recorded payment. A past_due update means
	// the provider is still retrying the charge: the row keeps its grace window
	// and the scheduled reconciler expires it at gracePeriodEnd.
	if isRetryingStatus(p.ProviderStatus) {
		if sub.Status == models.SubscriptionStatusActive {
			_, err = r.machine.enterGrace(tx, sub)
		}
		return err
	}

	target := MapProviderStatus(p.ProviderStatus)
	switch {
	case target == models.SubscriptionStatusPending:
		log.Warnf("[EventReconciler] Unmapped provider status %q for subscription %d", p.ProviderStatus, sub.ID)
		return nil
	case target == sub.Status:
		return nil
	case target == models.SubscriptionStatusActive:
		_, err = r.machine.activate(tx, sub, p.CurrentPeriodEnd)
	case target == models.SubscriptionStatusCancelled:
		_, err = r.machine.cancelImmediately(tx, sub, reasonProvider)
	case target == models.SubscriptionStatusExpired:
		_, err = r.machine.expire(tx, sub)
	}
	return err
}

func (r *EventReconciler) subscriptionDeleted(tx Repository, env *Envelope) error {
	p := env.Payload.(SubscriptionDeleted)
	sub, err := tx.GetSubscriptionByProviderID(p.ProviderSubscriptionID)
	if err != nil {
		return err
	}
	if sub.IsTerminal() {
		return nil
	}
	if sub.HasScheduledCancellation() {
		_, err = r.machine.cancelImmediately(tx, sub, "")
		return err
	}
	_, err = r.machine.expire(tx, sub)
	return err
}

func isRetryingStatus(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), "past_due")
}

func paymentMethod(env *Envelope) string {
	if env.Provider == "" {
		return models.BillingProviderStripe
	}
	return env.Provider
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// FailedPaymentID builds the ledger key for a failed charge attempt so retries
// of the same invoice are recorded separately.
func FailedPaymentID(invoiceID string, attempt int64) string {
	return fmt.Sprintf("%s:failed:%d", invoiceID, attempt)
}
