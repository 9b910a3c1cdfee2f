package billing

import (
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/reelhouse/reelhouse/app/models"
)

// CheckoutTracker records hosted checkout attempts. It never creates
// subscriptions; the event reconciler links one on completion.
type CheckoutTracker struct {
	ttl time.Duration
	now func() time.Time
}

// NewCheckoutTracker creates a tracker whose sessions expire after ttl.
func NewCheckoutTracker(ttl time.Duration, now func() time.Time) *CheckoutTracker {
	return &CheckoutTracker{ttl: ttl, now: now}
}

// Create stores a new open session for a checkout the provider is hosting.
func (t *CheckoutTracker) Create(repo Repository, userID *uint, plan *models.Plan, mode, reference string, hosted *HostedCheckout) (*models.CheckoutSession, error) {
	if hosted == nil || hosted.SessionID == "" {
		return nil, NewValidationError("provider returned no checkout session")
	}
	now := t.now()
	session := &models.CheckoutSession{
		UUID:              reference,
		UserID:            userID,
		PlanID:            plan.ID,
		ExternalSessionID: hosted.SessionID,
		Status:            models.CheckoutStatusCreated,
		PaymentStatus:     "unpaid",
		Mode:              mode,
		Amount:            plan.Price,
		Currency:          normalizeCurrency(plan.Currency),
		CheckoutURL:       hosted.URL,
		ExpiresAt:         now.Add(t.ttl),
	}
	if err := repo.CreateCheckoutSession(session); err != nil {
		return nil, err
	}
	return session, nil
}

// MarkCompleted closes a session as completed. Completing an already completed
// session is a no-op that returns the stored row. A session the sweeper already
// expired is still completed because the provider took the payment.
func (t *CheckoutTracker) MarkCompleted(repo Repository, externalSessionID string, subscriptionID *uint, paymentStatus string) (*models.CheckoutSession, error) {
	session, err := repo.GetCheckoutSessionByExternalID(externalSessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.CheckoutStatusCompleted {
		return session, nil
	}
	if session.Status == models.CheckoutStatusExpired {
		log.Warnf("[CheckoutTracker] Session %s completed after local expiry", externalSessionID)
	}
	if paymentStatus == "" {
		paymentStatus = session.PaymentStatus
	}
	if _, err := repo.CompleteCheckoutSession(session.ID, subscriptionID, paymentStatus, t.now()); err != nil {
		return nil, err
	}
	return repo.GetCheckoutSessionByExternalID(externalSessionID)
}

// MarkExpired closes an open session as expired. It reports whether the row
// changed.
func (t *CheckoutTracker) MarkExpired(repo Repository, externalSessionID string) (bool, error) {
	session, err := repo.GetCheckoutSessionByExternalID(externalSessionID)
	if err != nil {
		return false, err
	}
	if !session.IsOpen() {
		return false, nil
	}
	return repo.ExpireCheckoutSession(session.ID)
}
