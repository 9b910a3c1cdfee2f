package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/reelhouse/reelhouse/app/models"
)

// EventKind is the provider-neutral type of a notification.
type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout.completed"
	EventCheckoutExpired     EventKind = "checkout.expired"
	EventPaymentSucceeded    EventKind = "payment.succeeded"
	EventPaymentFailed       EventKind = "payment.failed"
	EventSubscriptionUpdated EventKind = "subscription.updated"
	EventSubscriptionDeleted EventKind = "subscription.deleted"
	EventIgnored             EventKind = "ignored"
)

// Envelope is a verified provider notification.
type Envelope struct {
	ID           string
	Provider     string
	ProviderType string
	Payload      EventPayload
	Raw          []byte
}

// Kind returns the payload kind, or EventIgnored when there is none.
func (e *Envelope) Kind() EventKind {
	if e == nil || e.Payload == nil {
		return EventIgnored
	}
	return e.Payload.Kind()
}

// EventPayload is implemented by the closed set of payloads below.
type EventPayload interface {
	Kind() EventKind
}

type CheckoutCompleted struct {
	SessionID              string
	Mode                   string
	ProviderSubscriptionID string
	PaymentIntentID        string
	PaymentStatus          string
	Amount                 decimal.Decimal
	Currency               string
}

type CheckoutExpired struct {
	SessionID string
}

type PaymentSucceeded struct {
	ExternalID             string
	ProviderSubscriptionID string
	Amount                 decimal.Decimal
	Currency               string
	PeriodEnd              *time.Time
	PaidAt                 time.Time
}

type PaymentFailed struct {
	ExternalID             string
	ProviderSubscriptionID string
	Amount                 decimal.Decimal
	Currency               string
	Reason                 string
}

type SubscriptionUpdated struct {
	ProviderSubscriptionID string
	ProviderStatus         string
	CancelAtPeriodEnd      bool
	CurrentPeriodEnd       *time.Time
}

type SubscriptionDeleted struct {
	ProviderSubscriptionID string
}

type Ignored struct{}

func (CheckoutCompleted) Kind() EventKind   { return EventCheckoutCompleted }
func (CheckoutExpired) Kind() EventKind     { return EventCheckoutExpired }
func (PaymentSucceeded) Kind() EventKind    { return EventPaymentSucceeded }
func (PaymentFailed) Kind() EventKind       { return EventPaymentFailed }
func (SubscriptionUpdated) Kind() EventKind { return EventSubscriptionUpdated }
func (SubscriptionDeleted) Kind() EventKind { return EventSubscriptionDeleted }
func (Ignored) Kind() EventKind             { return EventIgnored }

// Outcome describes what happened to a notification.
type Outcome struct {
	EventID   string    `json:"event_id"`
	Kind      EventKind `json:"kind"`
	Duplicate bool      `json:"duplicate"`
	Ignored   bool      `json:"ignored"`
}

// CheckoutInput is a request to start a hosted checkout.
type CheckoutInput struct {
	PlanID        uint   `json:"plan_id" validate:"required"`
	Mode          string `json:"mode" validate:"omitempty,oneof=subscription one-time"`
	CustomerEmail string `json:"email" validate:"omitempty,email,max=200"`
}

// CancelInput is a user cancellation request.
type CancelInput struct {
	SubscriptionID uint   `json:"subscription_id"`
	Reason         string `json:"reason" validate:"max=500"`
	Immediate      bool   `json:"immediate"`
}

// CancellationResult reports the state after a cancellation request.
type CancellationResult struct {
	SubscriptionID uint      `json:"subscription_id"`
	Status         string    `json:"status"`
	AutoRenewal    bool      `json:"auto_renewal"`
	Immediate      bool      `json:"immediate"`
	EffectiveAt    time.Time `json:"effective_at"`
}

// Actor identifies the administrator performing an override.
type Actor struct {
	UserID    uint
	IP        string
	RequestID string
}

// OverrideResult reports the state change made by an administrative override.
type OverrideResult struct {
	SubscriptionID uint                 `json:"subscription_id,omitempty"`
	UserID         uint                 `json:"user_id"`
	PriorState     string               `json:"prior_state"`
	NewState       string               `json:"new_state"`
	Subscription   *models.Subscription `json:"subscription,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// SubscriptionView is the read model for a user's billing state.
type SubscriptionView struct {
	User         *models.User         `json:"user"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}
