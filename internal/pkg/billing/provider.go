package billing

import (
	"context"
	"time"
)

// CheckoutRequest is what the provider needs to host a checkout page.
type CheckoutRequest struct {
	Reference     string
	PlanID        uint
	PriceID       string
	Mode          string
	UserID        *uint
	CustomerEmail string
}

// HostedCheckout is the provider's answer to a checkout request.
type HostedCheckout struct {
	SessionID string
	URL       string
}

// Provider is the payment provider boundary. Implementations must be safe for
// concurrent use. No method may be called while a database transaction is open.
type Provider interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*HostedCheckout, error)
	CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error
	ParseEvent(payload []byte, signatureHeader string) (*Envelope, error)
}

// Locker serializes sweeps across processes. Correctness never depends on it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}
