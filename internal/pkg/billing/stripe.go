package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripesubscription "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/reelhouse/reelhouse/app/models"
	"github.com/reelhouse/reelhouse/internal/pkg/metrics"
)

// StripeProvider implements Provider on top of Stripe Checkout and Billing.
type StripeProvider struct {
	webhookSecret string
	successURL    string
	cancelURL     string
	breaker       *gobreaker.CircuitBreaker[any]

	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	cancelSubscription    func(id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
	updateSubscription    func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// NewStripeProvider configures the global Stripe client key and returns a provider.
func NewStripeProvider(cfg Config) *StripeProvider {
	stripe.Key = strings.TrimSpace(cfg.StripeAPIKey)
	return &StripeProvider{
		webhookSecret:         strings.TrimSpace(cfg.StripeWebhookSecret),
		successURL:            cfg.CheckoutSuccessURL,
		cancelURL:             cfg.CheckoutCancelURL,
		breaker:               newProviderBreaker(models.BillingProviderStripe),
		createCheckoutSession: stripesession.New,
		cancelSubscription:    stripesubscription.Cancel,
		updateSubscription:    stripesubscription.Update,
	}
}

func newProviderBreaker(name string) *gobreaker.CircuitBreaker[any] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("[Stripe] Circuit breaker %s: %s -> %s", name, from, to)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	}
	return gobreaker.NewCircuitBreaker[any](settings)
}

func (p *StripeProvider) Name() string {
	return models.BillingProviderStripe
}

// CreateCheckoutSession opens a hosted checkout page for the plan's price.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*HostedCheckout, error) {
	if strings.TrimSpace(req.PriceID) == "" {
		return nil, NewValidationError("plan %d has no provider price", req.PlanID)
	}
	mode := stripe.CheckoutSessionModeSubscription
	if req.Mode == models.CheckoutModeOneTime {
		mode = stripe.CheckoutSessionModePayment
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(mode)),
		SuccessURL:        stripe.String(p.successURL),
		CancelURL:         stripe.String(p.cancelURL),
		ClientReferenceID: stripe.String(req.Reference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata("reference", req.Reference)
	params.AddMetadata("plan_id", fmt.Sprint(req.PlanID))
	if req.UserID != nil {
		params.AddMetadata("user_id", fmt.Sprint(*req.UserID))
	}

	result, err := p.call("create_checkout_session", func() (any, error) {
		return p.createCheckoutSession(params)
	})
	if err != nil {
		return nil, err
	}
	session := result.(*stripe.CheckoutSession)
	return &HostedCheckout{SessionID: session.ID, URL: session.URL}, nil
}

// CancelSubscription cancels now, or at the end of the paid period.
func (p *StripeProvider) CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error {
	if providerSubscriptionID == "" {
		return NewValidationError("provider subscription id is required")
	}
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		_, err := p.call("schedule_cancel", func() (any, error) {
			return p.updateSubscription(providerSubscriptionID, params)
		})
		return err
	}
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	_, err := p.call("cancel", func() (any, error) {
		return p.cancelSubscription(providerSubscriptionID, params)
	})
	return err
}

func (p *StripeProvider) call(operation string, fn func() (any, error)) (any, error) {
	result, err := p.breaker.Execute(fn)
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(operation, "error").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, NewExternalServiceError(err, "payment provider temporarily unavailable")
		}
		return nil, NewExternalServiceError(err, "payment provider %s failed", operation)
	}
	metrics.ProviderRequestsTotal.WithLabelValues(operation, "ok").Inc()
	return result, nil
}

// ParseEvent verifies the Stripe-Signature header and decodes the event into a
// provider-neutral envelope.
func (p *StripeProvider) ParseEvent(payload []byte, signatureHeader string) (*Envelope, error) {
	if p.webhookSecret == "" {
		return nil, NewSignatureError(errors.New("webhook secret not configured"))
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, NewSignatureError(errors.New("missing Stripe signature"))
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, NewSignatureError(err)
	}
	if event.ID == "" {
		return nil, NewValidationError("event has no id")
	}

	env := &Envelope{
		ID:           event.ID,
		Provider:     models.BillingProviderStripe,
		ProviderType: string(event.Type),
		Raw:          payload,
	}
	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}
	created := time.Unix(event.Created, 0).UTC()
	env.Payload, err = decodeStripePayload(string(event.Type), raw, created)
	if err != nil {
		return nil, NewValidationError("decode %s: %v", event.Type, err)
	}
	return env, nil
}

func decodeStripePayload(eventType string, raw json.RawMessage, created time.Time) (EventPayload, error) {
	switch eventType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var s stripeCheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return CheckoutCompleted{
			SessionID:              s.ID,
			Mode:                   s.Mode,
			ProviderSubscriptionID: objectID(s.Subscription),
			PaymentIntentID:        objectID(s.PaymentIntent),
			PaymentStatus:          s.PaymentStatus,
			Amount:                 fromMinorUnits(s.AmountTotal),
			Currency:               s.Currency,
		}, nil

	case "checkout.session.expired":
		var s stripeCheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return CheckoutExpired{SessionID: s.ID}, nil

	case "invoice.paid", "invoice.payment_succeeded":
		var inv stripeInvoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, err
		}
		paidAt := created
		if inv.StatusTransitions.PaidAt > 0 {
			paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
		}
		return PaymentSucceeded{
			ExternalID:             inv.ID,
			ProviderSubscriptionID: inv.subscriptionID(),
			Amount:                 fromMinorUnits(inv.AmountPaid),
			Currency:               inv.Currency,
			PeriodEnd:              inv.periodEnd(),
			PaidAt:                 paidAt,
		}, nil

	case "invoice.payment_failed":
		var inv stripeInvoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, err
		}
		return PaymentFailed{
			ExternalID:             FailedPaymentID(inv.ID, inv.AttemptCount),
			ProviderSubscriptionID: inv.subscriptionID(),
			Amount:                 fromMinorUnits(inv.AmountDue),
			Currency:               inv.Currency,
			Reason:                 fmt.Sprintf("invoice payment failed (attempt %d)", inv.AttemptCount),
		}, nil

	case "customer.subscription.updated":
		var sub stripeSubscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, err
		}
		return SubscriptionUpdated{
			ProviderSubscriptionID: sub.ID,
			ProviderStatus:         sub.Status,
			CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
			CurrentPeriodEnd:       sub.periodEnd(),
		}, nil

	case "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, err
		}
		return SubscriptionDeleted{ProviderSubscriptionID: sub.ID}, nil
	}
	return Ignored{}, nil
}

// stripeCheckoutSession is a minimal representation of a checkout.session object.
type stripeCheckoutSession struct {
	ID                string          `json:"id"`
	Mode              string          `json:"mode"`
	Subscription      json.RawMessage `json:"subscription"`
	PaymentIntent     json.RawMessage `json:"payment_intent"`
	PaymentStatus     string          `json:"payment_status"`
	AmountTotal       int64           `json:"amount_total"`
	Currency          string          `json:"currency"`
	ClientReferenceID string          `json:"client_reference_id"`
}

// stripeInvoice is a minimal representation of an invoice object. Newer API
// versions moved the subscription reference under parent.
type stripeInvoice struct {
	ID           string          `json:"id"`
	Subscription json.RawMessage `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	AmountPaid        int64  `json:"amount_paid"`
	AmountDue         int64  `json:"amount_due"`
	Currency          string `json:"currency"`
	AttemptCount      int64  `json:"attempt_count"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (i *stripeInvoice) subscriptionID() string {
	if id := objectID(i.Subscription); id != "" {
		return id
	}
	return objectID(i.Parent.SubscriptionDetails.Subscription)
}

func (i *stripeInvoice) periodEnd() *time.Time {
	var end int64
	for _, line := range i.Lines.Data {
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	return unixPtr(end)
}

// stripeSubscription is a minimal representation of a subscription object.
type stripeSubscription struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (s *stripeSubscription) periodEnd() *time.Time {
	end := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	return unixPtr(end)
}

// objectID reads an expandable field that is either an id string or an object.
func objectID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
