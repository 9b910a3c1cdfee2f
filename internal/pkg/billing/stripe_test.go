package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestStripeProvider() *StripeProvider {
	return &StripeProvider{
		webhookSecret: testWebhookSecret,
		successURL:    "https://reelhouse.example.com/billing/success",
		cancelURL:     "https://reelhouse.example.com/billing/cancel",
		breaker:       newProviderBreaker("stripe-test"),
	}
}

func signedPayload(t *testing.T, payload string) ([]byte, string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

func TestStripeProvider_ParseEvent(t *testing.T) {
	p := newTestStripeProvider()

	tests := []struct {
		name    string
		payload string
		want    EventPayload
	}{
		{
			name: "checkout completed with expanded subscription",
			payload: `{"id":"evt_1","object":"event","type":"checkout.session.completed","created":1767225600,
				"data":{"object":{"id":"cs_1","object":"checkout.session","mode":"subscription",
				"subscription":{"id":"sub_1","object":"subscription"},"payment_status":"paid",
				"amount_total":1299,"currency":"usd"}}}`,
			want: CheckoutCompleted{
				SessionID:              "cs_1",
				Mode:                   "subscription",
				ProviderSubscriptionID: "sub_1",
				PaymentStatus:          "paid",
				Amount:                 fromMinorUnits(1299),
				Currency:               "usd",
			},
		},
		{
			name: "checkout expired",
			payload: `{"id":"evt_2","object":"event","type":"checkout.session.expired","created":1767225600,
				"data":{"object":{"id":"cs_2","object":"checkout.session"}}}`,
			want: CheckoutExpired{SessionID: "cs_2"},
		},
		{
			name: "invoice paid with parent subscription",
			payload: `{"id":"evt_3","object":"event","type":"invoice.paid","created":1767225600,
				"data":{"object":{"id":"in_3","object":"invoice",
				"parent":{"subscription_details":{"subscription":"sub_3"}},
				"amount_paid":999,"currency":"usd","status_transitions":{"paid_at":1767225700},
				"lines":{"data":[{"period":{"end":1769904000}}]}}}}`,
			want: PaymentSucceeded{
				ExternalID:             "in_3",
				ProviderSubscriptionID: "sub_3",
				Amount:                 fromMinorUnits(999),
				Currency:               "usd",
				PeriodEnd:              unixPtr(1769904000),
				PaidAt:                 time.Unix(1767225700, 0).UTC(),
			},
		},
		{
			name: "invoice payment failed",
			payload: `{"id":"evt_4","object":"event","type":"invoice.payment_failed","created":1767225600,
				"data":{"object":{"id":"in_4","object":"invoice","subscription":"sub_4",
				"amount_due":999,"currency":"usd","attempt_count":2}}}`,
			want: PaymentFailed{
				ExternalID:             "in_4:failed:2",
				ProviderSubscriptionID: "sub_4",
				Amount:                 fromMinorUnits(999),
				Currency:               "usd",
				Reason:                 "invoice payment failed (attempt 2)",
			},
		},
		{
			name: "subscription updated reads item period",
			payload: `{"id":"evt_5","object":"event","type":"customer.subscription.updated","created":1767225600,
				"data":{"object":{"id":"sub_5","object":"subscription","status":"active","cancel_at_period_end":true,
				"items":{"data":[{"current_period_end":1769904000}]}}}}`,
			want: SubscriptionUpdated{
				ProviderSubscriptionID: "sub_5",
				ProviderStatus:         "active",
				CancelAtPeriodEnd:      true,
				CurrentPeriodEnd:       unixPtr(1769904000),
			},
		},
		{
			name: "subscription deleted",
			payload: `{"id":"evt_6","object":"event","type":"customer.subscription.deleted","created":1767225600,
				"data":{"object":{"id":"sub_6","object":"subscription","status":"canceled"}}}`,
			want: SubscriptionDeleted{ProviderSubscriptionID: "sub_6"},
		},
		{
			name: "unhandled type is ignored",
			payload: `{"id":"evt_7","object":"event","type":"customer.created","created":1767225600,
				"data":{"object":{"id":"cus_7","object":"customer"}}}`,
			want: Ignored{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, header := signedPayload(t, tt.payload)
			env, err := p.ParseEvent(body, header)
			require.NoError(t, err)
			assert.NotEmpty(t, env.ID)
			assert.Equal(t, "stripe", env.Provider)
			assert.Equal(t, body, env.Raw)
			assert.Equal(t, tt.want, env.Payload)
		})
	}
}

func TestStripeProvider_ParseEventRejectsBadSignatures(t *testing.T) {
	body, header := signedPayload(t, `{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{}}}`)

	t.Run("tampered body", func(t *testing.T) {
		tampered := append([]byte{}, body...)
		tampered[len(tampered)-2] = ' '
		_, err := newTestStripeProvider().ParseEvent(tampered, header)
		assert.Equal(t, KindSignature, KindOf(err))
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := newTestStripeProvider().ParseEvent(body, "")
		assert.Equal(t, KindSignature, KindOf(err))
	})

	t.Run("wrong secret", func(t *testing.T) {
		p := newTestStripeProvider()
		p.webhookSecret = "whsec_other"
		_, err := p.ParseEvent(body, header)
		assert.Equal(t, KindSignature, KindOf(err))
	})

	t.Run("secret not configured", func(t *testing.T) {
		p := newTestStripeProvider()
		p.webhookSecret = ""
		_, err := p.ParseEvent(body, header)
		assert.Equal(t, KindSignature, KindOf(err))
	})
}

func TestStripeProvider_CreateCheckoutSession(t *testing.T) {
	p := newTestStripeProvider()
	var captured *stripe.CheckoutSessionParams
	p.createCheckoutSession = func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		captured = params
		return &stripe.CheckoutSession{ID: "cs_live_1", URL: "https://checkout.stripe.com/c/pay/cs_live_1"}, nil
	}

	userID := uint(7)
	hosted, err := p.CreateCheckoutSession(context.Background(), CheckoutRequest{
		Reference:     "ref-1",
		PlanID:        3,
		PriceID:       "price_premium",
		Mode:          "one-time",
		UserID:        &userID,
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_live_1", hosted.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_live_1", hosted.URL)

	require.NotNil(t, captured)
	assert.Equal(t, string(stripe.CheckoutSessionModePayment), *captured.Mode)
	assert.Equal(t, "ref-1", *captured.ClientReferenceID)
	assert.Equal(t, "buyer@example.com", *captured.CustomerEmail)
	require.Len(t, captured.LineItems, 1)
	assert.Equal(t, "price_premium", *captured.LineItems[0].Price)
	assert.Equal(t, "3", captured.Metadata["plan_id"])
	assert.Equal(t, "7", captured.Metadata["user_id"])

	_, err = p.CreateCheckoutSession(context.Background(), CheckoutRequest{PlanID: 3})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestStripeProvider_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	p := newTestStripeProvider()
	calls := 0
	p.createCheckoutSession = func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		calls++
		return nil, errors.New("connection refused")
	}

	req := CheckoutRequest{Reference: "ref", PlanID: 1, PriceID: "price_basic"}
	for i := 0; i < 5; i++ {
		_, err := p.CreateCheckoutSession(context.Background(), req)
		assert.Equal(t, KindExternalService, KindOf(err))
	}
	_, err := p.CreateCheckoutSession(context.Background(), req)
	assert.Equal(t, KindExternalService, KindOf(err))
	assert.Contains(t, err.Error(), "temporarily unavailable")
	assert.Equal(t, 5, calls)
}

func TestStripeProvider_CancelSubscription(t *testing.T) {
	p := newTestStripeProvider()
	var cancelled, updated []string
	p.cancelSubscription = func(id string, _ *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
		cancelled = append(cancelled, id)
		return &stripe.Subscription{ID: id}, nil
	}
	p.updateSubscription = func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
		require.NotNil(t, params.CancelAtPeriodEnd)
		assert.True(t, *params.CancelAtPeriodEnd)
		updated = append(updated, id)
		return &stripe.Subscription{ID: id}, nil
	}

	require.NoError(t, p.CancelSubscription(context.Background(), "sub_now", false))
	require.NoError(t, p.CancelSubscription(context.Background(), "sub_later", true))
	assert.Equal(t, []string{"sub_now"}, cancelled)
	assert.Equal(t, []string{"sub_later"}, updated)

	err := p.CancelSubscription(context.Background(), "", false)
	assert.Equal(t, KindValidation, KindOf(err))
}
