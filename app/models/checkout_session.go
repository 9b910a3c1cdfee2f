package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CheckoutStatusCreated   = "created"
	CheckoutStatusCompleted = "completed"
	CheckoutStatusExpired   = "expired"
)

const (
	CheckoutModeSubscription = "subscription"
	CheckoutModeOneTime      = "one-time"
)

// CheckoutSession records one provider-hosted checkout attempt. It never owns a
// subscription until the provider reports completion.
type CheckoutSession struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	UUID              string          `gorm:"type:char(36);uniqueIndex" json:"uuid"`
	UserID            *uint           `gorm:"index" json:"user_id,omitempty"`
	PlanID            uint            `gorm:"not null;index" json:"plan_id"`
	ExternalSessionID string          `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_session_id"`
	Status            string          `gorm:"type:varchar(20);not null;default:'created';index:idx_checkout_status_expires,priority:1" json:"status"`
	PaymentStatus     string          `gorm:"type:varchar(30);not null;default:'unpaid'" json:"payment_status"`
	Mode              string          `gorm:"type:varchar(20);not null" json:"mode"`
	Amount            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency          string          `gorm:"type:varchar(3);not null" json:"currency"`
	CheckoutURL       string          `gorm:"type:text" json:"checkout_url"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt       *time.Time      `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	ExpiresAt         time.Time       `gorm:"type:timestamp;not null;index:idx_checkout_status_expires,priority:2" json:"expires_at"`
	SubscriptionID    *uint           `gorm:"index" json:"subscription_id,omitempty"`
}

// IsOpen reports whether the session can still be completed or expired.
func (c *CheckoutSession) IsOpen() bool {
	return c.Status == CheckoutStatusCreated
}
