package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusSucceeded = "SUCCEEDED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusRefunded  = "REFUNDED"
)

// Payment is a ledger entry for one provider charge. ExternalID is the
// provider's charge reference and doubles as the idempotency key.
type Payment struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	SubscriptionID  uint            `gorm:"not null;index" json:"subscription_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency        string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status          string          `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentMethod   string          `gorm:"type:varchar(50);not null;default:'card'" json:"payment_method"`
	ExternalID      string          `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_id"`
	ProviderEventID string          `gorm:"type:varchar(191);index" json:"provider_event_id"`
	FailureReason   string          `gorm:"type:varchar(500)" json:"failure_reason,omitempty"`
	PaidAt          *time.Time      `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
