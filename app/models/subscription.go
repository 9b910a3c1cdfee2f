package models

import "time"

const (
	SubscriptionStatusPending     = "PENDING"
	SubscriptionStatusActive      = "ACTIVE"
	SubscriptionStatusGracePeriod = "GRACE_PERIOD"
	SubscriptionStatusCancelled   = "CANCELLED"
	SubscriptionStatusExpired     = "EXPIRED"
)

// Subscription is one billing agreement between a user and a plan. EndDate is
// nil only while the row is PENDING.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id"`
	PlanID                 uint       `gorm:"not null;index" json:"plan_id"`
	Plan                   *Plan      `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	ProviderSubscriptionID *string    `gorm:"type:varchar(191);uniqueIndex" json:"provider_subscription_id,omitempty"`
	Status                 string     `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_subscriptions_user_status,priority:2;index:idx_subscriptions_status_end,priority:1" json:"status"`
	StartDate              time.Time  `gorm:"type:timestamp;not null" json:"start_date"`
	EndDate                *time.Time `gorm:"type:timestamp;default:null;index:idx_subscriptions_status_end,priority:2" json:"end_date,omitempty"`
	NextBillingDate        *time.Time `gorm:"type:timestamp;default:null" json:"next_billing_date,omitempty"`
	GracePeriodEnd         *time.Time `gorm:"type:timestamp;default:null" json:"grace_period_end,omitempty"`
	AutoRenewal            bool       `gorm:"not null;default:false" json:"auto_renewal"`
	CancelledAt            *time.Time `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	CancellationReason     *string    `gorm:"type:varchar(500);default:null" json:"cancellation_reason,omitempty"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether no further transitions are accepted.
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusCancelled || s.Status == SubscriptionStatusExpired
}

// IsEntitling reports whether the subscription currently grants paid features.
func (s *Subscription) IsEntitling() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusGracePeriod
}

// HasScheduledCancellation reports whether the user asked to stop at period end.
func (s *Subscription) HasScheduledCancellation() bool {
	return s.Status == SubscriptionStatusActive && !s.AutoRenewal && s.CancelledAt != nil
}
