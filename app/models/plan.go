package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	PlanTypeFree     = "free"
	PlanTypeBasic    = "basic"
	PlanTypeStandard = "standard"
	PlanTypePremium  = "premium"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

// Plan is a purchasable tier with its feature allowances. Rows are only changed
// by administrative edits.
type Plan struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Name            string          `gorm:"type:varchar(100);not null" json:"name" validate:"required,max=100"`
	Type            string          `gorm:"type:varchar(20);not null;index:ux_plans_type_cycle,unique,priority:1" json:"type" validate:"oneof=free basic standard premium"`
	BillingCycle    string          `gorm:"type:varchar(20);not null;default:'monthly';index:ux_plans_type_cycle,unique,priority:2" json:"billing_cycle" validate:"oneof=monthly yearly"`
	Price           decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Currency        string          `gorm:"type:varchar(3);not null;default:'usd'" json:"currency" validate:"len=3"`
	ProviderPriceID string          `gorm:"type:varchar(191);index" json:"-"`
	MaxScreens      int             `gorm:"not null;default:1" json:"max_screens" validate:"min=1"`
	OfflineViewing  bool            `gorm:"default:false" json:"offline_viewing"`
	VaultAccess     bool            `gorm:"default:false" json:"vault_access"`
	AdFree          bool            `gorm:"default:false" json:"ad_free"`
	IsActive        bool            `gorm:"not null;default:false;index" json:"is_active"`
	DisplayOrder    int             `gorm:"default:0" json:"display_order"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Plan) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// CycleLength returns the length of one billing period. It is used when the
// provider does not report an explicit period end.
func (p *Plan) CycleLength() time.Duration {
	if p != nil && p.BillingCycle == BillingCycleYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// IsPurchasable reports whether a hosted checkout can be started for the plan.
func (p *Plan) IsPurchasable() bool {
	return p != nil && p.IsActive && p.Type != PlanTypeFree && p.ProviderPriceID != ""
}
