package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ROLE_USER       = "user"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// Snapshot status values. ACTIVE, GRACE_PERIOD, CANCELLED and EXPIRED mirror the
// subscription the snapshot was derived from.
const (
	EntitlementStatusFree          = "FREE"
	EntitlementStatusActive        = SubscriptionStatusActive
	EntitlementStatusGracePeriod   = SubscriptionStatusGracePeriod
	EntitlementStatusCancelled     = SubscriptionStatusCancelled
	EntitlementStatusExpired       = SubscriptionStatusExpired
	EntitlementStatusComplimentary = "COMPLIMENTARY"
)

const (
	EntitlementSourceBilling = "billing"
	EntitlementSourceGrant   = "grant"
)

// User carries identity data owned by the auth service plus the denormalized
// entitlement snapshot. Snapshot columns are only written through the billing
// package.
type User struct {
	ID                     uint           `gorm:"primaryKey" json:"id"`
	Name                   string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email                  string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Role                   string         `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	Status                 string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	CurrentPlanID          *uint          `gorm:"index" json:"current_plan_id,omitempty"`
	CurrentPlan            *Plan          `gorm:"foreignKey:CurrentPlanID" json:"current_plan,omitempty"`
	SubscriptionStatus     string         `gorm:"type:varchar(20);not null;default:'FREE'" json:"subscription_status"`
	SubscriptionExpiry     *time.Time     `gorm:"type:timestamp;default:null" json:"subscription_expiry,omitempty"`
	GracePeriodEnd         *time.Time     `gorm:"type:timestamp;default:null" json:"grace_period_end,omitempty"`
	AutoRenewal            bool           `gorm:"default:false" json:"auto_renewal"`
	AdFree                 bool           `gorm:"default:false" json:"ad_free"`
	MaxScreens             int            `gorm:"not null;default:1" json:"max_screens"`
	OfflineViewing         bool           `gorm:"default:false" json:"offline_viewing"`
	VaultAccess            bool           `gorm:"default:false" json:"vault_access"`
	EntitlementSource      string         `gorm:"type:varchar(20);not null;default:'billing'" json:"entitlement_source"`
	SnapshotSubscriptionID *uint          `gorm:"index" json:"snapshot_subscription_id,omitempty"`
	LastLoginAt            *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt              time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt              gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewUser builds a free-tier user as handed over by the identity service.
func NewUser(name, email, role string) (*User, error) {
	u := &User{
		Name:               name,
		Email:              email,
		Role:               role,
		Status:             STATUS_ACTIVE,
		SubscriptionStatus: EntitlementStatusFree,
		MaxScreens:         1,
		EntitlementSource:  EntitlementSourceBilling,
	}
	if u.Role == "" {
		u.Role = ROLE_USER
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}

	return u, nil
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

// IsAdmin reports whether the user holds the admin role
func (u *User) IsAdmin() bool {
	return u.Role == ROLE_ADMIN
}

// HasGrant reports whether the snapshot comes from an administrative grant.
func (u *User) HasGrant() bool {
	return u.EntitlementSource == EntitlementSourceGrant
}
