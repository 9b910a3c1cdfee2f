package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/reelhouse/reelhouse/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	GetByID(id uint) (*models.User, error)
	Count() (int64, error)
	CountByEntitlementStatus() (map[string]int64, error)
}

// PlanRepository defines the interface for plan catalogue operations
type PlanRepository interface {
	List() ([]models.Plan, error)
	GetByTypeAndCycle(planType, billingCycle string) (*models.Plan, error)
	Upsert(plan *models.Plan) error
}

// AuditFilter narrows an audit log listing.
type AuditFilter struct {
	ActorID      uint
	TargetUserID uint
	Action       string
	From         *time.Time
	To           *time.Time
	Offset       int
	Limit        int
}

// AuditRepository reads and archives administrative audit rows.
type AuditRepository interface {
	List(filter AuditFilter) ([]models.AdminAuditLog, int64, error)
	ListUnarchived(before time.Time, limit int) ([]models.AdminAuditLog, error)
	MarkArchived(ids []uint, at time.Time) (int64, error)
}

// AnalyticsRange bounds an analytics query. Payment and checkout rows use
// different status vocabularies, so each table has its own optional filter.
type AnalyticsRange struct {
	From           time.Time
	To             time.Time
	PaymentStatus  string
	CheckoutStatus string
}

// PaymentAggregate is one status/currency bucket of the payment ledger.
type PaymentAggregate struct {
	Status   string          `json:"status"`
	Currency string          `json:"currency"`
	Count    int64           `json:"count"`
	Total    decimal.Decimal `json:"total"`
}

// CheckoutAggregate is one status bucket of checkout sessions.
type CheckoutAggregate struct {
	Status string          `json:"status"`
	Mode   string          `json:"mode"`
	Count  int64           `json:"count"`
	Total  decimal.Decimal `json:"total"`
}

// DailyRevenue is the succeeded payment total of one calendar day.
type DailyRevenue struct {
	Day   string          `json:"day"`
	Count int64           `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// AnalyticsRepository aggregates billing rows. It never writes.
type AnalyticsRepository interface {
	Payments(r AnalyticsRange) ([]PaymentAggregate, error)
	Checkouts(r AnalyticsRange) ([]CheckoutAggregate, error)
	DailyRevenue(r AnalyticsRange) ([]DailyRevenue, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User      UserRepository
	Plan      PlanRepository
	Audit     AuditRepository
	Analytics AnalyticsRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:      NewUserRepository(db),
		Plan:      NewPlanRepository(db),
		Audit:     NewAuditRepository(db),
		Analytics: NewAnalyticsRepository(db),
	}
}
