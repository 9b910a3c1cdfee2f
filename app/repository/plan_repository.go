package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reelhouse/reelhouse/app/models"
)

type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

// List returns the whole catalogue, inactive plans included, in display order.
func (r *planRepository) List() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Order("display_order ASC, id ASC").Find(&plans).Error
	return plans, err
}

// GetByTypeAndCycle looks a plan up by its catalogue key.
func (r *planRepository) GetByTypeAndCycle(planType, billingCycle string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Where("type = ? AND billing_cycle = ?", planType, billingCycle).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// Upsert inserts a plan or updates the catalogue columns of the plan with the
// same type and billing cycle.
func (r *planRepository) Upsert(plan *models.Plan) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "type"}, {Name: "billing_cycle"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "price", "currency", "provider_price_id", "max_screens",
			"offline_viewing", "vault_access", "ad_free", "is_active", "display_order", "updated_at",
		}),
	}).Create(plan).Error
}
