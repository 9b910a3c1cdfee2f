package repository

import (
	"strings"

	"gorm.io/gorm"

	"github.com/reelhouse/reelhouse/app/models"
)

type analyticsRepository struct {
	db *gorm.DB
}

// NewAnalyticsRepository creates a new read-only analytics repository instance
func NewAnalyticsRepository(db *gorm.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

func (r *analyticsRepository) scoped(model any, rng AnalyticsRange, status string) *gorm.DB {
	q := r.db.Model(model).Where("created_at >= ? AND created_at < ?", rng.From, rng.To)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	return q
}

// Payments groups ledger rows by status and currency.
func (r *analyticsRepository) Payments(rng AnalyticsRange) ([]PaymentAggregate, error) {
	var rows []PaymentAggregate
	err := r.scoped(&models.Payment{}, rng, strings.ToUpper(rng.PaymentStatus)).
		Select("status, currency, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Group("status, currency").
		Order("status, currency").
		Scan(&rows).Error
	return rows, err
}

// Checkouts groups checkout sessions by status and mode.
func (r *analyticsRepository) Checkouts(rng AnalyticsRange) ([]CheckoutAggregate, error) {
	var rows []CheckoutAggregate
	err := r.scoped(&models.CheckoutSession{}, rng, strings.ToLower(rng.CheckoutStatus)).
		Select("status, mode, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Group("status, mode").
		Order("status, mode").
		Scan(&rows).Error
	return rows, err
}

// DailyRevenue sums succeeded payments per day. The status filters of the
// range are ignored since revenue only counts succeeded payments.
func (r *analyticsRepository) DailyRevenue(rng AnalyticsRange) ([]DailyRevenue, error) {
	var rows []DailyRevenue
	err := r.scoped(&models.Payment{}, rng, models.PaymentStatusSucceeded).
		Select("DATE(created_at) AS day, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Group("DATE(created_at)").
		Order("day").
		Scan(&rows).Error
	// MySQL returns DATE as a timestamp when parseTime is on.
	for i := range rows {
		if len(rows[i].Day) > 10 {
			rows[i].Day = rows[i].Day[:10]
		}
	}
	return rows, err
}
