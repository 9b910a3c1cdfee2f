package statistics

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/reelhouse/reelhouse/app/models"
	"github.com/reelhouse/reelhouse/app/repository"
)

const (
	CacheKeyAnalytics = "statistics:billing:%s:%s:%s:%s" // from, to, payment status, checkout status
	CacheExpiration   = 5 * time.Minute
	MaxRange          = 366 * 24 * time.Hour
)

// Cache is the subset of the cache package the report needs. Both methods
// may fail; the report is then computed without caching.
type Cache interface {
	GetJSON(key string, dst any) error
	SetJSON(key string, value any, expiration time.Duration) error
}

// UserCounter reports the size and entitlement mix of the user base.
type UserCounter interface {
	Count() (int64, error)
	CountByEntitlementStatus() (map[string]int64, error)
}

// Query selects the window of an analytics report. Status filters payments
// and CheckoutStatus filters checkout sessions; both are optional.
type Query struct {
	From           time.Time
	To             time.Time
	Status         string
	CheckoutStatus string
}

// Report is the administrator analytics view over payments and checkouts.
// Users and Entitlements count the user base at GeneratedAt, not the window.
type Report struct {
	From               time.Time                      `json:"from"`
	To                 time.Time                      `json:"to"`
	Status             string                         `json:"status,omitempty"`
	CheckoutStatus     string                         `json:"checkout_status,omitempty"`
	Payments           []repository.PaymentAggregate  `json:"payments"`
	Checkouts          []repository.CheckoutAggregate `json:"checkouts"`
	DailyRevenue       []repository.DailyRevenue      `json:"daily_revenue"`
	Revenue            decimal.Decimal                `json:"revenue"`
	CheckoutsStarted   int64                          `json:"checkouts_started"`
	CheckoutsCompleted int64                          `json:"checkouts_completed"`
	ConversionRate     float64                        `json:"conversion_rate"`
	Users              int64                          `json:"users"`
	Entitlements       map[string]int64               `json:"entitlements"`
	GeneratedAt        time.Time                      `json:"generated_at"`
}

// Analytics builds reports from the read-only analytics repository.
type Analytics struct {
	repo  repository.AnalyticsRepository
	users UserCounter
	cache Cache
	now   func() time.Time
}

// NewAnalytics creates the report builder. cache may be nil.
func NewAnalytics(repo repository.AnalyticsRepository, users UserCounter, cache Cache) *Analytics {
	return &Analytics{repo: repo, users: users, cache: cache, now: time.Now}
}

// Validate normalizes the window to UTC and checks its bounds.
func (q *Query) Validate() error {
	if q.From.IsZero() || q.To.IsZero() {
		return fmt.Errorf("from and to are required")
	}
	q.From = q.From.UTC()
	q.To = q.To.UTC()
	if !q.From.Before(q.To) {
		return fmt.Errorf("from must be before to")
	}
	if q.To.Sub(q.From) > MaxRange {
		return fmt.Errorf("range must not exceed %d days", int(MaxRange.Hours()/24))
	}
	q.Status = strings.ToUpper(strings.TrimSpace(q.Status))
	switch q.Status {
	case "", models.PaymentStatusPending, models.PaymentStatusSucceeded, models.PaymentStatusFailed, models.PaymentStatusRefunded:
	default:
		return fmt.Errorf("unknown payment status %q", q.Status)
	}
	q.CheckoutStatus = strings.ToLower(strings.TrimSpace(q.CheckoutStatus))
	switch q.CheckoutStatus {
	case "", models.CheckoutStatusCreated, models.CheckoutStatusCompleted, models.CheckoutStatusExpired:
	default:
		return fmt.Errorf("unknown checkout status %q", q.CheckoutStatus)
	}
	return nil
}

// Report returns the aggregation for q, from cache when a fresh copy exists.
func (a *Analytics) Report(q Query) (*Report, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	key := fmt.Sprintf(CacheKeyAnalytics, q.From.Format(time.RFC3339), q.To.Format(time.RFC3339), q.Status, q.CheckoutStatus)
	if a.cache != nil {
		var cached Report
		if err := a.cache.GetJSON(key, &cached); err == nil {
			return &cached, nil
		}
	}

	rng := repository.AnalyticsRange{From: q.From, To: q.To, PaymentStatus: q.Status, CheckoutStatus: q.CheckoutStatus}
	payments, err := a.repo.Payments(rng)
	if err != nil {
		return nil, fmt.Errorf("aggregate payments: %w", err)
	}
	checkouts, err := a.repo.Checkouts(rng)
	if err != nil {
		return nil, fmt.Errorf("aggregate checkouts: %w", err)
	}
	daily, err := a.repo.DailyRevenue(rng)
	if err != nil {
		return nil, fmt.Errorf("aggregate daily revenue: %w", err)
	}
	users, err := a.users.Count()
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	entitlements, err := a.users.CountByEntitlementStatus()
	if err != nil {
		return nil, fmt.Errorf("count entitlements: %w", err)
	}

	report := &Report{
		From:         q.From,
		To:           q.To,
		Status:         q.Status,
		CheckoutStatus: q.CheckoutStatus,
		Payments:       payments,
		Checkouts:      checkouts,
		DailyRevenue:   daily,
		Revenue:        decimal.Zero,
		Users:          users,
		Entitlements:   entitlements,
		GeneratedAt:    a.now().UTC(),
	}
	for _, p := range payments {
		if p.Status == models.PaymentStatusSucceeded {
			report.Revenue = report.Revenue.Add(p.Total)
		}
	}
	for _, c := range checkouts {
		report.CheckoutsStarted += c.Count
		if c.Status == models.CheckoutStatusCompleted {
			report.CheckoutsCompleted += c.Count
		}
	}
	if report.CheckoutsStarted > 0 {
		report.ConversionRate = float64(report.CheckoutsCompleted) / float64(report.CheckoutsStarted)
	}

	if a.cache != nil {
		if err := a.cache.SetJSON(key, report, CacheExpiration); err != nil {
			log.Warnf("[Analytics] Failed to cache report: %v", err)
		}
	}
	return report, nil
}
