package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reelhouse/reelhouse/app/models"
)

// Repository provides DB operations used by the billing engine. A repository
// obtained inside Transaction is bound to that transaction.
type Repository interface {
	Transaction(ctx context.Context, fn func(repo Repository) error) error

	GetPlan(id uint) (*models.Plan, error)
	ListActivePlans() ([]models.Plan, error)
	GetUser(id uint) (*models.User, error)
	SaveUserSnapshot(user *models.User) error

	CreateSubscription(sub *models.Subscription) error
	GetSubscription(id uint) (*models.Subscription, error)
	GetSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error)
	FindLatestSubscription(userID uint) (*models.Subscription, error)
	ListEntitlingSubscriptions(userID uint) ([]models.Subscription, error)
	CompareAndSwapSubscription(id uint, expectedStatus string, updates map[string]any) (bool, error)
	ScheduleCancellation(id uint, expectedStatus string, updates map[string]any) (bool, error)
	ListOverdueSubscriptions(now time.Time, renewalLeeway time.Duration, afterID uint, limit int) ([]models.Subscription, error)

	CreatePaymentIfNotExists(payment *models.Payment) (bool, error)

	CreateCheckoutSession(session *models.CheckoutSession) error
	GetCheckoutSessionByExternalID(externalSessionID string) (*models.CheckoutSession, error)
	CompleteCheckoutSession(id uint, subscriptionID *uint, paymentStatus string, at time.Time) (bool, error)
	ExpireCheckoutSession(id uint) (bool, error)
	ExpireCheckoutSessions(ids []uint, now time.Time) (int64, error)
	ListStaleCheckoutSessionIDs(now time.Time, limit int) ([]uint, error)

	ClaimWebhookEvent(event *models.BillingWebhookEvent, now time.Time) (bool, error)
	RecordWebhookFailure(event *models.BillingWebhookEvent, processingError string) error

	CreateAuditLog(entry *models.AdminAuditLog) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(repo Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetPlan(id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.First(&plan, id).Error; err != nil {
		return nil, notFound(err, "plan %d not found", id)
	}
	return &plan, nil
}

func (r *gormRepository) ListActivePlans() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("is_active = ?", true).Order("display_order ASC, id ASC").Find(&plans).Error
	return plans, err
}

func (r *gormRepository) GetUser(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, notFound(err, "user %d not found", id)
	}
	return &user, nil
}

// SaveUserSnapshot writes only the entitlement columns of the user.
func (r *gormRepository) SaveUserSnapshot(user *models.User) error {
	updates := map[string]any{
		"current_plan_id":          user.CurrentPlanID,
		"subscription_status":      user.SubscriptionStatus,
		"subscription_expiry":      user.SubscriptionExpiry,
		"grace_period_end":         user.GracePeriodEnd,
		"auto_renewal":             user.AutoRenewal,
		"ad_free":                  user.AdFree,
		"max_screens":              user.MaxScreens,
		"offline_viewing":          user.OfflineViewing,
		"vault_access":             user.VaultAccess,
		"entitlement_source":       user.EntitlementSource,
		"snapshot_subscription_id": user.SnapshotSubscriptionID,
	}
	return r.db.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) GetSubscription(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, notFound(err, "subscription %d not found", id)
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("provider_subscription_id = ?", providerSubscriptionID).First(&sub).Error; err != nil {
		return nil, notFound(err, "subscription %q not found", providerSubscriptionID)
	}
	return &sub, nil
}

// FindLatestSubscription returns the newest subscription that entitles the
// user, then the newest PENDING one, then the newest of any status.
func (r *gormRepository) FindLatestSubscription(userID uint) (*models.Subscription, error) {
	tiers := [][]string{
		{models.SubscriptionStatusActive, models.SubscriptionStatusGracePeriod},
		{models.SubscriptionStatusPending},
	}
	var sub models.Subscription
	for _, statuses := range tiers {
		err := r.db.Where("user_id = ? AND status IN ?", userID, statuses).Order("id DESC").First(&sub).Error
		if err == nil {
			return &sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if err := r.db.Where("user_id = ?", userID).Order("id DESC").First(&sub).Error; err != nil {
		return nil, notFound(err, "user %d has no subscription", userID)
	}
	return &sub, nil
}

func (r *gormRepository) ListEntitlingSubscriptions(userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("user_id = ? AND status IN ?", userID, []string{
			models.SubscriptionStatusActive,
			models.SubscriptionStatusGracePeriod,
		}).
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

// CompareAndSwapSubscription applies updates only if the row still has the
// expected status. It reports false when another writer got there first.
func (r *gormRepository) CompareAndSwapSubscription(id uint, expectedStatus string, updates map[string]any) (bool, error) {
	res := r.db.Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, expectedStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) ScheduleCancellation(id uint, expectedStatus string, updates map[string]any) (bool, error) {
	res := r.db.Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND cancelled_at IS NULL", id, expectedStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListOverdueSubscriptions returns rows whose time-based expiry condition holds:
// non-renewing ACTIVE rows past endDate, renewing ACTIVE rows past endDate plus
// the leeway, and GRACE_PERIOD rows past gracePeriodEnd.
func (r *gormRepository) ListOverdueSubscriptions(now time.Time, renewalLeeway time.Duration, afterID uint, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("id > ?", afterID).
		Where(
			r.db.Where("status = ? AND auto_renewal = ? AND end_date IS NOT NULL AND end_date <= ?",
				models.SubscriptionStatusActive, false, now).
				Or("status = ? AND auto_renewal = ? AND end_date IS NOT NULL AND end_date <= ?",
					models.SubscriptionStatusActive, true, now.Add(-renewalLeeway)).
				Or("status = ? AND grace_period_end IS NOT NULL AND grace_period_end <= ?",
					models.SubscriptionStatusGracePeriod, now),
		).
		Order("id ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

// CreatePaymentIfNotExists inserts the payment unless its external id was seen before.
func (r *gormRepository) CreatePaymentIfNotExists(payment *models.Payment) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(payment)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CreateCheckoutSession(session *models.CheckoutSession) error {
	return r.db.Create(session).Error
}

func (r *gormRepository) GetCheckoutSessionByExternalID(externalSessionID string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	if err := r.db.Where("external_session_id = ?", externalSessionID).First(&session).Error; err != nil {
		return nil, notFound(err, "checkout session %q not found", externalSessionID)
	}
	return &session, nil
}

func (r *gormRepository) CompleteCheckoutSession(id uint, subscriptionID *uint, paymentStatus string, at time.Time) (bool, error) {
	res := r.db.Model(&models.CheckoutSession{}).
		Where("id = ? AND status <> ?", id, models.CheckoutStatusCompleted).
		Updates(map[string]any{
			"status":          models.CheckoutStatusCompleted,
			"payment_status":  paymentStatus,
			"completed_at":    at,
			"subscription_id": subscriptionID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) ExpireCheckoutSession(id uint) (bool, error) {
	res := r.db.Model(&models.CheckoutSession{}).
		Where("id = ? AND status = ?", id, models.CheckoutStatusCreated).
		Update("status", models.CheckoutStatusExpired)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) ExpireCheckoutSessions(ids []uint, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.Model(&models.CheckoutSession{}).
		Where("id IN ? AND status = ? AND expires_at <= ?", ids, models.CheckoutStatusCreated, now).
		Update("status", models.CheckoutStatusExpired)
	return res.RowsAffected, res.Error
}

func (r *gormRepository) ListStaleCheckoutSessionIDs(now time.Time, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.CheckoutSession{}).
		Where("status = ? AND expires_at <= ?", models.CheckoutStatusCreated, now).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ClaimWebhookEvent inserts the event if needed and marks it processed if no
// earlier delivery succeeded. It must run inside the transaction that applies
// the event so a rollback releases the claim.
func (r *gormRepository) ClaimWebhookEvent(event *models.BillingWebhookEvent, now time.Time) (bool, error) {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event).Error; err != nil {
		return false, err
	}

	res := r.db.Model(&models.BillingWebhookEvent{}).
		Where("provider = ? AND provider_event_id = ? AND processed_at IS NULL", event.Provider, event.ProviderEventID).
		Updates(map[string]any{
			"processed_at":     now,
			"processing_error": "",
			"attempts":         gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) RecordWebhookFailure(event *models.BillingWebhookEvent, processingError string) error {
	event.ID = 0
	event.ProcessingError = processingError
	event.Attempts = 1
	event.ProcessedAt = nil
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"processing_error": processingError,
			"attempts":         gorm.Expr("attempts + 1"),
		}),
	}).Create(event).Error
}

func (r *gormRepository) CreateAuditLog(entry *models.AdminAuditLog) error {
	return r.db.Create(entry).Error
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewNotFoundError(format, args...)
	}
	return err
}
