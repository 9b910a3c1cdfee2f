package repository

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/reelhouse/reelhouse/app/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Plan{},
		&models.User{},
		&models.Subscription{},
		&models.Payment{},
		&models.CheckoutSession{},
		&models.AdminAuditLog{},
	))
	return db
}

func TestPlanRepository_UpsertAndList(t *testing.T) {
	db := newTestDB(t)
	repo := NewPlanRepository(db)

	premium := &models.Plan{Name: "Premium", Type: models.PlanTypePremium, BillingCycle: models.BillingCycleMonthly,
		Price: decimal.RequireFromString("15.99"), Currency: "usd", MaxScreens: 4, IsActive: true, DisplayOrder: 3}
	basic := &models.Plan{Name: "Basic", Type: models.PlanTypeBasic, BillingCycle: models.BillingCycleMonthly,
		Price: decimal.RequireFromString("6.99"), Currency: "usd", MaxScreens: 1, IsActive: true, DisplayOrder: 1}
	retired := &models.Plan{Name: "Basic yearly", Type: models.PlanTypeBasic, BillingCycle: models.BillingCycleYearly,
		Price: decimal.RequireFromString("69.00"), Currency: "usd", MaxScreens: 1, IsActive: false, DisplayOrder: 9}
	for _, p := range []*models.Plan{premium, basic, retired} {
		require.NoError(t, repo.Upsert(p))
	}

	plans, err := repo.List()
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "Basic", plans[0].Name)
	assert.Equal(t, "Premium", plans[1].Name)
	assert.Equal(t, "Basic yearly", plans[2].Name)
	assert.False(t, plans[2].IsActive)

	require.NoError(t, repo.Upsert(&models.Plan{Name: "Premium 4K", Type: models.PlanTypePremium, BillingCycle: models.BillingCycleMonthly,
		Price: decimal.RequireFromString("17.99"), Currency: "usd", MaxScreens: 4, IsActive: true, DisplayOrder: 3}))

	var count int64
	require.NoError(t, db.Model(&models.Plan{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
	got, err := repo.GetByTypeAndCycle(models.PlanTypePremium, models.BillingCycleMonthly)
	require.NoError(t, err)
	assert.Equal(t, premium.ID, got.ID)
	assert.Equal(t, "Premium 4K", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("17.99")))

	_, err = repo.GetByTypeAndCycle(models.PlanTypeStandard, models.BillingCycleMonthly)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUserRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)

	for _, email := range []string{"a@example.com", "b@example.com"} {
		u, err := models.NewUser("Viewer "+email, email, models.ROLE_USER)
		require.NoError(t, err)
		require.NoError(t, db.Create(u).Error)
	}
	require.NoError(t, db.Model(&models.User{}).Where("email = ?", "b@example.com").
		Update("subscription_status", models.EntitlementStatusActive).Error)

	got, err := repo.GetByID(1)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	_, err = repo.GetByID(999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	n, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	byStatus, err := repo.CountByEntitlementStatus()
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{models.EntitlementStatusFree: 1, models.EntitlementStatusActive: 1}, byStatus)
}

func TestAuditRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuditRepository(db)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	entries := []models.AdminAuditLog{
		{ActorID: 1, Action: models.AuditActionForceExpire, TargetUserID: 10, CreatedAt: day.Add(-48 * time.Hour)},
		{ActorID: 1, Action: models.AuditActionForceCancel, TargetUserID: 11, CreatedAt: day.Add(-24 * time.Hour)},
		{ActorID: 2, Action: models.AuditActionForceExpire, TargetUserID: 10, CreatedAt: day.Add(time.Hour)},
	}
	for i := range entries {
		require.NoError(t, db.Create(&entries[i]).Error)
	}

	logs, total, err := repo.List(AuditFilter{TargetUserID: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, logs, 2)
	assert.Equal(t, entries[2].ID, logs[0].ID)

	logs, total, err = repo.List(AuditFilter{Action: models.AuditActionForceExpire, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, logs, 1)

	pending, err := repo.ListUnarchived(day, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	n, err := repo.MarkArchived([]uint{pending[0].ID, pending[1].ID}, day)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.MarkArchived([]uint{pending[0].ID}, day)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	pending, err = repo.ListUnarchived(day, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAnalyticsRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewAnalyticsRepository(db)
	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	payments := []models.Payment{
		{SubscriptionID: 1, Amount: decimal.RequireFromString("10.00"), Currency: "usd", Status: models.PaymentStatusSucceeded, ExternalID: "in_1", CreatedAt: day},
		{SubscriptionID: 2, Amount: decimal.RequireFromString("5.50"), Currency: "usd", Status: models.PaymentStatusSucceeded, ExternalID: "in_2", CreatedAt: day.Add(2 * time.Hour)},
		{SubscriptionID: 2, Amount: decimal.RequireFromString("5.50"), Currency: "usd", Status: models.PaymentStatusFailed, ExternalID: "in_3:failed:1", CreatedAt: day.Add(24 * time.Hour)},
		{SubscriptionID: 3, Amount: decimal.RequireFromString("20.00"), Currency: "usd", Status: models.PaymentStatusSucceeded, ExternalID: "in_4", CreatedAt: day.Add(10 * 24 * time.Hour)},
	}
	for i := range payments {
		require.NoError(t, db.Create(&payments[i]).Error)
	}
	sessions := []models.CheckoutSession{
		{UUID: "u1", PlanID: 1, ExternalSessionID: "cs_1", Status: models.CheckoutStatusCompleted, Mode: models.CheckoutModeSubscription,
			Amount: decimal.RequireFromString("10.00"), Currency: "usd", ExpiresAt: day.Add(time.Hour), CreatedAt: day},
		{UUID: "u2", PlanID: 1, ExternalSessionID: "cs_2", Status: models.CheckoutStatusExpired, Mode: models.CheckoutModeSubscription,
			Amount: decimal.RequireFromString("10.00"), Currency: "usd", ExpiresAt: day.Add(time.Hour), CreatedAt: day},
		{UUID: "u3", PlanID: 1, ExternalSessionID: "cs_3", Status: models.CheckoutStatusExpired, Mode: models.CheckoutModeSubscription,
			Amount: decimal.RequireFromString("10.00"), Currency: "usd", ExpiresAt: day.Add(time.Hour), CreatedAt: day},
	}
	for i := range sessions {
		require.NoError(t, db.Create(&sessions[i]).Error)
	}

	rng := AnalyticsRange{From: day.Add(-time.Hour), To: day.Add(7 * 24 * time.Hour)}

	byStatus, err := repo.Payments(rng)
	require.NoError(t, err)
	require.Len(t, byStatus, 2)
	assert.Equal(t, models.PaymentStatusFailed, byStatus[0].Status)
	assert.Equal(t, int64(1), byStatus[0].Count)
	assert.Equal(t, models.PaymentStatusSucceeded, byStatus[1].Status)
	assert.Equal(t, int64(2), byStatus[1].Count)
	assert.True(t, byStatus[1].Total.Equal(decimal.RequireFromString("15.50")), byStatus[1].Total.String())

	succeeded, err := repo.Payments(AnalyticsRange{From: rng.From, To: rng.To, PaymentStatus: models.PaymentStatusSucceeded})
	require.NoError(t, err)
	require.Len(t, succeeded, 1)

	checkouts, err := repo.Checkouts(rng)
	require.NoError(t, err)
	require.Len(t, checkouts, 2)
	assert.Equal(t, models.CheckoutStatusCompleted, checkouts[0].Status)
	assert.Equal(t, int64(2), checkouts[1].Count)

	// Each table only sees its own filter, whatever case the caller used.
	both := AnalyticsRange{From: rng.From, To: rng.To, PaymentStatus: "failed", CheckoutStatus: "EXPIRED"}
	failed, err := repo.Payments(both)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, models.PaymentStatusFailed, failed[0].Status)
	expired, err := repo.Checkouts(both)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, models.CheckoutStatusExpired, expired[0].Status)
	assert.Equal(t, int64(2), expired[0].Count)

	onlyPayments, err := repo.Checkouts(AnalyticsRange{From: rng.From, To: rng.To, PaymentStatus: models.PaymentStatusSucceeded})
	require.NoError(t, err)
	assert.Len(t, onlyPayments, 2, "a payment status must not filter checkout sessions")

	daily, err := repo.DailyRevenue(rng)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "2026-03-01", daily[0].Day)
	assert.Equal(t, int64(2), daily[0].Count)
}
