package billing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/reelhouse/reelhouse/app/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := openTestDB(t, ":memory:")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	migrateTestDB(t, db)
	return db
}

func openTestDB(t *testing.T, dsn string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func migrateTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.AutoMigrate(
		&models.Plan{},
		&models.User{},
		&models.Subscription{},
		&models.Payment{},
		&models.CheckoutSession{},
		&models.BillingWebhookEvent{},
		&models.AdminAuditLog{},
	))
}

type cancelCall struct {
	ProviderSubscriptionID string
	AtPeriodEnd            bool
}

type fakeProvider struct {
	mu        sync.Mutex
	sessions  int
	createErr error
	cancelErr error
	requests  []CheckoutRequest
	cancels   []cancelCall
	envelopes map[string]*Envelope
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{envelopes: make(map[string]*Envelope)}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*HostedCheckout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, NewExternalServiceError(p.createErr, "create checkout session")
	}
	p.sessions++
	p.requests = append(p.requests, req)
	id := fmt.Sprintf("cs_test_%d", p.sessions)
	return &HostedCheckout{SessionID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (p *fakeProvider) CancelSubscription(_ context.Context, providerSubscriptionID string, atPeriodEnd bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels = append(p.cancels, cancelCall{ProviderSubscriptionID: providerSubscriptionID, AtPeriodEnd: atPeriodEnd})
	return p.cancelErr
}

// ParseEvent treats the signature header as the key of a registered envelope.
func (p *fakeProvider) ParseEvent(_ []byte, signatureHeader string) (*Envelope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	env, ok := p.envelopes[signatureHeader]
	if !ok {
		return nil, NewSignatureError(fmt.Errorf("unknown signature %q", signatureHeader))
	}
	return env, nil
}

type fakeLocker struct {
	held     map[string]bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.held[key] = false
		l.released++
	}, true, nil
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	db       *gorm.DB
	repo     Repository
	provider *fakeProvider
	svc      *Service
	cfg      Config
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, newTestDB(t))
}

func newFixtureOn(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		provider: newFakeProvider(),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.repo = NewRepository(f.db)
	f.cfg = DefaultConfig()
	f.cfg.SweepBatchSize = 2
	f.cfg.EventMaxAttempts = 2
	f.svc = NewService(f.repo, f.provider, nil, f.cfg)
	f.svc.setClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) createPlan(planType string, screens int) *models.Plan {
	f.t.Helper()
	plan := &models.Plan{
		Name:            "Reelhouse " + planType,
		Type:            planType,
		BillingCycle:    models.BillingCycleMonthly,
		Price:           decimal.RequireFromString("12.99"),
		Currency:        "usd",
		ProviderPriceID: "price_" + planType,
		MaxScreens:      screens,
		OfflineViewing:  planType == models.PlanTypePremium,
		VaultAccess:     planType == models.PlanTypePremium,
		AdFree:          planType != models.PlanTypeFree,
		IsActive:        true,
	}
	require.NoError(f.t, f.db.Create(plan).Error)
	return plan
}

func (f *fixture) createUser(email string) *models.User {
	f.t.Helper()
	user, err := models.NewUser("Viewer "+email, email, models.ROLE_USER)
	require.NoError(f.t, err)
	require.NoError(f.t, f.db.Create(user).Error)
	return user
}

// createSubscription inserts a subscription and projects it onto the user the
// way a real transition would.
func (f *fixture) createSubscription(user *models.User, plan *models.Plan, status string, end *time.Time, autoRenewal bool, providerID string) *models.Subscription {
	f.t.Helper()
	sub := &models.Subscription{
		UserID:      user.ID,
		PlanID:      plan.ID,
		Status:      status,
		StartDate:   f.now.Add(-24 * time.Hour),
		EndDate:     end,
		AutoRenewal: autoRenewal,
	}
	if autoRenewal && end != nil {
		sub.NextBillingDate = end
	}
	if providerID != "" {
		sub.ProviderSubscriptionID = &providerID
	}
	require.NoError(f.t, f.db.Create(sub).Error)
	require.NoError(f.t, f.repo.Transaction(f.ctx, func(tx Repository) error {
		return f.svc.machine.syncSnapshot(tx, sub)
	}))
	return sub
}

func (f *fixture) user(id uint) *models.User {
	f.t.Helper()
	var u models.User
	require.NoError(f.t, f.db.First(&u, id).Error)
	return &u
}

func (f *fixture) subscription(id uint) *models.Subscription {
	f.t.Helper()
	var s models.Subscription
	require.NoError(f.t, f.db.First(&s, id).Error)
	return &s
}

func (f *fixture) count(model any, query string, args ...any) int64 {
	f.t.Helper()
	var n int64
	q := f.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(f.t, q.Count(&n).Error)
	return n
}

func timePtr(t time.Time) *time.Time {
	return &t
}
