package router

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/reelhouse/reelhouse/app/models"
	"github.com/reelhouse/reelhouse/app/repository"
	"github.com/reelhouse/reelhouse/internal/pkg/billing"
	"github.com/reelhouse/reelhouse/internal/pkg/security"
	"github.com/reelhouse/reelhouse/internal/pkg/statistics"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
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
		&models.BillingWebhookEvent{},
		&models.AdminAuditLog{},
	))

	cfg := billing.DefaultConfig()
	cfg.StripeWebhookSecret = "whsec_router_test"
	users := repository.NewUserRepository(db)
	app := fiber.New()
	InstallRouter(app, Dependencies{
		Billing:           billing.NewServiceFromDB(db, billing.NewStripeProvider(cfg), nil, cfg),
		Analytics:         statistics.NewAnalytics(repository.NewAnalyticsRepository(db), users, nil),
		Audit:             repository.NewAuditRepository(db),
		Plans:             repository.NewPlanRepository(db),
		Users:             func() repository.UserRepository { return users },
		CronCredential:    security.StaticSecret("cron-secret"),
		CleanupCredential: security.StaticSecret("cleanup-key"),
	})
	return app
}

func TestInstallRouter(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name   string
		method string
		path   string
		header [2]string
		want   int
	}{
		{"health", http.MethodGet, "/health", [2]string{}, fiber.StatusOK},
		{"plans are public", http.MethodGet, "/api/v1/billing/plans", [2]string{}, fiber.StatusOK},
		{"subscription needs a session", http.MethodGet, "/api/v1/billing/subscription", [2]string{}, fiber.StatusUnauthorized},
		{"cancel needs a session", http.MethodPost, "/api/v1/billing/subscription/cancel", [2]string{}, fiber.StatusUnauthorized},
		{"admin needs a session", http.MethodGet, "/api/v1/admin/billing/audit", [2]string{}, fiber.StatusUnauthorized},
		{"plan edits need a session", http.MethodPut, "/api/v1/admin/billing/plans", [2]string{}, fiber.StatusUnauthorized},
		{"cron needs a credential", http.MethodPost, "/api/v1/cron/reconcile-subscriptions", [2]string{}, fiber.StatusUnauthorized},
		{"cron with credential", http.MethodPost, "/api/v1/cron/reconcile-subscriptions", [2]string{"Authorization", "Bearer cron-secret"}, fiber.StatusOK},
		{"cleanup with api key", http.MethodPost, "/api/v1/cron/cleanup-checkouts", [2]string{"X-API-Key", "cleanup-key"}, fiber.StatusOK},
		{"unsigned webhook", http.MethodPost, "/webhooks/stripe", [2]string{}, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header[0] != "" {
				req.Header.Set(tt.header[0], tt.header[1])
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestCheckoutIsRateLimited(t *testing.T) {
	app := newTestApp(t)
	last := 0
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", bytes.NewBufferString(`{}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		if i < 10 {
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		}
		last = resp.StatusCode
	}
	assert.Equal(t, fiber.StatusTooManyRequests, last)
}
