package statistics

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelhouse/reelhouse/app/models"
	"github.com/reelhouse/reelhouse/app/repository"
)

type fakeAnalyticsRepo struct {
	calls int
	err   error
	last  repository.AnalyticsRange
}

func (r *fakeAnalyticsRepo) Payments(rng repository.AnalyticsRange) ([]repository.PaymentAggregate, error) {
	r.calls++
	r.last = rng
	if r.err != nil {
		return nil, r.err
	}
	return []repository.PaymentAggregate{
		{Status: models.PaymentStatusFailed, Currency: "usd", Count: 1, Total: decimal.RequireFromString("5.50")},
		{Status: models.PaymentStatusSucceeded, Currency: "usd", Count: 3, Total: decimal.RequireFromString("31.50")},
	}, nil
}

func (r *fakeAnalyticsRepo) Checkouts(repository.AnalyticsRange) ([]repository.CheckoutAggregate, error) {
	return []repository.CheckoutAggregate{
		{Status: models.CheckoutStatusCompleted, Mode: models.CheckoutModeSubscription, Count: 1},
		{Status: models.CheckoutStatusExpired, Mode: models.CheckoutModeSubscription, Count: 3},
	}, nil
}

func (r *fakeAnalyticsRepo) DailyRevenue(repository.AnalyticsRange) ([]repository.DailyRevenue, error) {
	return []repository.DailyRevenue{{Day: "2026-03-01", Count: 3, Total: decimal.RequireFromString("31.50")}}, nil
}

type fakeUsers struct {
	err error
}

func (u fakeUsers) Count() (int64, error) {
	return 12, u.err
}

func (u fakeUsers) CountByEntitlementStatus() (map[string]int64, error) {
	if u.err != nil {
		return nil, u.err
	}
	return map[string]int64{
		models.EntitlementStatusFree:        7,
		models.EntitlementStatusActive:      4,
		models.EntitlementStatusGracePeriod: 1,
	}, nil
}

type memoryCache struct {
	items map[string][]byte
}

func (m *memoryCache) GetJSON(key string, dst any) error {
	b, ok := m.items[key]
	if !ok {
		return errors.New("miss")
	}
	return json.Unmarshal(b, dst)
}

func (m *memoryCache) SetJSON(key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.items[key] = b
	return nil
}

func TestAnalytics_Report(t *testing.T) {
	repo := &fakeAnalyticsRepo{}
	cache := &memoryCache{items: map[string][]byte{}}
	a := NewAnalytics(repo, fakeUsers{}, cache)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	report, err := a.Report(Query{From: from, To: from.Add(7 * 24 * time.Hour)})
	require.NoError(t, err)
	assert.True(t, report.Revenue.Equal(decimal.RequireFromString("31.50")))
	assert.Equal(t, int64(4), report.CheckoutsStarted)
	assert.Equal(t, int64(1), report.CheckoutsCompleted)
	assert.InDelta(t, 0.25, report.ConversionRate, 0.0001)
	assert.Equal(t, int64(12), report.Users)
	assert.Equal(t, int64(4), report.Entitlements[models.EntitlementStatusActive])
	assert.Equal(t, int64(1), report.Entitlements[models.EntitlementStatusGracePeriod])
	assert.Len(t, cache.items, 1)

	again, err := a.Report(Query{From: from, To: from.Add(7 * 24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls)
	assert.True(t, again.Revenue.Equal(report.Revenue))
}

func TestAnalytics_ReportWithoutCache(t *testing.T) {
	repo := &fakeAnalyticsRepo{}
	users := &fakeUsers{}
	a := NewAnalytics(repo, users, nil)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := a.Report(Query{From: from, To: from.Add(time.Hour)})
	require.NoError(t, err)
	_, err = a.Report(Query{From: from, To: from.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)

	users.err = errors.New("users table locked")
	_, err = a.Report(Query{From: from, To: from.Add(time.Hour)})
	assert.ErrorContains(t, err, "count users")

	repo.err = errors.New("db gone")
	_, err = a.Report(Query{From: from, To: from.Add(time.Hour)})
	assert.ErrorContains(t, err, "aggregate payments")
}

func TestAnalytics_StatusFiltersPerTable(t *testing.T) {
	repo := &fakeAnalyticsRepo{}
	a := NewAnalytics(repo, fakeUsers{}, nil)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	report, err := a.Report(Query{From: from, To: from.Add(time.Hour), Status: "succeeded", CheckoutStatus: "Completed"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, report.Status)
	assert.Equal(t, models.CheckoutStatusCompleted, report.CheckoutStatus)
	assert.Equal(t, models.PaymentStatusSucceeded, repo.last.PaymentStatus)
	assert.Equal(t, models.CheckoutStatusCompleted, repo.last.CheckoutStatus)
}

func TestQueryValidate(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		q       Query
		wantErr bool
	}{
		{"valid", Query{From: from, To: from.Add(time.Hour)}, false},
		{"valid status", Query{From: from, To: from.Add(time.Hour), Status: models.PaymentStatusSucceeded}, false},
		{"lowercase payment status", Query{From: from, To: from.Add(time.Hour), Status: "refunded"}, false},
		{"valid checkout status", Query{From: from, To: from.Add(time.Hour), CheckoutStatus: models.CheckoutStatusExpired}, false},
		{"checkout status as payment status", Query{From: from, To: from.Add(time.Hour), Status: models.CheckoutStatusExpired}, true},
		{"payment status as checkout status", Query{From: from, To: from.Add(time.Hour), CheckoutStatus: models.PaymentStatusFailed}, true},
		{"missing bounds", Query{From: from}, true},
		{"inverted", Query{From: from, To: from.Add(-time.Hour)}, true},
		{"too wide", Query{From: from, To: from.Add(400 * 24 * time.Hour)}, true},
		{"unknown status", Query{From: from, To: from.Add(time.Hour), Status: "bogus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.q
			err := q.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
