package entitlements

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reelhouse/reelhouse/app/models"
)

func premiumPlan() *models.Plan {
	return &models.Plan{
		Type:           models.PlanTypePremium,
		MaxScreens:     4,
		OfflineViewing: true,
		VaultAccess:    true,
		AdFree:         true,
		IsActive:       true,
	}
}

func TestMapIsTotalAndDeterministic(t *testing.T) {
	plans := map[string]*models.Plan{
		"nil":      nil,
		"free":     {Type: models.PlanTypeFree, MaxScreens: 1},
		"basic":    {Type: models.PlanTypeBasic, MaxScreens: 1, AdFree: true},
		"standard": {Type: models.PlanTypeStandard, MaxScreens: 2, AdFree: true, OfflineViewing: true},
		"premium":  premiumPlan(),
		"broken":   {Type: models.PlanTypePremium, MaxScreens: 0},
	}
	statuses := []string{
		models.EntitlementStatusFree,
		models.SubscriptionStatusPending,
		models.EntitlementStatusActive,
		models.EntitlementStatusGracePeriod,
		models.EntitlementStatusCancelled,
		models.EntitlementStatusExpired,
		models.EntitlementStatusComplimentary,
		"",
		"SOMETHING_ELSE",
	}

	for planName, plan := range plans {
		for _, status := range statuses {
			first := Map(plan, status)
			second := Map(plan, status)
			assert.Equal(t, first, second, "%s/%s", planName, status)
			assert.GreaterOrEqual(t, first.MaxScreens, FreeMaxScreens, "%s/%s", planName, status)
		}
	}
}

func TestMapTerminalStatusesAreFreeTier(t *testing.T) {
	for _, status := range []string{models.EntitlementStatusCancelled, models.EntitlementStatusExpired} {
		assert.Equal(t, Free(), Map(premiumPlan(), status), status)
	}
}

func TestMapPaidStatuses(t *testing.T) {
	want := Set{AdFree: true, MaxScreens: 4, OfflineViewing: true, VaultAccess: true}

	tests := []struct {
		status string
		want   Set
	}{
		{models.EntitlementStatusActive, want},
		{models.EntitlementStatusGracePeriod, want},
		{models.EntitlementStatusComplimentary, want},
		{models.SubscriptionStatusPending, Free()},
		{models.EntitlementStatusFree, Free()},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, Map(premiumPlan(), tt.status))
		})
	}
}

func TestMapClampsScreens(t *testing.T) {
	plan := &models.Plan{Type: models.PlanTypeBasic, MaxScreens: 0, AdFree: true}
	got := Map(plan, models.EntitlementStatusActive)
	assert.Equal(t, FreeMaxScreens, got.MaxScreens)
	assert.True(t, got.AdFree)
}

func TestApplyAndFromUser(t *testing.T) {
	u := &models.User{}
	set := Map(premiumPlan(), models.EntitlementStatusActive)
	set.Apply(u)

	assert.True(t, u.AdFree)
	assert.Equal(t, 4, u.MaxScreens)
	assert.Equal(t, set, FromUser(u))
}
