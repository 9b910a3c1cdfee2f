package billing

import (
	"strings"

	"github.com/reelhouse/reelhouse/app/models"
)

// MapProviderStatus translates a provider subscription status into a local
// status. Unknown values map to PENDING so they never grant paid features.
func MapProviderStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return models.SubscriptionStatusActive
	case "canceled", "cancelled", "unpaid":
		return models.SubscriptionStatusCancelled
	case "incomplete", "incomplete_expired", "past_due":
		return models.SubscriptionStatusExpired
	default:
		return models.SubscriptionStatusPending
	}
}

func normalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", models.CheckoutModeSubscription:
		return models.CheckoutModeSubscription
	case models.CheckoutModeOneTime, "payment", "one_time", "onetime":
		return models.CheckoutModeOneTime
	default:
		return ""
	}
}

func normalizeCurrency(currency string) string {
	c := strings.ToLower(strings.TrimSpace(currency))
	if c == "" {
		return "usd"
	}
	return c
}

func planRank(planType string) int {
	switch strings.ToLower(strings.TrimSpace(planType)) {
	case models.PlanTypePremium:
		return 3
	case models.PlanTypeStandard:
		return 2
	case models.PlanTypeBasic:
		return 1
	default:
		return 0
	}
}

var allowedTransitions = map[string][]string{
	models.SubscriptionStatusPending: {
		models.SubscriptionStatusActive,
		models.SubscriptionStatusCancelled,
		models.SubscriptionStatusExpired,
	},
	models.SubscriptionStatusActive: {
		models.SubscriptionStatusGracePeriod,
		models.SubscriptionStatusCancelled,
		models.SubscriptionStatusExpired,
	},
	models.SubscriptionStatusGracePeriod: {
		models.SubscriptionStatusActive,
		models.SubscriptionStatusCancelled,
		models.SubscriptionStatusExpired,
	},
}

func canTransition(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
