package entitlements

import (
	"github.com/reelhouse/reelhouse/app/models"
)

// FreeMaxScreens is the concurrent stream allowance of the free tier.
const FreeMaxScreens = 1

// Set is the feature allowance a user holds at a point in time.
type Set struct {
	AdFree         bool `json:"ad_free"`
	MaxScreens     int  `json:"max_screens"`
	OfflineViewing bool `json:"offline_viewing"`
	VaultAccess    bool `json:"vault_access"`
}

// Free returns the allowance of a user without a paid plan.
func Free() Set {
	return Set{MaxScreens: FreeMaxScreens}
}

// Map computes the allowance for a plan in a given snapshot status. It is
// total: a nil plan or any status other than ACTIVE, GRACE_PERIOD or
// COMPLIMENTARY yields the free tier.
func Map(plan *models.Plan, status string) Set {
	if plan == nil || !grantsPlanFeatures(status) {
		return Free()
	}

	screens := plan.MaxScreens
	if screens < FreeMaxScreens {
		screens = FreeMaxScreens
	}
	return Set{
		AdFree:         plan.AdFree,
		MaxScreens:     screens,
		OfflineViewing: plan.OfflineViewing,
		VaultAccess:    plan.VaultAccess,
	}
}

func grantsPlanFeatures(status string) bool {
	switch status {
	case models.EntitlementStatusActive,
		models.EntitlementStatusGracePeriod,
		models.EntitlementStatusComplimentary:
		return true
	default:
		return false
	}
}

// Apply copies the allowance onto the user snapshot columns.
func (s Set) Apply(u *models.User) {
	u.AdFree = s.AdFree
	u.MaxScreens = s.MaxScreens
	u.OfflineViewing = s.OfflineViewing
	u.VaultAccess = s.VaultAccess
}

// FromUser reads the allowance stored on a user snapshot.
func FromUser(u *models.User) Set {
	return Set{
		AdFree:         u.AdFree,
		MaxScreens:     u.MaxScreens,
		OfflineViewing: u.OfflineViewing,
		VaultAccess:    u.VaultAccess,
	}
}
