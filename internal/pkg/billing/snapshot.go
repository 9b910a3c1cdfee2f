package billing

import (
	"github.com/reelhouse/reelhouse/app/models"
	"github.com/reelhouse/reelhouse/internal/pkg/entitlements"
)

// syncSnapshot recomputes the owner's snapshot from a subscription. Billing
// overrides role grants: an entitling subscription always takes the snapshot,
// while a non-entitling one only rewrites a snapshot it already owns.
func (m *StateMachine) syncSnapshot(repo Repository, sub *models.Subscription) error {
	user, err := repo.GetUser(sub.UserID)
	if err != nil {
		return err
	}

	owned := user.SnapshotSubscriptionID != nil && *user.SnapshotSubscriptionID == sub.ID
	if !sub.IsEntitling() && !owned {
		return nil
	}
	if sub.Status == models.SubscriptionStatusPending {
		return nil
	}

	plan, err := repo.GetPlan(sub.PlanID)
	if err != nil {
		return err
	}

	subID := sub.ID
	planID := plan.ID
	user.CurrentPlanID = &planID
	user.SubscriptionStatus = sub.Status
	user.SubscriptionExpiry = sub.EndDate
	user.GracePeriodEnd = sub.GracePeriodEnd
	user.AutoRenewal = sub.AutoRenewal
	user.EntitlementSource = models.EntitlementSourceBilling
	user.SnapshotSubscriptionID = &subID
	return writeSnapshot(repo, user, plan)
}

// grantSnapshot sets a complimentary plan on the user, or clears the grant when
// plan is nil.
func (m *StateMachine) grantSnapshot(repo Repository, user *models.User, plan *models.Plan) error {
	user.GracePeriodEnd = nil
	user.AutoRenewal = false
	user.SubscriptionExpiry = nil
	user.SnapshotSubscriptionID = nil
	if plan == nil {
		user.CurrentPlanID = nil
		user.SubscriptionStatus = models.EntitlementStatusFree
		user.EntitlementSource = models.EntitlementSourceBilling
	} else {
		planID := plan.ID
		user.CurrentPlanID = &planID
		user.SubscriptionStatus = models.EntitlementStatusComplimentary
		user.EntitlementSource = models.EntitlementSourceGrant
	}
	return writeSnapshot(repo, user, plan)
}

// writeSnapshot is the single place the entitlement columns are computed.
func writeSnapshot(repo Repository, user *models.User, plan *models.Plan) error {
	entitlements.Map(plan, user.SubscriptionStatus).Apply(user)
	return repo.SaveUserSnapshot(user)
}
