package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/reelhouse/reelhouse/app/models"
	"github.com/reelhouse/reelhouse/internal/pkg/metrics"
)

const (
	reconcileLockKey     = "billing:lock:reconcile-subscriptions"
	checkoutSweepLockKey = "billing:lock:cleanup-checkouts"
	lockSlack            = 30 * time.Second
)

// ScheduledReconciler drives subscriptions whose period ran out into their
// terminal state. Running it more often than needed is harmless.
type ScheduledReconciler struct {
	repo    Repository
	machine *StateMachine
	locker  Locker
	cfg     Config
}

// NewScheduledReconciler creates a reconciler. locker may be nil.
func NewScheduledReconciler(repo Repository, machine *StateMachine, locker Locker, cfg Config) *ScheduledReconciler {
	return &ScheduledReconciler{repo: repo, machine: machine, locker: locker, cfg: cfg}
}

// Run transitions every overdue subscription and returns how many changed.
// Failing rows are logged and skipped.
func (s *ScheduledReconciler) Run(ctx context.Context) (int, error) {
	release, ok := acquireSweepLock(ctx, s.locker, reconcileLockKey, s.cfg.SweepBudget)
	if !ok {
		metrics.SweepRunsTotal.WithLabelValues("reconcile", "skipped").Inc()
		return 0, nil
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SweepBudget)
	defer cancel()

	now := s.machine.Now()
	var cursor uint
	transitioned := 0
	for {
		if ctx.Err() != nil {
			log.Warnf("[ScheduledReconciler] Time budget exhausted after %d transitions", transitioned)
			break
		}
		rows, err := s.repo.ListOverdueSubscriptions(now, s.cfg.GracePeriod, cursor, s.cfg.SweepBatchSize)
		if err != nil {
			metrics.SweepRunsTotal.WithLabelValues("reconcile", "error").Inc()
			return transitioned, NewInternalError(err, "list overdue subscriptions")
		}
		for i := range rows {
			cursor = rows[i].ID
			changed, err := s.reconcileOne(ctx, rows[i].ID, now)
			if err != nil {
				log.Errorf("[ScheduledReconciler] Subscription %d: %v", rows[i].ID, err)
				continue
			}
			if changed {
				transitioned++
			}
		}
		if len(rows) < s.cfg.SweepBatchSize {
			break
		}
	}

	metrics.SweepRowsTotal.WithLabelValues("reconcile").Add(float64(transitioned))
	metrics.SweepRunsTotal.WithLabelValues("reconcile", "ok").Inc()
	log.Infof("[ScheduledReconciler] Transitioned %d subscriptions", transitioned)
	return transitioned, nil
}

func (s *ScheduledReconciler) reconcileOne(ctx context.Context, id uint, now time.Time) (bool, error) {
	changed := false
	err := withRetry(ctx, s.cfg.EventMaxAttempts, func() error {
		changed = false
		return s.repo.Transaction(ctx, func(tx Repository) error {
			sub, err := tx.GetSubscription(id)
			if err != nil {
				return err
			}
			target, due := overdueTarget(sub, now, s.cfg.GracePeriod)
			if !due {
				return nil
			}
			if target == models.SubscriptionStatusCancelled {
				_, err = s.machine.cancelImmediately(tx, sub, "")
			} else {
				_, err = s.machine.expire(tx, sub)
			}
			if err != nil {
				return err
			}
			changed = true
			return nil
		})
	})
	if IsKind(err, KindConflict) {
		// Another run or a concurrent request moved the row first.
		return false, nil
	}
	return changed, err
}

// overdueTarget reports the terminal status an overdue subscription moves to.
func overdueTarget(sub *models.Subscription, now time.Time, grace time.Duration) (string, bool) {
	switch sub.Status {
	case models.SubscriptionStatusActive:
		if sub.EndDate == nil {
			return "", false
		}
		if !sub.AutoRenewal && !sub.EndDate.After(now) {
			if sub.CancelledAt != nil {
				return models.SubscriptionStatusCancelled, true
			}
			return models.SubscriptionStatusExpired, true
		}
		if sub.AutoRenewal && !sub.EndDate.Add(grace).After(now) {
			return models.SubscriptionStatusExpired, true
		}
	case models.SubscriptionStatusGracePeriod:
		if sub.GracePeriodEnd != nil && !sub.GracePeriodEnd.After(now) {
			return models.SubscriptionStatusExpired, true
		}
	}
	return "", false
}

// CheckoutSweeper expires abandoned checkout sessions. It never touches
// subscriptions or payments.
type CheckoutSweeper struct {
	repo   Repository
	locker Locker
	cfg    Config
	now    func() time.Time
}

// NewCheckoutSweeper creates a sweeper. locker may be nil.
func NewCheckoutSweeper(repo Repository, locker Locker, cfg Config, now func() time.Time) *CheckoutSweeper {
	return &CheckoutSweeper{repo: repo, locker: locker, cfg: cfg, now: now}
}

// Run marks every open session past its expiry as expired and returns the
// number of rows updated.
func (s *CheckoutSweeper) Run(ctx context.Context) (int64, error) {
	release, ok := acquireSweepLock(ctx, s.locker, checkoutSweepLockKey, s.cfg.SweepBudget)
	if !ok {
		metrics.SweepRunsTotal.WithLabelValues("checkouts", "skipped").Inc()
		return 0, nil
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SweepBudget)
	defer cancel()

	now := s.now()
	var total int64
	for ctx.Err() == nil {
		ids, err := s.repo.ListStaleCheckoutSessionIDs(now, s.cfg.SweepBatchSize)
		if err != nil {
			metrics.SweepRunsTotal.WithLabelValues("checkouts", "error").Inc()
			return total, NewInternalError(err, "list stale checkout sessions")
		}
		if len(ids) == 0 {
			break
		}
		var n int64
		err = withRetry(ctx, s.cfg.EventMaxAttempts, func() error {
			var err error
			n, err = s.repo.ExpireCheckoutSessions(ids, now)
			return err
		})
		if err != nil {
			metrics.SweepRunsTotal.WithLabelValues("checkouts", "error").Inc()
			return total, NewInternalError(err, "expire checkout sessions")
		}
		total += n
		if len(ids) < s.cfg.SweepBatchSize || n == 0 {
			break
		}
	}

	metrics.SweepRowsTotal.WithLabelValues("checkouts").Add(float64(total))
	metrics.SweepRunsTotal.WithLabelValues("checkouts", "ok").Inc()
	log.Infof("[CheckoutSweeper] Expired %d checkout sessions", total)
	return total, nil
}

// acquireSweepLock takes the cross-process lease. A lease backend failure does
// not stop the sweep because conditional updates keep concurrent runs safe.
func acquireSweepLock(ctx context.Context, locker Locker, key string, budget time.Duration) (func(), bool) {
	noop := func() {}
	if locker == nil {
		return noop, true
	}
	release, acquired, err := locker.TryLock(ctx, key, budget+lockSlack)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warnf("[Billing] Lease %s unavailable, running unlocked: %v", key, err)
		}
		return noop, true
	}
	if !acquired {
		log.Infof("[Billing] Lease %s held by another instance, skipping", key)
		return noop, false
	}
	if release == nil {
		release = noop
	}
	return release, true
}
