package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelhouse/reelhouse/app/models"
)

// Service is the entry point of the billing engine used by controllers, jobs
// and the operator CLI.
type Service struct {
	cfg        Config
	repo       Repository
	provider   Provider
	validate   *validator.Validate
	machine    *StateMachine
	tracker    *CheckoutTracker
	reconciler *EventReconciler
	scheduled  *ScheduledReconciler
	sweeper    *CheckoutSweeper
	admin      *AdminOverride
}

// NewService wires the billing components around an injected repository.
// locker may be nil.
func NewService(repo Repository, provider Provider, locker Locker, cfg Config) *Service {
	machine := NewStateMachine(cfg)
	tracker := NewCheckoutTracker(cfg.CheckoutTTL, machine.Now)
	return &Service{
		cfg:        cfg,
		repo:       repo,
		provider:   provider,
		validate:   validator.New(),
		machine:    machine,
		tracker:    tracker,
		reconciler: NewEventReconciler(repo, machine, tracker, cfg.EventMaxAttempts),
		scheduled:  NewScheduledReconciler(repo, machine, locker, cfg),
		sweeper:    NewCheckoutSweeper(repo, locker, cfg, machine.Now),
		admin:      NewAdminOverride(repo, machine),
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, provider Provider, locker Locker, cfg Config) *Service {
	return NewService(NewRepository(db), provider, locker, cfg)
}

// Admin returns the administrative override component.
func (s *Service) Admin() *AdminOverride {
	return s.admin
}

// Config returns the active billing configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// ListPlans returns the purchasable catalogue in display order.
func (s *Service) ListPlans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	err := s.repo.Transaction(ctx, func(tx Repository) (err error) {
		plans, err = tx.ListActivePlans()
		return err
	})
	if err != nil {
		return nil, NewInternalError(err, "list plans")
	}
	return plans, nil
}

// StartCheckout asks the provider for a hosted checkout page and records the
// attempt. userID is nil for guests. No subscription is created here.
func (s *Service) StartCheckout(ctx context.Context, userID *uint, in CheckoutInput) (*models.CheckoutSession, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	mode := normalizeMode(in.Mode)

	plan, err := s.repo.GetPlan(in.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsPurchasable() {
		return nil, NewValidationError("plan %d is not available for purchase", plan.ID).
			WithDetail("plan_id", plan.ID)
	}

	email := strings.TrimSpace(in.CustomerEmail)
	if userID != nil {
		user, err := s.repo.GetUser(*userID)
		if err != nil {
			return nil, err
		}
		if email == "" {
			email = user.Email
		}
		if mode == models.CheckoutModeSubscription {
			if err := s.ensureUpgrade(user.ID, plan); err != nil {
				return nil, err
			}
		}
	}

	reference := uuid.NewString()
	hosted, err := s.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		Reference:     reference,
		PlanID:        plan.ID,
		PriceID:       plan.ProviderPriceID,
		Mode:          mode,
		UserID:        userID,
		CustomerEmail: email,
	})
	if err != nil {
		return nil, err
	}

	session, err := s.tracker.Create(s.repo, userID, plan, mode, reference, hosted)
	if err != nil {
		return nil, err
	}
	log.Infof("[Billing] Checkout %s started for plan %d (%s)", session.ExternalSessionID, plan.ID, mode)
	return session, nil
}

// ensureUpgrade refuses a subscription checkout for a plan not ranked above
// the one the user already pays for.
func (s *Service) ensureUpgrade(userID uint, plan *models.Plan) error {
	active, err := s.repo.ListEntitlingSubscriptions(userID)
	if err != nil {
		return NewInternalError(err, "list subscriptions")
	}
	for i := range active {
		current, err := s.repo.GetPlan(active[i].PlanID)
		if err != nil {
			return err
		}
		if planRank(current.Type) >= planRank(plan.Type) {
			return NewConflictError("already subscribed to %s", current.Name).
				WithDetail("subscription_id", active[i].ID).
				WithDetail("plan_id", current.ID)
		}
	}
	return nil
}

// HandleWebhook verifies and applies a provider notification. Notifications
// that fail verification are rejected without being stored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*Outcome, error) {
	env, err := s.provider.ParseEvent(payload, signatureHeader)
	if err != nil {
		log.Warnf("[Billing] Rejected %s notification: %v", s.provider.Name(), err)
		return nil, err
	}
	return s.reconciler.Process(ctx, env)
}

// ProcessEvent applies an already verified envelope.
func (s *Service) ProcessEvent(ctx context.Context, env *Envelope) (*Outcome, error) {
	return s.reconciler.Process(ctx, env)
}

// Cancel cancels the user's subscription, immediately or at period end. The
// provider is told after the local change commits; its failure is logged and
// the local state stays authoritative.
func (s *Service) Cancel(ctx context.Context, userID uint, in CancelInput) (*CancellationResult, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(in.Reason)

	var updated *models.Subscription
	var immediate bool
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		sub, err := s.ownedSubscription(tx, userID, in.SubscriptionID)
		if err != nil {
			return err
		}
		if sub.IsTerminal() {
			return NewConflictError("subscription %d is already %s", sub.ID, sub.Status).
				WithDetail("status", sub.Status)
		}
		immediate = in.Immediate || sub.Status != models.SubscriptionStatusActive
		if immediate {
			updated, err = s.machine.cancelImmediately(tx, sub, reason)
		} else {
			updated, err = s.machine.scheduleCancellation(tx, sub, reason)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if updated.ProviderSubscriptionID != nil {
		if err := s.provider.CancelSubscription(ctx, *updated.ProviderSubscriptionID, !immediate); err != nil {
			log.Errorf("[Billing] Provider cancel of subscription %d failed: %v", updated.ID, err)
		}
	}

	effective := s.machine.Now()
	if !immediate && updated.EndDate != nil {
		effective = *updated.EndDate
	}
	return &CancellationResult{
		SubscriptionID: updated.ID,
		Status:         updated.Status,
		AutoRenewal:    updated.AutoRenewal,
		Immediate:      immediate,
		EffectiveAt:    effective,
	}, nil
}

func (s *Service) ownedSubscription(repo Repository, userID, subscriptionID uint) (*models.Subscription, error) {
	if subscriptionID == 0 {
		return repo.FindLatestSubscription(userID)
	}
	sub, err := repo.GetSubscription(subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, NewNotFoundError("subscription %d not found", subscriptionID)
	}
	return sub, nil
}

// CurrentSubscription returns the user's snapshot and most relevant
// subscription, read in one transaction so both describe the same moment.
func (s *Service) CurrentSubscription(ctx context.Context, userID uint) (*SubscriptionView, error) {
	var view *SubscriptionView
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		user, err := tx.GetUser(userID)
		if err != nil {
			return err
		}
		view = &SubscriptionView{User: user}
		sub, err := tx.FindLatestSubscription(userID)
		switch {
		case err == nil:
		case IsKind(err, KindNotFound):
			return nil
		default:
			return err
		}
		if sub.Plan == nil {
			if sub.Plan, err = tx.GetPlan(sub.PlanID); err != nil {
				return NewInternalError(err, "load plan %d of subscription %d", sub.PlanID, sub.ID)
			}
		}
		view.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ReconcileSubscriptions runs the scheduled reconciler once.
func (s *Service) ReconcileSubscriptions(ctx context.Context) (int, error) {
	return s.scheduled.Run(ctx)
}

// SweepCheckouts runs the abandoned-checkout sweeper once.
func (s *Service) SweepCheckouts(ctx context.Context) (int64, error) {
	return s.sweeper.Run(ctx)
}

func (s *Service) validateInput(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError("invalid request: %v", err)
	}
	verr := NewValidationError("invalid request")
	for _, fe := range verrs {
		verr.WithDetail(strings.ToLower(fe.Field()), fe.Tag())
	}
	return verr
}

// setClock replaces the clock of every component.
func (s *Service) setClock(now func() time.Time) {
	s.machine.now = now
	s.tracker.now = now
	s.sweeper.now = now
}
