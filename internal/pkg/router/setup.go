package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/reelhouse/reelhouse/app/repository"
	"github.com/reelhouse/reelhouse/internal/pkg/billing"
	"github.com/reelhouse/reelhouse/internal/pkg/security"
	"github.com/reelhouse/reelhouse/internal/pkg/statistics"
)

// Router installs a group of routes on the application.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Billing   *billing.Service
	Analytics *statistics.Analytics
	Audit     repository.AuditRepository
	Plans     repository.PlanRepository
	// Users resolves the session user. Defaults to the global repository factory.
	Users func() repository.UserRepository
	// LimiterStorage keeps rate limit counters. nil keeps them in memory.
	LimiterStorage    fiber.Storage
	CronCredential    security.Credential
	CleanupCredential security.Credential
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// HttpRouter installs the user context middleware the API routes rely on.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
