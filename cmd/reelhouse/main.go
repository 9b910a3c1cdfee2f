package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/reelhouse/reelhouse/app/repository"
	"github.com/reelhouse/reelhouse/internal/pkg/auditarchive"
	"github.com/reelhouse/reelhouse/internal/pkg/billing"
	"github.com/reelhouse/reelhouse/internal/pkg/cache"
	"github.com/reelhouse/reelhouse/internal/pkg/database"
	"github.com/reelhouse/reelhouse/internal/pkg/env"
	"github.com/reelhouse/reelhouse/internal/pkg/jobqueue"
	"github.com/reelhouse/reelhouse/internal/pkg/router"
	"github.com/reelhouse/reelhouse/internal/pkg/security"
	"github.com/reelhouse/reelhouse/internal/pkg/session"
	"github.com/reelhouse/reelhouse/internal/pkg/statistics"
)

func main() {
	app, jobs := NewApplication()
	jobs.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		fiberlog.Info("[Server] Shutting down")
		jobs.Stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			fiberlog.Errorf("[Server] Shutdown error: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())
	session.NewSessionStore()

	cfg, err := billing.LoadConfig()
	if err != nil {
		log.Fatalf("billing config: %v", err)
	}
	svc := billing.NewServiceFromDB(database.GetDB(), billing.NewStripeProvider(cfg), cache.Locker{}, cfg)
	repos := repository.GetGlobalRepositories()

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Billing:           svc,
		Analytics:         statistics.NewAnalytics(repos.Analytics, repos.User, cache.JSONStore{}),
		Audit:             repos.Audit,
		Plans:             repos.Plan,
		LimiterStorage:    session.NewRedisStorage(session.LimiterDatabase),
		CronCredential:    security.CronCredential(),
		CleanupCredential: security.CleanupCredential(),
	})

	return app, jobqueue.InitManager(cache.Locker{}, jobqueue.BillingJobs(svc, newArchiver(repos.Audit), jobqueue.LoadConfig())...)
}

// newArchiver returns nil when the audit archive is disabled or misconfigured.
func newArchiver(audit repository.AuditRepository) *auditarchive.Archiver {
	cfg, err := auditarchive.LoadConfig()
	if err != nil {
		fiberlog.Errorf("[AuditArchive] %v", err)
		return nil
	}
	if !cfg.IsEnabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	uploader, err := auditarchive.NewS3Uploader(ctx, cfg)
	if err != nil {
		fiberlog.Errorf("[AuditArchive] Failed to create S3 client: %v", err)
		return nil
	}
	return auditarchive.NewArchiver(audit, uploader, cfg)
}
