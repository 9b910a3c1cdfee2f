package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelhouse/reelhouse/app/repository"
	"github.com/reelhouse/reelhouse/internal/pkg/auditarchive"
	"github.com/reelhouse/reelhouse/internal/pkg/billing"
	"github.com/reelhouse/reelhouse/internal/pkg/cache"
	"github.com/reelhouse/reelhouse/internal/pkg/database"
	"github.com/reelhouse/reelhouse/internal/pkg/env"
	"github.com/reelhouse/reelhouse/internal/pkg/jobqueue"
)

var jobTimeout time.Duration

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Expire overdue subscriptions and end finished grace periods",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd.Context(), jobqueue.JobTypeReconcileSubscriptions, false)
	},
}

var sweepCheckoutsCmd = &cobra.Command{
	Use:   "sweep-checkouts",
	Short: "Mark abandoned checkout sessions as expired",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd.Context(), jobqueue.JobTypeSweepCheckouts, false)
	},
}

var archiveAuditCmd = &cobra.Command{
	Use:   "archive-audit",
	Short: "Upload audit log rows from previous days to the archive bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd.Context(), jobqueue.JobTypeArchiveAudit, true)
	},
}

func init() {
	for _, c := range []*cobra.Command{reconcileCmd, sweepCheckoutsCmd, archiveAuditCmd} {
		c.Flags().DurationVar(&jobTimeout, "timeout", 10*time.Minute, "abort the run after this long")
	}
}

func runJob(ctx context.Context, jobType jobqueue.JobType, needsArchive bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	cfg, err := billing.LoadConfig()
	if err != nil {
		return fmt.Errorf("billing config: %w", err)
	}
	db := database.GetDB()
	svc := billing.NewServiceFromDB(db, billing.NewStripeProvider(cfg), cache.Locker{}, cfg)

	var archiver *auditarchive.Archiver
	if needsArchive {
		archiveCfg, err := auditarchive.LoadConfig()
		if err != nil {
			return err
		}
		if !archiveCfg.IsEnabled() {
			return errors.New("audit archive is disabled (AUDIT_ARCHIVE_ENABLED)")
		}
		uploader, err := auditarchive.NewS3Uploader(ctx, archiveCfg)
		if err != nil {
			return fmt.Errorf("create S3 client: %w", err)
		}
		archiver = auditarchive.NewArchiver(repository.NewAuditRepository(db), uploader, archiveCfg)
	}

	jobs := jobqueue.BillingJobs(svc, archiver, jobqueue.LoadConfig())
	for i := range jobs {
		jobs[i].Timeout = jobTimeout
	}
	run, err := jobqueue.NewManager(cache.Locker{}, jobs...).RunNow(ctx, jobType)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s, %d rows\n", run.Type, run.Status, run.Affected)
	return nil
}
