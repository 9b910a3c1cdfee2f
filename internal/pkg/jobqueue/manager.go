package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/reelhouse/reelhouse/internal/pkg/auditarchive"
	"github.com/reelhouse/reelhouse/internal/pkg/billing"
	"github.com/reelhouse/reelhouse/internal/pkg/env"
	"github.com/reelhouse/reelhouse/internal/pkg/metrics"
)

const leaseKeyPrefix = "jobs:lease:"

// Locker hands out a short Redis lease so only one instance runs a job at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// Config holds the job intervals
type Config struct {
	ReconcileInterval     time.Duration
	CheckoutSweepInterval time.Duration
	AuditArchiveInterval  time.Duration
}

// LoadConfig reads job intervals (in minutes) from the environment.
// A non-positive interval disables the job.
func LoadConfig() Config {
	return Config{
		ReconcileInterval:     time.Duration(env.GetEnvInt("JOB_RECONCILE_INTERVAL_MINUTES", 60)) * time.Minute,
		CheckoutSweepInterval: time.Duration(env.GetEnvInt("JOB_CHECKOUT_SWEEP_INTERVAL_MINUTES", 15)) * time.Minute,
		AuditArchiveInterval:  time.Duration(env.GetEnvInt("JOB_AUDIT_ARCHIVE_INTERVAL_MINUTES", 1440)) * time.Minute,
	}
}

// BillingJobs builds the recurring billing jobs. The archive job is left out
// when archiver is nil.
func BillingJobs(svc *billing.Service, archiver *auditarchive.Archiver, cfg Config) []Job {
	jobs := []Job{
		{
			Type:     JobTypeReconcileSubscriptions,
			Interval: cfg.ReconcileInterval,
			Run: func(ctx context.Context) (int64, error) {
				n, err := svc.ReconcileSubscriptions(ctx)
				return int64(n), err
			},
		},
		{
			Type:     JobTypeSweepCheckouts,
			Interval: cfg.CheckoutSweepInterval,
			Run:      svc.SweepCheckouts,
		},
	}
	if archiver != nil {
		jobs = append(jobs, Job{
			Type:     JobTypeArchiveAudit,
			Interval: cfg.AuditArchiveInterval,
			Timeout:  10 * time.Minute,
			Run: func(ctx context.Context) (int64, error) {
				res, err := archiver.Run(ctx)
				return int64(res.Archived), err
			},
		})
	}
	return jobs
}

// Manager runs the recurring background jobs
type Manager struct {
	jobs    []Job
	locker  Locker
	now     func() time.Time
	tickers []*time.Ticker
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	runsMu sync.Mutex
	runs   map[JobType]*Run
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// NewManager creates a manager for the given jobs. locker may be nil.
func NewManager(locker Locker, jobs ...Job) *Manager {
	runs := make(map[JobType]*Run, len(jobs))
	for _, j := range jobs {
		runs[j.Type] = &Run{Type: j.Type, Status: JobStatusPending}
	}
	return &Manager{
		jobs:   jobs,
		locker: locker,
		now:    time.Now,
		stopCh: make(chan struct{}),
		runs:   runs,
	}
}

// InitManager sets up the global manager once and returns it
func InitManager(locker Locker, jobs ...Job) *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager(locker, jobs...)
	})
	return globalManager
}

// GetManager returns the global job manager, or nil before InitManager
func GetManager() *Manager {
	return globalManager
}

// Start starts one ticker per enabled job
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Fresh channel per start cycle so the manager can be restarted.
	m.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	log.Info("[JobQueue Manager] Starting background jobs")

	for _, job := range m.jobs {
		if job.Interval <= 0 || job.Run == nil {
			log.Infof("[JobQueue Manager] Job %s disabled", job.Type)
			continue
		}
		ticker := time.NewTicker(job.Interval)
		m.tickers = append(m.tickers, ticker)
		m.wg.Add(1)
		go m.worker(ctx, job, ticker)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops all tickers and waits for in-flight runs to return
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping background jobs...")
	for _, t := range m.tickers {
		t.Stop()
	}
	m.tickers = nil
	close(m.stopCh)
	m.cancel()
	m.wg.Wait()
	m.running = false
	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) worker(ctx context.Context, job Job, ticker *time.Ticker) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started %s worker (interval: %s)", job.Type, job.Interval)

	for {
		select {
		case <-m.stopCh:
			log.Infof("[JobQueue Manager] %s worker stopping", job.Type)
			return
		case <-ticker.C:
			if _, err := m.execute(ctx, job); err != nil {
				log.Errorf("[JobQueue Manager] %s failed: %v", job.Type, err)
			}
		}
	}
}

// RunNow executes one pass of the named job outside its schedule
func (m *Manager) RunNow(ctx context.Context, jobType JobType) (Run, error) {
	for _, job := range m.jobs {
		if job.Type == jobType {
			return m.execute(ctx, job)
		}
	}
	return Run{}, fmt.Errorf("unknown job type: %s", jobType)
}

// LastRun returns a copy of the most recent run record of a job
func (m *Manager) LastRun(jobType JobType) (Run, bool) {
	m.runsMu.Lock()
	defer m.runsMu.Unlock()
	r, ok := m.runs[jobType]
	if !ok {
		return Run{}, false
	}
	return *r, true
}

func (m *Manager) execute(ctx context.Context, job Job) (Run, error) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = job.Interval
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	if m.locker != nil {
		release, ok, err := m.locker.TryLock(ctx, leaseKeyPrefix+string(job.Type), timeout)
		if err != nil {
			// Redis being down must not stop billing maintenance.
			log.Warnf("[JobQueue Manager] Lease for %s unavailable, running anyway: %v", job.Type, err)
		} else if !ok {
			log.Debugf("[JobQueue Manager] %s already running elsewhere, skipping", job.Type)
			metrics.JobRunsTotal.WithLabelValues(string(job.Type), string(JobStatusSkipped)).Inc()
			return m.record(job.Type, func(r *Run) { r.MarkAsSkipped(m.now()) }), nil
		} else {
			defer release()
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m.record(job.Type, func(r *Run) { r.MarkAsProcessing(m.now()) })
	start := time.Now()
	affected, err := job.Run(runCtx)
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(string(job.Type), string(JobStatusFailed)).Inc()
		return m.record(job.Type, func(r *Run) { r.MarkAsFailed(m.now(), err.Error()) }), err
	}

	metrics.JobRunsTotal.WithLabelValues(string(job.Type), string(JobStatusCompleted)).Inc()
	log.Infof("[JobQueue Manager] %s completed: %d rows in %s", job.Type, affected, time.Since(start))
	return m.record(job.Type, func(r *Run) { r.MarkAsCompleted(m.now(), affected) }), nil
}

func (m *Manager) record(jobType JobType, update func(r *Run)) Run {
	m.runsMu.Lock()
	defer m.runsMu.Unlock()
	r, ok := m.runs[jobType]
	if !ok {
		r = &Run{Type: jobType}
		m.runs[jobType] = r
	}
	update(r)
	return *r
}
