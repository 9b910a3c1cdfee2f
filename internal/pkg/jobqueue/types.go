package jobqueue

import (
	"context"
	"time"
)

// JobType names a recurring background job
type JobType string

const (
	JobTypeReconcileSubscriptions JobType = "reconcile_subscriptions"
	JobTypeSweepCheckouts         JobType = "sweep_checkouts"
	JobTypeArchiveAudit           JobType = "archive_audit"
)

// JobStatus defines the outcome of the last run of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusSkipped    JobStatus = "skipped"
)

// RunFunc performs one pass of a job and reports how many rows it touched.
type RunFunc func(ctx context.Context) (int64, error)

// Job is a recurring task driven by its own ticker.
type Job struct {
	Type     JobType
	Interval time.Duration
	Timeout  time.Duration
	Run      RunFunc
}

// Run records the state of the most recent execution of a job
type Run struct {
	Type        JobType    `json:"type"`
	Status      JobStatus  `json:"status"`
	Affected    int64      `json:"affected"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ErrorMsg    string     `json:"error_msg,omitempty"`
	Runs        int        `json:"runs"`
}

// MarkAsProcessing marks the run as in progress
func (r *Run) MarkAsProcessing(now time.Time) {
	r.Status = JobStatusProcessing
	r.StartedAt = now
	r.CompletedAt = nil
	r.ErrorMsg = ""
	r.Runs++
}

// MarkAsCompleted records a successful pass
func (r *Run) MarkAsCompleted(now time.Time, affected int64) {
	r.Status = JobStatusCompleted
	r.Affected = affected
	r.CompletedAt = &now
}

// MarkAsFailed records a failed pass
func (r *Run) MarkAsFailed(now time.Time, errorMsg string) {
	r.Status = JobStatusFailed
	r.ErrorMsg = errorMsg
	r.CompletedAt = &now
}

// MarkAsSkipped records a pass that another instance already held the lease for
func (r *Run) MarkAsSkipped(now time.Time) {
	r.Status = JobStatusSkipped
	r.Affected = 0
	r.CompletedAt = &now
}
