package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/rentdesk/rentdesk/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAccrualSweep charges elapsed rent periods to active tenants.
	TaskAccrualSweep = "ledger:accrual_sweep"
	// TaskIdempotencyCleanup prunes expired payment idempotency keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AccrualSweepPayload configures one sweep run.
type AccrualSweepPayload struct {
	// Force bypasses the once-per-day gate.
	Force  bool   `json:"force"`
	Reason string `json:"reason,omitempty"`
}

// NewAccrualSweepTask constructs an Asynq task for the accrual sweep. Tasks
// are unique per reason for an hour so overlapping triggers collapse.
func NewAccrualSweepTask(payload AccrualSweepPayload) (*asynq.Task, error) {
	if payload.Reason == "" {
		payload.Reason = "manual"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(15 * time.Minute)}
	if !payload.Force {
		opts = append(opts, asynq.Unique(time.Hour))
	}
	return asynq.NewTask(TaskAccrualSweep, body, opts...), nil
}

// IdempotencyCleanupPayload sets the retention of idempotency keys.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
