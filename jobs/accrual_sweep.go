package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/rentdesk/rentdesk/internal/jobs"
	"github.com/rentdesk/rentdesk/internal/ledger"
)

// SweepService runs gated accrual sweeps.
type SweepService interface {
	RunAccrualSweep(ctx context.Context, force bool) (ledger.SweepRun, error)
}

// AccrualSweepJob executes scheduled and on-demand sweeps.
type AccrualSweepJob struct {
	Service SweepService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAccrualSweepJob constructs the job handler.
func NewAccrualSweepJob(service SweepService, logger *slog.Logger, metrics *jobmetrics.Metrics) *AccrualSweepJob {
	return &AccrualSweepJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the accrual sweep. Tenants that failed are reported but do
// not fail the task: the per-tenant accrual marker makes a forced re-run safe,
// while an automatic retry would be blocked by the daily gate anyway.
func (j *AccrualSweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("accrual sweep: dependencies not configured")
	}
	var payload AccrualSweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskAccrualSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	run, err := j.Service.RunAccrualSweep(ctx, payload.Force)
	if err != nil {
		resultErr = err
		j.log().Error("accrual sweep failed", slog.String("reason", payload.Reason), slog.Any("error", err))
		return resultErr
	}
	if !run.Ran {
		j.log().Info("accrual sweep skipped, already ran today", slog.String("reason", payload.Reason))
		return nil
	}

	res := run.Result
	j.metrics().AddAccruals(string(ledger.AccrualCharged), res.Charged)
	j.metrics().AddAccruals(string(ledger.AccrualNotDue), res.Evaluated-res.Charged-res.Skipped)
	j.metrics().AddAccruals(string(ledger.AccrualSkippedPrice), res.Skipped-len(res.Failures))
	j.metrics().AddAccruals(string(ledger.AccrualFailed), len(res.Failures))
	if partial := res.Err(); partial != nil {
		j.log().Warn("accrual sweep finished with failures", slog.Int("failed", len(res.Failures)), slog.Any("error", partial))
	}
	j.log().Info("accrual sweep completed",
		slog.String("reason", payload.Reason),
		slog.String("date", res.Date.Format(time.DateOnly)),
		slog.Int("charged", res.Charged),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return nil
}

func (j *AccrualSweepJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AccrualSweepJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAccrualSweep))
	}
	return slog.Default().With(slog.String("job", TaskAccrualSweep))
}

func (j *AccrualSweepJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *AccrualSweepJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
