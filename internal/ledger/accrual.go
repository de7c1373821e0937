package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const defaultSweepConcurrency = 4

// AccrualRepository is the storage needed to evaluate and charge one tenant.
// Both the pooled repository and a TxRepository satisfy it.
type AccrualRepository interface {
	GetUnit(ctx context.Context, id int64) (Unit, error)
	LatestPayment(ctx context.Context, tenantID int64) (*Payment, error)
	ApplyAccrual(ctx context.Context, tenantID int64, amount decimal.Decimal, period time.Time) (Tenant, bool, error)
}

// SweepRepository adds tenant enumeration for full sweeps.
type SweepRepository interface {
	AccrualRepository
	ListTenants(ctx context.Context, filter TenantFilter) ([]Tenant, error)
}

// AccrualOutcome classifies a per-tenant accrual evaluation.
type AccrualOutcome string

const (
	AccrualCharged      AccrualOutcome = "charged"
	AccrualNotDue       AccrualOutcome = "not_due"
	AccrualSkippedPrice AccrualOutcome = "skipped_no_price"
	AccrualFailed       AccrualOutcome = "failed"
)

// TenantAccrual reports what happened to one tenant during a sweep.
type TenantAccrual struct {
	TenantID int64
	UnitID   int64
	Outcome  AccrualOutcome
	Period   time.Time
	Amount   decimal.Decimal
	Balance  decimal.Decimal
	Err      error
}

// SweepResult summarises one accrual sweep.
type SweepResult struct {
	Date      time.Time
	Evaluated int
	Charged   int
	Skipped   int
	Tenants   []TenantAccrual
	Failures  []StepFailure
}

// Err returns a *PartialFailureError when any tenant failed, nil otherwise.
func (r SweepResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &PartialFailureError{Op: "accrual sweep", Applied: r.Charged, Failures: r.Failures}
}

// Sweeper charges one month's rent to every tenant whose billing period has
// elapsed since they were last charged.
type Sweeper struct {
	repo        SweepRepository
	logger      *slog.Logger
	concurrency int
}

// NewSweeper constructs a sweeper. Non-positive concurrency uses the default.
func NewSweeper(repo SweepRepository, logger *slog.Logger, concurrency int) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}
	return &Sweeper{repo: repo, logger: logger, concurrency: concurrency}
}

// Run evaluates every active tenant against today. A tenant failure never
// aborts the sweep; failures are collected on the result. The returned error
// is only set when the tenant list cannot be read or ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, today time.Time) (SweepResult, error) {
	today = DateOf(today)
	result := SweepResult{Date: today}
	tenants, err := s.repo.ListTenants(ctx, TenantFilter{})
	if err != nil {
		return result, fmt.Errorf("list active tenants: %w", err)
	}

	outcomes := make([]TenantAccrual, len(tenants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range tenants {
		tenant := tenants[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, err := s.AccrueTenant(gctx, s.repo, tenant, today)
			if err != nil {
				outcome.Outcome = AccrualFailed
				outcome.Err = err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	result.Evaluated = len(outcomes)
	result.Tenants = outcomes
	for _, o := range outcomes {
		switch o.Outcome {
		case AccrualCharged:
			result.Charged++
		case AccrualSkippedPrice:
			result.Skipped++
		case AccrualFailed:
			result.Skipped++
			result.Failures = append(result.Failures, StepFailure{Step: fmt.Sprintf("tenant %d", o.TenantID), Err: o.Err})
			s.logger.Error("accrual failed", slog.Int64("tenant_id", o.TenantID), slog.Any("error", o.Err))
		}
	}
	s.logger.Info("accrual sweep finished",
		slog.String("date", today.Format(time.DateOnly)),
		slog.Int("evaluated", result.Evaluated),
		slog.Int("charged", result.Charged),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", len(result.Failures)),
	)
	return result, nil
}

// AccrueTenant evaluates a single tenant and charges at most one period. The
// charge is applied with a conditional update so repeated or concurrent calls
// for the same period add rent once.
func (s *Sweeper) AccrueTenant(ctx context.Context, repo AccrualRepository, tenant Tenant, today time.Time) (TenantAccrual, error) {
	out := TenantAccrual{TenantID: tenant.ID, UnitID: tenant.UnitID, Outcome: AccrualNotDue, Balance: tenant.Balance}
	if !tenant.Active() {
		return out, nil
	}
	today = DateOf(today)
	unit, err := repo.GetUnit(ctx, tenant.UnitID)
	if err != nil {
		return out, fmt.Errorf("unit lookup: %w", err)
	}
	if !unit.Price.IsPositive() {
		out.Outcome = AccrualSkippedPrice
		s.logger.Warn("unit has no rent price; accrual skipped",
			slog.Int64("tenant_id", tenant.ID),
			slog.Int64("unit_id", unit.ID))
		return out, nil
	}

	var latest *Payment
	if tenant.LastAccrualPeriod == nil {
		latest, err = repo.LatestPayment(ctx, tenant.ID)
		if err != nil {
			return out, fmt.Errorf("payment lookup: %w", err)
		}
	}
	due, period := AccrualDue(tenant, latest, today)
	out.Period = period
	if !due {
		return out, nil
	}

	updated, applied, err := repo.ApplyAccrual(ctx, tenant.ID, unit.Price, period)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return out, nil
		}
		return out, fmt.Errorf("apply accrual: %w", err)
	}
	if !applied {
		// charged concurrently for this period, or moved out meanwhile
		return out, nil
	}
	out.Outcome = AccrualCharged
	out.Amount = unit.Price
	out.Balance = updated.Balance
	s.logger.Debug("rent accrued",
		slog.Int64("tenant_id", tenant.ID),
		slog.String("period", period.Format(time.DateOnly)),
		slog.String("amount", unit.Price.StringFixed(2)),
	)
	return out, nil
}

// AccrualDue decides whether tenant owes a new period on today and returns the
// billing date of that period. Rent is never charged before the first full
// period has elapsed. Tenants with a recorded accrual period are charged when
// a newer billing date has passed. Tenants without one fall back to their
// payment history: charged when the latest payment predates the current
// period, or when they have never paid.
func AccrualDue(tenant Tenant, latest *Payment, today time.Time) (bool, time.Time) {
	today = DateOf(today)
	moveIn := DateOf(tenant.MoveInDate)
	period := LastBillingDate(moveIn, today)
	if today.Before(FirstPeriodEnd(moveIn)) {
		return false, period
	}
	if tenant.LastAccrualPeriod != nil {
		return period.After(DateOf(*tenant.LastAccrualPeriod)), period
	}
	if latest != nil {
		return period.After(BillingDateInMonthOf(moveIn, latest.PaidOn)), period
	}
	return true, period
}
