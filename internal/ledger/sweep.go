package ledger

import (
	"context"
	"log/slog"
	"time"
)

// SweepRun is the outcome of a gated sweep request.
type SweepRun struct {
	Ran    bool
	Result SweepResult
}

// RunAccrualSweep sweeps all active tenants for today unless a sweep already
// ran for today. force bypasses the daily gate. The gate is re-opened when
// the sweep cannot start so a later trigger may retry.
func (s *Service) RunAccrualSweep(ctx context.Context, force bool) (SweepRun, error) {
	today := s.Today()
	if !force {
		ok, err := s.gate.TryAcquire(ctx, today)
		if err != nil {
			return SweepRun{}, err
		}
		if !ok {
			s.logger.Debug("accrual sweep already ran", slog.String("date", today.Format(time.DateOnly)))
			return SweepRun{Result: SweepResult{Date: today}}, nil
		}
	}
	result, err := s.sweeper.Run(ctx, today)
	if err != nil {
		if !force {
			if relErr := s.gate.Release(context.WithoutCancel(ctx), today); relErr != nil {
				s.logger.Warn("release sweep gate", slog.Any("error", relErr))
			}
		}
		return SweepRun{}, err
	}
	if result.Charged > 0 {
		s.invalidate(ctx)
	}
	return SweepRun{Ran: true, Result: result}, nil
}
