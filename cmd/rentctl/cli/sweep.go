package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rentdesk/rentdesk/internal/ledger"
)

// SweepRunner runs one accrual sweep.
type SweepRunner interface {
	RunAccrualSweep(ctx context.Context, force bool) (ledger.SweepRun, error)
}

// SweepOptions holds the flags of the sweep command.
type SweepOptions struct {
	Force      bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// SweepSummary is the JSON output of the sweep command.
type SweepSummary struct {
	Date      string         `json:"date"`
	Ran       bool           `json:"ran"`
	Evaluated int            `json:"evaluated"`
	Charged   int            `json:"charged"`
	Skipped   int            `json:"skipped"`
	Failures  []SweepFailure `json:"failures"`
}

// SweepFailure names a tenant that could not be accrued.
type SweepFailure struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// Exit codes of the sweep command.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitPartial = 10
)

// SweepCommand runs the sweep in-process and prints the outcome. A sweep with
// per-tenant failures exits with ExitPartial.
func SweepCommand(ctx context.Context, runner SweepRunner, opts SweepOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	run, err := runner.RunAccrualSweep(ctx, opts.Force)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "sweep: %v\n", err)
		return ExitError
	}
	summary := buildSweepSummary(run)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "sweep: encode json: %v\n", err)
			return ExitError
		}
	} else {
		renderSweepHuman(opts.Stdout, summary)
	}
	if len(summary.Failures) > 0 {
		return ExitPartial
	}
	return ExitOK
}

func buildSweepSummary(run ledger.SweepRun) SweepSummary {
	summary := SweepSummary{
		Ran:       run.Ran,
		Evaluated: run.Result.Evaluated,
		Charged:   run.Result.Charged,
		Skipped:   run.Result.Skipped,
		Failures:  make([]SweepFailure, 0, len(run.Result.Failures)),
	}
	if !run.Result.Date.IsZero() {
		summary.Date = run.Result.Date.Format(time.DateOnly)
	}
	for _, f := range run.Result.Failures {
		summary.Failures = append(summary.Failures, SweepFailure{Step: f.Step, Error: f.Err.Error()})
	}
	return summary
}

func renderSweepHuman(w io.Writer, s SweepSummary) {
	if !s.Ran {
		_, _ = fmt.Fprintf(w, "sweep for %s already ran; use --force to run again\n", s.Date)
		return
	}
	_, _ = fmt.Fprintf(w, "sweep %s: evaluated=%d charged=%d skipped=%d failed=%d\n",
		s.Date, s.Evaluated, s.Charged, s.Skipped, len(s.Failures))
	for _, f := range s.Failures {
		_, _ = fmt.Fprintf(w, "  %s: %s\n", f.Step, f.Error)
	}
}
