// Package identity renames and destroys tables while keeping the objects that
// reference them consistent.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"geotables/internal/domain"
)

// ErrSkipped is returned by a step that found nothing to do.
var ErrSkipped = errors.New("step skipped")

// Step is one unit of a rename or destroy protocol.
type Step struct {
	Name string
	// Required steps abort the protocol when they fail; every later step is
	// reported as skipped.
	Required bool
	// SkipIfFailed skips the step when any earlier step failed.
	SkipIfFailed bool
	Run          func(ctx context.Context) error
}

// RunProtocol executes steps in order and records the outcome of each.
// Failures of best-effort steps are logged at level and do not stop the run.
func RunProtocol(ctx context.Context, logger *slog.Logger, level slog.Level, operation, tableID string, steps []Step) *domain.ProtocolReport {
	report := &domain.ProtocolReport{Operation: operation, TableID: tableID}
	aborted := false
	for _, s := range steps {
		res := domain.StepResult{Name: s.Name, Required: s.Required}
		if aborted || (s.SkipIfFailed && report.Failed()) {
			res.Status = domain.StepSkipped
			report.Steps = append(report.Steps, res)
			continue
		}

		start := time.Now()
		err := s.Run(ctx)
		res.Duration = time.Since(start)
		switch {
		case err == nil:
			res.Status = domain.StepOK
		case errors.Is(err, ErrSkipped):
			res.Status = domain.StepSkipped
		default:
			res.Status = domain.StepFailed
			res.Err = err
			if s.Required {
				aborted = true
				logger.Error("required step failed", "operation", operation, "table", tableID, "step", s.Name, "error", err)
			} else {
				logger.Log(ctx, level, "step failed", "operation", operation, "table", tableID, "step", s.Name, "error", err)
			}
		}
		report.Steps = append(report.Steps, res)
	}
	return report
}

// requiredFailure returns the error of the failed required step, if any.
func requiredFailure(r *domain.ProtocolReport) error {
	for _, s := range r.Steps {
		if s.Required && s.Status == domain.StepFailed {
			return s.Err
		}
	}
	return nil
}
