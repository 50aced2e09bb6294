package domain

import "time"

// StepStatus is the outcome of a protocol step.
type StepStatus string

// Step outcomes.
const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult records one executed (or skipped) protocol step.
type StepResult struct {
	Name     string
	Required bool
	Status   StepStatus
	Err      error
	Duration time.Duration
}

// ProtocolReport is the per-step record of a rename or destroy.
type ProtocolReport struct {
	Operation string
	TableID   string
	Steps     []StepResult
}

// Failed reports whether any step failed.
func (r *ProtocolReport) Failed() bool {
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			return true
		}
	}
	return false
}

// Step returns the result of the named step.
func (r *ProtocolReport) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}
