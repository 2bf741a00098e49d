package orchestrator

import (
	"github.com/sdaf-automation/sdaf-wizard/internal/session"
)

type Verdict string

const (
	VerdictCompleted          Verdict = "completed"
	VerdictPartiallyCompleted Verdict = "partially_completed"
	VerdictFailed             Verdict = "failed"
)

type StepResult struct {
	ID          string
	Status      session.Status
	ExternalRef string
	// Attempts made in this run.
	Attempts int
	Error    string
	// Reused is set when the step succeeded in an earlier run and was
	// confirmed without dispatching it again.
	Reused bool
}

type Result struct {
	SessionID   string
	Verdict     Verdict
	Steps       []StepResult
	Interrupted bool
}

func (r *Result) Step(id string) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].ID == id {
			return &r.Steps[i]
		}
	}
	return nil
}

func verdictOf(steps []StepResult) Verdict {
	succeeded := 0
	for _, s := range steps {
		if s.Status == session.StatusSucceeded {
			succeeded++
		}
	}
	switch {
	case len(steps) > 0 && succeeded == len(steps):
		return VerdictCompleted
	case succeeded == 0:
		return VerdictFailed
	}
	return VerdictPartiallyCompleted
}
