package cmd

import (
	"github.com/sdaf-automation/sdaf-wizard/internal/message"
	"github.com/sdaf-automation/sdaf-wizard/internal/orchestrator"
	"github.com/sdaf-automation/sdaf-wizard/internal/session"
)

// consoleSink prints one line per step as the run progresses.
type consoleSink struct{}

func (consoleSink) StepFinished(e orchestrator.Event) {
	switch {
	case e.Reused:
		message.Success("%s: already done (%s)", e.StepID, e.ExternalRef)
	case e.StatusAfter == session.StatusSucceeded:
		message.Success("%s: %s", e.StepID, e.ExternalRef)
		message.Debug("%s took %s in %d attempt(s)", e.StepID, e.Duration, e.Attempts)
	case e.StatusAfter == session.StatusSkipped:
		message.Skipped("%s: skipped, %v", e.StepID, e.Err)
	case e.StatusAfter == session.StatusPending:
		message.Warning("%s: interrupted after %d attempt(s): %v", e.StepID, e.Attempts, e.Err)
	default:
		message.Error("%s: failed after %d attempt(s): %v", e.StepID, e.Attempts, e.Err)
	}
}
