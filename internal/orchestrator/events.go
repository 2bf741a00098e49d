package orchestrator

import (
	"time"

	"github.com/sdaf-automation/sdaf-wizard/internal/session"
)

// Event is emitted once per step and run. Attempts counts provider calls made
// in this run, so a step confirmed from a previous run reports zero.
type Event struct {
	SessionID    string
	StepID       string
	StatusBefore session.Status
	StatusAfter  session.Status
	ExternalRef  string
	Err          error
	Attempts     int
	Duration     time.Duration
	Reused       bool
}

type Sink interface {
	StepFinished(Event)
}

// Sinks fans an event out to several sinks in order.
type Sinks []Sink

func (s Sinks) StepFinished(e Event) {
	for _, sink := range s {
		sink.StepFinished(e)
	}
}

type SinkFunc func(Event)

func (f SinkFunc) StepFinished(e Event) {
	f(e)
}

type discard struct{}

func (discard) StepFinished(Event) {}
