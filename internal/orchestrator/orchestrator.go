package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/juju/clock"

	"github.com/sdaf-automation/sdaf-wizard/internal/config"
	"github.com/sdaf-automation/sdaf-wizard/internal/message"
	"github.com/sdaf-automation/sdaf-wizard/internal/session"
)

// PlanVersion is stored with each session. Bump it when step ids or their
// dependencies change.
const PlanVersion = 1

type Store interface {
	Load(id string) (*session.Session, error)
	Save(sess *session.Session) error
}

// Locker is implemented by stores that can keep a second process away from a
// session while it runs.
type Locker interface {
	Lock(id string) (func() error, error)
}

type Options struct {
	Retry config.Retry
	// Clock drives the backoff between attempts. Defaults to the wall clock.
	Clock clock.Clock
	Sink  Sink
}

// Orchestrator runs a plan against a session, one step at a time.
type Orchestrator struct {
	store   Store
	planner Planner
	retry   config.Retry
	clock   clock.Clock
	sink    Sink
}

func New(store Store, planner Planner, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		planner: planner,
		retry:   opts.Retry,
		clock:   opts.Clock,
		sink:    opts.Sink,
	}
	if o.clock == nil {
		o.clock = clock.WallClock
	}
	if o.sink == nil {
		o.sink = discard{}
	}
	return o
}

// Run provisions everything the plan for inputs describes, resuming the
// session if it exists. Step failures are reported in the Result; the error
// is reserved for invalid input and for a store that can't checkpoint.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, inputs session.Inputs) (*Result, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return nil, &ValidationError{Field: "session id", Reason: err.Error()}
	}
	if err := ValidateInputs(inputs); err != nil {
		return nil, err
	}
	if o.retry.MaxAttempts < 1 || o.retry.InitialDelay <= 0 {
		return nil, &ValidationError{Field: "retry policy", Reason: "at least one attempt and a positive delay are required"}
	}

	if locker, ok := o.store.(Locker); ok {
		unlock, err := locker.Lock(sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to lock session %s: %w", sessionID, err)
		}
		defer func() {
			if err := unlock(); err != nil {
				message.Debug("failed to unlock session %s: %v", sessionID, err)
			}
		}()
	}

	sess, err := o.store.Load(sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		sess = session.New(sessionID, inputs)
	case err != nil:
		return nil, err
	case sess.Inputs != inputs:
		return nil, &ValidationError{Field: "inputs", Reason: fmt.Sprintf("session %s was started with different inputs, reset it or use another session id", sessionID)}
	}

	steps, err := o.planner(inputs)
	if err != nil {
		return nil, err
	}
	if err := validatePlan(steps); err != nil {
		return nil, err
	}
	sess.PlanVersion = PlanVersion
	mergeRecords(sess, steps)
	if err := o.store.Save(sess); err != nil {
		return nil, err
	}

	r := &run{
		Orchestrator: o,
		sess:         sess,
		steps:        steps,
		state:        newState(inputs),
		reused:       map[string]bool{},
		attempts:     map[string]int{},
	}
	return r.execute(ctx)
}

type run struct {
	*Orchestrator
	sess     *session.Session
	steps    []Step
	state    *State
	reused   map[string]bool
	attempts map[string]int
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	for _, rec := range r.sess.Steps {
		r.state.load(rec)
	}

	pending := r.confirmPrevious(ctx)

	interrupted := false
	for _, step := range r.steps {
		rec := r.sess.Step(step.ID)
		if !pending[step.ID] {
			r.emit(Event{StepID: step.ID, StatusBefore: rec.Status, StatusAfter: rec.Status, ExternalRef: rec.ExternalRef, Reused: true})
			continue
		}
		if ctx.Err() != nil {
			interrupted = true
			break
		}

		if dep := r.unmetDependency(step); dep != "" {
			before := rec.Status
			rec.Status = session.StatusSkipped
			rec.LastError = fmt.Sprintf("dependency %s did not succeed", dep)
			rec.UpdatedAt = time.Now().UTC()
			if err := r.store.Save(r.sess); err != nil {
				return nil, err
			}
			r.emit(Event{StepID: step.ID, StatusBefore: before, StatusAfter: rec.Status, Err: errors.New(rec.LastError)})
			continue
		}

		stop, err := r.dispatch(ctx, step, rec)
		if err != nil {
			return nil, err
		}
		if stop {
			interrupted = true
			break
		}
	}

	return r.result(interrupted), nil
}

// confirmPrevious verifies the steps that succeeded in earlier runs and
// returns the set of steps that have to be dispatched in this one.
func (r *run) confirmPrevious(ctx context.Context) map[string]bool {
	pending := make(map[string]bool, len(r.steps))
	verifyCtx := context.WithoutCancel(ctx)

	for _, step := range r.steps {
		rec := r.sess.Step(step.ID)
		if rec.Status != session.StatusSucceeded || rec.ExternalRef == "" {
			pending[step.ID] = true
			continue
		}
		if dep := firstOf(step.DependsOn, pending); dep != "" {
			// Outputs of the dependency may change once it runs again.
			message.Debug("%s: dependency %s runs again, so does this step", step.ID, dep)
			pending[step.ID] = true
			continue
		}
		if step.Verify == nil {
			r.reused[step.ID] = true
			continue
		}
		out, err := step.Verify(verifyCtx, r.state, *rec)
		if err != nil {
			message.Debug("%s: %s could not be confirmed: %v", step.ID, rec.ExternalRef, err)
			pending[step.ID] = true
			continue
		}
		if out != nil {
			if out.Ref != "" {
				rec.ExternalRef = out.Ref
			}
			if out.Values != nil {
				rec.Outputs = out.Values
			}
			r.state.apply(step.ID, &Outputs{Ref: rec.ExternalRef, Values: rec.Outputs, Secrets: out.Secrets})
		}
		r.reused[step.ID] = true
	}

	// Secrets never reach the store, so a producer has to run again when a
	// step that still has to run needs one of its secrets. A producer that
	// runs again takes its dependents with it, and those may need secrets of
	// their own, so both passes repeat until nothing changes.
	for r.requireProducers(pending) {
		r.requireDependents(pending)
	}
	return pending
}

// requireProducers marks the producers of secrets that pending steps need and
// nobody supplied in this run. It reports whether anything was marked.
func (r *run) requireProducers(pending map[string]bool) bool {
	changed := false
	for i := len(r.steps) - 1; i >= 0; i-- {
		step := r.steps[i]
		if !pending[step.ID] {
			continue
		}
		for _, secret := range step.Consumes {
			if r.state.hasSecret(secret) {
				continue
			}
			for _, producer := range r.steps[:i] {
				if slices.Contains(producer.Provides, secret) && !pending[producer.ID] {
					message.Debug("%s: runs again to provide %s to %s", producer.ID, secret, step.ID)
					pending[producer.ID] = true
					delete(r.reused, producer.ID)
					changed = true
				}
			}
		}
	}
	return changed
}

// requireDependents marks every step that depends, directly or not, on a
// pending step. Dependencies are declared first, so one forward pass is enough.
func (r *run) requireDependents(pending map[string]bool) {
	for _, step := range r.steps {
		if pending[step.ID] {
			continue
		}
		if dep := firstOf(step.DependsOn, pending); dep != "" {
			message.Debug("%s: dependency %s runs again, so does this step", step.ID, dep)
			pending[step.ID] = true
			delete(r.reused, step.ID)
		}
	}
}

// unmetDependency returns the first dependency that has not succeeded in a
// way later steps can build on.
func (r *run) unmetDependency(step Step) string {
	for _, dep := range step.DependsOn {
		rec := r.sess.Step(dep)
		if rec == nil || rec.Status != session.StatusSucceeded || rec.ExternalRef == "" {
			return dep
		}
	}
	return ""
}

// dispatch runs one step and checkpoints the outcome. It reports stop when
// the run was interrupted during backoff.
func (r *run) dispatch(ctx context.Context, step Step, rec *session.StepRecord) (bool, error) {
	before := rec.Status
	rec.Status = session.StatusInProgress
	rec.UpdatedAt = time.Now().UTC()
	if err := r.store.Save(r.sess); err != nil {
		return false, err
	}

	start := r.clock.Now()
	outcome := r.call(ctx, step, r.state)
	duration := r.clock.Now().Sub(start)

	rec.Attempts += outcome.attempts
	r.attempts[step.ID] = outcome.attempts
	rec.UpdatedAt = time.Now().UTC()
	switch {
	case outcome.err == nil:
		rec.Status = session.StatusSucceeded
		if outcome.out != nil {
			rec.ExternalRef = outcome.out.Ref
			rec.Outputs = outcome.out.Values
		}
		r.state.apply(step.ID, outcome.out)
	case outcome.interrupted:
		rec.Status = session.StatusPending
		rec.LastError = outcome.err.Error()
	default:
		rec.Status = session.StatusFailed
		rec.LastError = outcome.err.Error()
	}
	if err := r.store.Save(r.sess); err != nil {
		return false, err
	}

	r.emit(Event{
		StepID:       step.ID,
		StatusBefore: before,
		StatusAfter:  rec.Status,
		ExternalRef:  rec.ExternalRef,
		Err:          outcome.err,
		Attempts:     outcome.attempts,
		Duration:     duration,
	})
	return outcome.interrupted, nil
}

func (r *run) emit(e Event) {
	e.SessionID = r.sess.ID
	r.sink.StepFinished(e)
}

func (r *run) result(interrupted bool) *Result {
	res := &Result{SessionID: r.sess.ID, Interrupted: interrupted}
	for _, step := range r.steps {
		rec := r.sess.Step(step.ID)
		sr := StepResult{
			ID:          rec.ID,
			Status:      rec.Status,
			ExternalRef: rec.ExternalRef,
			Attempts:    r.attempts[step.ID],
			Reused:      r.reused[step.ID],
		}
		if rec.Status != session.StatusSucceeded {
			sr.Error = rec.LastError
		}
		res.Steps = append(res.Steps, sr)
	}
	res.Verdict = verdictOf(res.Steps)
	return res
}

func firstOf(ids []string, set map[string]bool) string {
	for _, id := range ids {
		if set[id] {
			return id
		}
	}
	return ""
}
