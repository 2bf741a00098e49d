package orchestrator

import (
	"context"

	"github.com/juju/retry"

	"github.com/sdaf-automation/sdaf-wizard/internal/failure"
	"github.com/sdaf-automation/sdaf-wizard/internal/message"
)

type callOutcome struct {
	out         *Outputs
	attempts    int
	err         error
	interrupted bool
}

// call runs a step until it succeeds, fails permanently or runs out of
// attempts. The provider call itself never sees cancellation; ctx only cuts
// short the backoff between attempts.
func (o *Orchestrator) call(ctx context.Context, step Step, st *State) callOutcome {
	var res callOutcome
	callCtx := context.WithoutCancel(ctx)

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			res.attempts++
			out, err := step.Run(callCtx, st)
			res.out, res.err = out, err
			return err
		},
		IsFatalError: func(err error) bool {
			return !failure.IsTransient(err)
		},
		NotifyFunc: func(err error, attempt int) {
			message.Debug("%s: attempt %d failed: %v", step.ID, attempt, err)
		},
		Attempts:    o.retry.MaxAttempts,
		Delay:       o.retry.InitialDelay,
		MaxDelay:    o.retry.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       o.clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		res.err = nil
		return res
	}
	if res.err == nil {
		// retry.Call refused its arguments before calling Func.
		res.err = err
		return res
	}
	res.interrupted = failure.IsTransient(res.err) && res.attempts < o.retry.MaxAttempts && ctx.Err() != nil
	return res
}
