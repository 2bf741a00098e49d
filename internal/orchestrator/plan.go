package orchestrator

import (
	"context"
	"fmt"

	"github.com/sdaf-automation/sdaf-wizard/internal/session"
)

// Outputs is what a step hands to the steps after it. Ref and Values are
// persisted; Secrets only live for the current run.
type Outputs struct {
	Ref     string
	Values  map[string]string
	Secrets map[string]string
}

// Step is one unit of provisioning. Run must be idempotent: it looks the
// resource up before creating it, so that a redispatch after a crash or a
// failed verification never produces a duplicate.
type Step struct {
	ID        string
	DependsOn []string
	// Provides names the secrets Run puts into Outputs.Secrets.
	Provides []string
	// Consumes names the secrets Run reads from State.
	Consumes []string

	Run func(ctx context.Context, st *State) (*Outputs, error)
	// Verify re-checks a step that succeeded in an earlier run. Any error
	// makes the orchestrator dispatch the step again. A nil Verify trusts the
	// persisted record.
	Verify func(ctx context.Context, st *State, rec session.StepRecord) (*Outputs, error)
}

// Planner builds the ordered step list for a set of inputs. Declaration order
// is the execution order; every dependency must be declared earlier.
type Planner func(inputs session.Inputs) ([]Step, error)

func validatePlan(steps []Step) error {
	seen := make(map[string]bool, len(steps))
	provided := map[string]string{}
	for _, step := range steps {
		if step.ID == "" || step.Run == nil {
			return fmt.Errorf("invalid plan: step %q has no id or no run function", step.ID)
		}
		if seen[step.ID] {
			return fmt.Errorf("invalid plan: duplicate step %s", step.ID)
		}
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("invalid plan: step %s depends on %s, which is not declared before it", step.ID, dep)
			}
		}
		for _, secret := range step.Consumes {
			if _, ok := provided[secret]; !ok {
				return fmt.Errorf("invalid plan: step %s consumes secret %s that no earlier step provides", step.ID, secret)
			}
		}
		for _, secret := range step.Provides {
			provided[secret] = step.ID
		}
		seen[step.ID] = true
	}
	return nil
}

// mergeRecords lines the persisted records up with the plan. Records of steps
// the plan no longer contains are kept at the end, untouched.
func mergeRecords(sess *session.Session, steps []Step) {
	byID := make(map[string]session.StepRecord, len(sess.Steps))
	for _, rec := range sess.Steps {
		byID[rec.ID] = rec
	}

	merged := make([]session.StepRecord, 0, len(steps)+len(sess.Steps))
	planned := make(map[string]bool, len(steps))
	for _, step := range steps {
		planned[step.ID] = true
		rec, ok := byID[step.ID]
		if !ok {
			rec = session.StepRecord{ID: step.ID, Status: session.StatusPending}
		}
		merged = append(merged, rec)
	}
	for _, rec := range sess.Steps {
		if !planned[rec.ID] {
			merged = append(merged, rec)
		}
	}
	sess.Steps = merged
}
