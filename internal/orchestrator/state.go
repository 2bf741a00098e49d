package orchestrator

import (
	"maps"

	"github.com/sdaf-automation/sdaf-wizard/internal/session"
)

// State is the view a step gets of the run: the inputs, the persisted outputs
// of the other steps and the secrets produced so far in this process.
type State struct {
	Inputs session.Inputs

	refs    map[string]string
	values  map[string]map[string]string
	secrets map[string]string
}

func newState(inputs session.Inputs) *State {
	return &State{
		Inputs:  inputs,
		refs:    map[string]string{},
		values:  map[string]map[string]string{},
		secrets: map[string]string{},
	}
}

func (s *State) Ref(stepID string) string {
	return s.refs[stepID]
}

func (s *State) Value(stepID, key string) string {
	return s.values[stepID][key]
}

func (s *State) Secret(name string) (string, bool) {
	v, ok := s.secrets[name]
	return v, ok
}

func (s *State) hasSecret(name string) bool {
	_, ok := s.secrets[name]
	return ok
}

func (s *State) load(rec session.StepRecord) {
	s.refs[rec.ID] = rec.ExternalRef
	s.values[rec.ID] = maps.Clone(rec.Outputs)
}

func (s *State) apply(stepID string, out *Outputs) {
	if out == nil {
		return
	}
	s.refs[stepID] = out.Ref
	s.values[stepID] = maps.Clone(out.Values)
	for k, v := range out.Secrets {
		s.secrets[k] = v
	}
}
