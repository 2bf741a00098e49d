package session

import (
	"time"
)

const (
	stateFileDirectory = ".sdaf-wizard"
	sessionsDirectory  = "sessions"
	sessionFileExt     = ".json"
	lockFileExt        = ".lock"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

const (
	IdentityServicePrincipal = "service-principal"
	IdentityManagedIdentity  = "managed-identity"
)

// Session is the persisted state of one provisioning run. It is passed
// explicitly through the orchestrator; there is no process-wide session.
type Session struct {
	ID          string       `json:"id"`
	PlanVersion int          `json:"planVersion"`
	Inputs      Inputs       `json:"inputs"`
	Steps       []StepRecord `json:"steps"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Inputs are fixed when the session is created. Resource names are derived
// from them, so they must not change between resumed runs.
type Inputs struct {
	Repository       string `json:"repository"`
	SubscriptionID   string `json:"subscriptionId"`
	TenantID         string `json:"tenantId"`
	EnvironmentName  string `json:"environmentName"`
	IdentityKind     string `json:"identityKind"`
	IdentityName     string `json:"identityName"`
	ResourceGroup    string `json:"resourceGroup,omitempty"`
	Location         string `json:"location,omitempty"`
	GitHubAppID      int64  `json:"githubAppId"`
	GitHubAppKeyPath string `json:"githubAppKeyPath"`
	SAPUsername      string `json:"sapUsername,omitempty"`
}

// StepRecord holds references only. Secret values never end up here.
type StepRecord struct {
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	ExternalRef string            `json:"externalRef,omitempty"`
	Outputs     map[string]string `json:"outputs,omitempty"`
	LastError   string            `json:"lastError,omitempty"`
	Attempts    int               `json:"attempts"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func New(id string, inputs Inputs) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		Inputs:    inputs,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Step returns the record with the given id, or nil.
func (s *Session) Step(id string) *StepRecord {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return &s.Steps[i]
		}
	}
	return nil
}

// Started reports whether any step has left the pending state.
func (s *Session) Started() bool {
	for _, step := range s.Steps {
		if step.Status != StatusPending {
			return true
		}
	}
	return false
}
