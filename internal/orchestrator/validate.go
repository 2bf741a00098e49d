package orchestrator

import (
	"fmt"

	"github.com/sdaf-automation/sdaf-wizard/internal/session"
	"github.com/sdaf-automation/sdaf-wizard/internal/utils"
)

// ValidationError rejects a run before anything is dispatched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateInputs checks the shape of the inputs. It does not call any
// provider.
func ValidateInputs(inputs session.Inputs) error {
	if !utils.IsValidRepository(inputs.Repository) {
		return &ValidationError{Field: "repository", Reason: fmt.Sprintf("%q is not in owner/name form", inputs.Repository)}
	}
	if !utils.IsValidAzureID(inputs.SubscriptionID) {
		return &ValidationError{Field: "subscription", Reason: fmt.Sprintf("%q is not a subscription id", inputs.SubscriptionID)}
	}
	if !utils.IsValidAzureID(inputs.TenantID) {
		return &ValidationError{Field: "tenant", Reason: fmt.Sprintf("%q is not a tenant id", inputs.TenantID)}
	}
	if !utils.IsValidEnvironmentName(inputs.EnvironmentName) {
		return &ValidationError{Field: "environment", Reason: fmt.Sprintf("%q may only contain letters, digits, dashes and underscores", inputs.EnvironmentName)}
	}
	if !utils.IsValidAzureName(inputs.IdentityName) {
		return &ValidationError{Field: "identity name", Reason: fmt.Sprintf("%q is not a valid Azure name", inputs.IdentityName)}
	}
	switch inputs.IdentityKind {
	case session.IdentityServicePrincipal:
	case session.IdentityManagedIdentity:
		if !utils.IsValidAzureName(inputs.ResourceGroup) {
			return &ValidationError{Field: "resource group", Reason: fmt.Sprintf("%q is not a valid Azure name", inputs.ResourceGroup)}
		}
		if inputs.Location == "" {
			return &ValidationError{Field: "location", Reason: "a managed identity needs a location"}
		}
	default:
		return &ValidationError{Field: "identity kind", Reason: fmt.Sprintf("%q is neither %s nor %s", inputs.IdentityKind, session.IdentityServicePrincipal, session.IdentityManagedIdentity)}
	}
	if inputs.GitHubAppID <= 0 {
		return &ValidationError{Field: "github app id", Reason: "must be a positive number"}
	}
	if inputs.GitHubAppKeyPath == "" {
		return &ValidationError{Field: "github app key", Reason: "a private key file is required"}
	}
	return nil
}
