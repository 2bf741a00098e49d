package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/sdaf-automation/sdaf-wizard/internal/cloud"
	"github.com/sdaf-automation/sdaf-wizard/internal/config"
	"github.com/sdaf-automation/sdaf-wizard/internal/failure"
	"github.com/sdaf-automation/sdaf-wizard/internal/platform"
	"github.com/sdaf-automation/sdaf-wizard/internal/session"
)

const (
	StepCreateGitHubApp           = "create-github-app"
	StepCreateEnvironment         = "create-environment"
	StepEnsureResourceGroup       = "ensure-resource-group"
	StepCreateServicePrincipal    = "create-service-principal"
	StepCreateManagedIdentity     = "create-managed-identity"
	StepAssignSubscriptionRoles   = "assign-subscription-roles"
	StepCreateFederatedCredential = "create-federated-credential"
	StepSetRepoSecrets            = "set-repo-secrets"
	StepSetEnvironmentConfig      = "set-environment-config"
)

// Secret and variable names the SDAF workflows read.
const (
	SecretApplicationID         = "APPLICATION_ID"
	SecretApplicationPrivateKey = "APPLICATION_PRIVATE_KEY"
	SecretClientSecret          = "AZURE_CLIENT_SECRET"
	SecretSAPPassword           = "S_PASSWORD"

	VarClientID       = "AZURE_CLIENT_ID"
	VarObjectID       = "AZURE_OBJECT_ID"
	VarSubscriptionID = "AZURE_SUBSCRIPTION_ID"
	VarTenantID       = "AZURE_TENANT_ID"
	VarUseMSI         = "USE_MSI"
	VarSAPUsername    = "S_USERNAME"

	sapPasswordPlaceholder = "Add SAP S Password here"
)

// Output keys of the identity steps.
const (
	OutputClientID    = "clientId"
	OutputPrincipalID = "principalId"
	OutputAppObjectID = "appObjectId"
)

type GitHub interface {
	EnsureApp(ctx context.Context, repo platform.Repository, appID int64, privateKey []byte) (*platform.App, error)
	EnsureEnvironment(ctx context.Context, repo platform.Repository, name string) (*platform.Environment, error)
	EnvironmentExists(ctx context.Context, repo platform.Repository, name string) (bool, error)
	SetRepositorySecrets(ctx context.Context, repo platform.Repository, secrets map[string]string) error
	RepositorySecretsExist(ctx context.Context, repo platform.Repository, names []string) error
	SetEnvironmentSecrets(ctx context.Context, repo platform.Repository, env string, secrets map[string]string) error
	SetEnvironmentVariables(ctx context.Context, repo platform.Repository, env string, vars map[string]string) error
	EnvironmentConfigured(ctx context.Context, repo platform.Repository, env string, vars map[string]string, secretNames []string) error
}

type Azure interface {
	EnsureServicePrincipal(ctx context.Context, displayName string, withSecret bool) (*cloud.ServicePrincipal, error)
	GetServicePrincipal(ctx context.Context, appObjectID string) (*cloud.ServicePrincipal, error)
	EnsureResourceGroup(ctx context.Context, name, location string) (*cloud.ResourceGroup, error)
	GetResourceGroup(ctx context.Context, name string) (*cloud.ResourceGroup, error)
	EnsureManagedIdentity(ctx context.Context, resourceGroup, name, location string) (*cloud.ManagedIdentity, error)
	GetManagedIdentity(ctx context.Context, id string) (*cloud.ManagedIdentity, error)
	EnsureRoleAssignments(ctx context.Context, principalID string, roles []string) ([]string, error)
	CheckRoleAssignments(ctx context.Context, ids []string) error
	EnsureApplicationFederatedCredential(ctx context.Context, appObjectID string, desired cloud.FederatedCredential) (*cloud.FederatedCredential, error)
	FindApplicationFederatedCredential(ctx context.Context, appObjectID string, desired cloud.FederatedCredential) (*cloud.FederatedCredential, error)
	EnsureIdentityFederatedCredential(ctx context.Context, resourceGroup, identityName string, desired cloud.FederatedCredential) (*cloud.FederatedCredential, error)
	FindIdentityFederatedCredential(ctx context.Context, resourceGroup, identityName string, desired cloud.FederatedCredential) (*cloud.FederatedCredential, error)
}

// SDAF builds the plan that prepares a repository and an Azure subscription
// for the SAP Deployment Automation Framework workflows.
type SDAF struct {
	GitHub GitHub
	Azure  Azure
	Config config.Azure
	// SAPPassword is published as an environment secret. A placeholder is
	// written when it is empty.
	SAPPassword string
	// ReadFile reads the GitHub App private key. Defaults to os.ReadFile.
	ReadFile func(name string) ([]byte, error)
}

func (p *SDAF) Plan(inputs session.Inputs) ([]Step, error) {
	repo, err := platform.ParseRepository(inputs.Repository)
	if err != nil {
		return nil, &ValidationError{Field: "repository", Reason: err.Error()}
	}
	b := &sdafBuilder{SDAF: p, inputs: inputs, repo: repo}

	steps := []Step{b.githubApp(), b.environment()}
	switch inputs.IdentityKind {
	case session.IdentityServicePrincipal:
		b.identityStep = StepCreateServicePrincipal
		steps = append(steps, b.servicePrincipal())
	case session.IdentityManagedIdentity:
		b.identityStep = StepCreateManagedIdentity
		steps = append(steps, b.resourceGroup(), b.managedIdentity())
	default:
		return nil, &ValidationError{Field: "identity kind", Reason: fmt.Sprintf("unsupported identity kind %q", inputs.IdentityKind)}
	}
	if len(b.roles()) == 0 {
		return nil, &ValidationError{Field: "azure roles", Reason: fmt.Sprintf("no roles are configured for identity kind %q", inputs.IdentityKind)}
	}
	steps = append(steps, b.roleAssignments(), b.federatedCredential(), b.repoSecrets(), b.environmentConfig())
	return steps, nil
}

type sdafBuilder struct {
	*SDAF
	inputs       session.Inputs
	repo         platform.Repository
	identityStep string
}

func (b *sdafBuilder) readKey() ([]byte, error) {
	read := b.ReadFile
	if read == nil {
		read = os.ReadFile
	}
	key, err := read(b.inputs.GitHubAppKeyPath)
	if err != nil {
		return nil, failure.InvalidInput("read github app key", "%v", err)
	}
	return key, nil
}

func (b *sdafBuilder) githubApp() Step {
	ensure := func(ctx context.Context) (*Outputs, error) {
		key, err := b.readKey()
		if err != nil {
			return nil, err
		}
		app, err := b.GitHub.EnsureApp(ctx, b.repo, b.inputs.GitHubAppID, key)
		if err != nil {
			return nil, err
		}
		return &Outputs{
			Ref: app.Ref(),
			Values: map[string]string{
				"appId":          strconv.FormatInt(app.ID, 10),
				"slug":           app.Slug,
				"installationId": strconv.FormatInt(app.InstallationID, 10),
			},
			Secrets: map[string]string{SecretApplicationPrivateKey: string(key)},
		}, nil
	}
	return Step{
		ID:       StepCreateGitHubApp,
		Provides: []string{SecretApplicationPrivateKey},
		Run: func(ctx context.Context, _ *State) (*Outputs, error) {
			return ensure(ctx)
		},
		// Checking the app only reads, and hands the key to later steps.
		Verify: func(ctx context.Context, _ *State, _ session.StepRecord) (*Outputs, error) {
			return ensure(ctx)
		},
	}
}

func (b *sdafBuilder) environment() Step {
	return Step{
		ID: StepCreateEnvironment,
		Run: func(ctx context.Context, _ *State) (*Outputs, error) {
			env, err := b.GitHub.EnsureEnvironment(ctx, b.repo, b.inputs.EnvironmentName)
			if err != nil {
				return nil, err
			}
			return &Outputs{Ref: env.Ref(), Values: map[string]string{"environmentId": strconv.FormatInt(env.ID, 10)}}, nil
		},
		Verify: func(ctx context.Context, _ *State, _ session.StepRecord) (*Outputs, error) {
			ok, err := b.GitHub.EnvironmentExists(ctx, b.repo, b.inputs.EnvironmentName)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, failure.NotFound("verify environment", "environment %s no longer exists", b.inputs.EnvironmentName)
			}
			return nil, nil
		},
	}
}

func (b *sdafBuilder) servicePrincipal() Step {
	step := Step{
		ID: StepCreateServicePrincipal,
		Run: func(ctx context.Context, _ *State) (*Outputs, error) {
			sp, err := b.Azure.EnsureServicePrincipal(ctx, b.inputs.IdentityName, b.Config.ClientSecret)
			if err != nil {
				return nil, err
			}
			out := &Outputs{Ref: sp.AppObjectID, Values: servicePrincipalValues(sp)}
			if sp.ClientSecret != "" {
				out.Secrets = map[string]string{SecretClientSecret: sp.ClientSecret}
			}
			return out, nil
		},
		Verify: func(ctx context.Context, _ *State, rec session.StepRecord) (*Outputs, error) {
			sp, err := b.Azure.GetServicePrincipal(ctx, rec.ExternalRef)
			if err != nil {
				return nil, err
			}
			return &Outputs{Ref: sp.AppObjectID, Values: servicePrincipalValues(sp)}, nil
		},
	}
	if b.Config.ClientSecret {
		step.Provides = []string{SecretClientSecret}
	}
	return step
}

func servicePrincipalValues(sp *cloud.ServicePrincipal) map[string]string {
	return map[string]string{
		OutputAppObjectID: sp.AppObjectID,
		OutputClientID:    sp.ClientID,
		OutputPrincipalID: sp.PrincipalID,
	}
}

func (b *sdafBuilder) resourceGroup() Step {
	return Step{
		ID: StepEnsureResourceGroup,
		Run: func(ctx context.Context, _ *State) (*Outputs, error) {
			rg, err := b.Azure.EnsureResourceGroup(ctx, b.inputs.ResourceGroup, b.inputs.Location)
			if err != nil {
				return nil, err
			}
			return &Outputs{Ref: rg.ID, Values: map[string]string{"location": rg.Location}}, nil
		},
		Verify: func(ctx context.Context, _ *State, _ session.StepRecord) (*Outputs, error) {
			_, err := b.Azure.GetResourceGroup(ctx, b.inputs.ResourceGroup)
			return nil, err
		},
	}
}

func (b *sdafBuilder) managedIdentity() Step {
	return Step{
		ID:        StepCreateManagedIdentity,
		DependsOn: []string{StepEnsureResourceGroup},
		Run: func(ctx context.Context, _ *State) (*Outputs, error) {
			mi, err := b.Azure.EnsureManagedIdentity(ctx, b.inputs.ResourceGroup, b.inputs.IdentityName, b.inputs.Location)
			if err != nil {
				return nil, err
			}
			return &Outputs{Ref: mi.ID, Values: managedIdentityValues(mi)}, nil
		},
		Verify: func(ctx context.Context, _ *State, rec session.StepRecord) (*Outputs, error) {
			mi, err := b.Azure.GetManagedIdentity(ctx, rec.ExternalRef)
			if err != nil {
				return nil, err
			}
			return &Outputs{Ref: mi.ID, Values: managedIdentityValues(mi)}, nil
		},
	}
}

func managedIdentityValues(mi *cloud.ManagedIdentity) map[string]string {
	return map[string]string{
		OutputClientID:    mi.ClientID,
		OutputPrincipalID: mi.PrincipalID,
	}
}

func (b *sdafBuilder) roles() []string {
	if b.inputs.IdentityKind == session.IdentityManagedIdentity {
		return b.Config.ManagedIdentityRoles
	}
	return b.Config.ServicePrincipalRoles
}

func (b *sdafBuilder) roleAssignments() Step {
	return Step{
		ID:        StepAssignSubscriptionRoles,
		DependsOn: []string{b.identityStep},
		Run: func(ctx context.Context, st *State) (*Outputs, error) {
			ids, err := b.Azure.EnsureRoleAssignments(ctx, st.Value(b.identityStep, OutputPrincipalID), b.roles())
			if err != nil {
				return nil, err
			}
			return &Outputs{Ref: strings.Join(ids, ","), Values: map[string]string{"roles": strings.Join(b.roles(), ",")}}, nil
		},
		Verify: func(ctx context.Context, _ *State, rec session.StepRecord) (*Outputs, error) {
			if rec.Outputs["roles"] != strings.Join(b.roles(), ",") {
				return nil, failure.NotFound("verify role assignments", "configured roles changed")
			}
			return nil, b.Azure.CheckRoleAssignments(ctx, strings.Split(rec.ExternalRef, ","))
		},
	}
}

func (b *sdafBuilder) federatedCredential() Step {
	desired := cloud.GitHubFederatedCredential(b.inputs.Repository, b.inputs.EnvironmentName)
	toOutputs := func(cred *cloud.FederatedCredential) *Outputs {
		return &Outputs{Ref: cred.ID, Values: map[string]string{"name": cred.Name, "subject": cred.Subject}}
	}

	return Step{
		ID:        StepCreateFederatedCredential,
		DependsOn: []string{StepCreateGitHubApp, b.identityStep, StepCreateEnvironment},
		Run: func(ctx context.Context, st *State) (*Outputs, error) {
			var cred *cloud.FederatedCredential
			var err error
			if b.identityStep == StepCreateManagedIdentity {
				cred, err = b.Azure.EnsureIdentityFederatedCredential(ctx, b.inputs.ResourceGroup, b.inputs.IdentityName, desired)
			} else {
				cred, err = b.Azure.EnsureApplicationFederatedCredential(ctx, st.Value(b.identityStep, OutputAppObjectID), desired)
			}
			if err != nil {
				return nil, err
			}
			return toOutputs(cred), nil
		},
		Verify: func(ctx context.Context, st *State, _ session.StepRecord) (*Outputs, error) {
			var cred *cloud.FederatedCredential
			var err error
			if b.identityStep == StepCreateManagedIdentity {
				cred, err = b.Azure.FindIdentityFederatedCredential(ctx, b.inputs.ResourceGroup, b.inputs.IdentityName, desired)
			} else {
				cred, err = b.Azure.FindApplicationFederatedCredential(ctx, st.Value(b.identityStep, OutputAppObjectID), desired)
			}
			if err != nil {
				return nil, err
			}
			return toOutputs(cred), nil
		},
	}
}

func (b *sdafBuilder) repoSecrets() Step {
	names := []string{SecretApplicationID, SecretApplicationPrivateKey}
	return Step{
		ID:        StepSetRepoSecrets,
		DependsOn: []string{StepCreateGitHubApp, b.identityStep, StepCreateFederatedCredential},
		Consumes:  []string{SecretApplicationPrivateKey},
		Run: func(ctx context.Context, st *State) (*Outputs, error) {
			key, ok := st.Secret(SecretApplicationPrivateKey)
			if !ok {
				return nil, failure.InvalidInput("set repository secrets", "the github app private key is not available")
			}
			err := b.GitHub.SetRepositorySecrets(ctx, b.repo, map[string]string{
				SecretApplicationID:         strconv.FormatInt(b.inputs.GitHubAppID, 10),
				SecretApplicationPrivateKey: key,
			})
			if err != nil {
				return nil, err
			}
			return &Outputs{Ref: b.repo.String() + "/actions/secrets", Values: map[string]string{"secrets": strings.Join(names, ",")}}, nil
		},
		Verify: func(ctx context.Context, _ *State, _ session.StepRecord) (*Outputs, error) {
			return nil, b.GitHub.RepositorySecretsExist(ctx, b.repo, names)
		},
	}
}

func (b *sdafBuilder) environmentVariables(st *State) map[string]string {
	vars := map[string]string{
		VarClientID:       st.Value(b.identityStep, OutputClientID),
		VarObjectID:       st.Value(b.identityStep, OutputPrincipalID),
		VarSubscriptionID: b.inputs.SubscriptionID,
		VarTenantID:       b.inputs.TenantID,
		VarUseMSI:         strconv.FormatBool(b.inputs.IdentityKind == session.IdentityManagedIdentity),
	}
	if b.inputs.SAPUsername != "" {
		vars[VarSAPUsername] = b.inputs.SAPUsername
	}
	return vars
}

func (b *sdafBuilder) usesClientSecret() bool {
	return b.identityStep == StepCreateServicePrincipal && b.Config.ClientSecret
}

func (b *sdafBuilder) environmentSecretNames() []string {
	names := []string{SecretSAPPassword}
	if b.usesClientSecret() {
		names = append(names, SecretClientSecret)
	}
	return names
}

func (b *sdafBuilder) environmentConfig() Step {
	step := Step{
		ID:        StepSetEnvironmentConfig,
		DependsOn: []string{StepCreateEnvironment, b.identityStep, StepCreateFederatedCredential},
		Run: func(ctx context.Context, st *State) (*Outputs, error) {
			env := b.inputs.EnvironmentName
			vars := b.environmentVariables(st)
			if err := b.GitHub.SetEnvironmentVariables(ctx, b.repo, env, vars); err != nil {
				return nil, err
			}

			password := b.SAPPassword
			if password == "" {
				password = sapPasswordPlaceholder
			}
			secrets := map[string]string{SecretSAPPassword: password}
			if b.usesClientSecret() {
				clientSecret, ok := st.Secret(SecretClientSecret)
				if !ok {
					return nil, failure.InvalidInput("set environment config", "the client secret is not available")
				}
				secrets[SecretClientSecret] = clientSecret
			}
			if err := b.GitHub.SetEnvironmentSecrets(ctx, b.repo, env, secrets); err != nil {
				return nil, err
			}
			return &Outputs{
				Ref: b.repo.String() + "/environments/" + env,
				Values: map[string]string{
					"variables": strings.Join(slices.Sorted(maps.Keys(vars)), ","),
					"secrets":   strings.Join(b.environmentSecretNames(), ","),
				},
			}, nil
		},
		Verify: func(ctx context.Context, st *State, _ session.StepRecord) (*Outputs, error) {
			return nil, b.GitHub.EnvironmentConfigured(ctx, b.repo, b.inputs.EnvironmentName, b.environmentVariables(st), b.environmentSecretNames())
		},
	}
	if b.usesClientSecret() {
		step.Consumes = []string{SecretClientSecret}
	}
	return step
}
