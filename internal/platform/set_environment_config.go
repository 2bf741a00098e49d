package platform

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v66/github"

	"github.com/sdaf-automation/sdaf-wizard/internal/failure"
	"github.com/sdaf-automation/sdaf-wizard/internal/keys"
)

// SetEnvironmentSecrets writes Actions secrets scoped to a deployment
// environment.
func (p *GitHubPlatform) SetEnvironmentSecrets(ctx context.Context, repo Repository, env string, secrets map[string]string) error {
	const op = "github: set environment secrets"

	repoID, err := p.repositoryID(ctx, repo)
	if err != nil {
		return err
	}
	publicKey, _, err := p.Client.Actions.GetEnvPublicKey(ctx, int(repoID), env)
	if err != nil {
		return classify(op, fmt.Errorf("failed to get public key of environment %s: %w", env, err))
	}

	for _, name := range sortedKeys(secrets) {
		sealed, err := keys.Seal(publicKey.GetKey(), []byte(secrets[name]))
		if err != nil {
			return failure.InvalidInput(op, "secret %s: %v", name, err)
		}
		_, err = p.Client.Actions.CreateOrUpdateEnvSecret(ctx, int(repoID), env, &github.EncryptedSecret{
			Name:           name,
			KeyID:          publicKey.GetKeyID(),
			EncryptedValue: sealed,
		})
		if err != nil {
			return classify(op, fmt.Errorf("failed to set secret %s on environment %s: %w", name, env, err))
		}
	}
	return nil
}

// SetEnvironmentVariables creates missing variables and updates the ones
// whose value differs. Matching variables are left alone.
func (p *GitHubPlatform) SetEnvironmentVariables(ctx context.Context, repo Repository, env string, vars map[string]string) error {
	const op = "github: set environment variables"

	for _, name := range sortedKeys(vars) {
		variable := &github.ActionsVariable{Name: name, Value: vars[name]}

		existing, resp, err := p.Client.Actions.GetEnvVariable(ctx, repo.Owner, repo.Name, env, name)
		switch {
		case err != nil && resp != nil && resp.StatusCode == http.StatusNotFound:
			if _, err := p.Client.Actions.CreateEnvVariable(ctx, repo.Owner, repo.Name, env, variable); err != nil {
				return classify(op, fmt.Errorf("failed to create variable %s on environment %s: %w", name, env, err))
			}
		case err != nil:
			return classify(op, fmt.Errorf("failed to get variable %s on environment %s: %w", name, env, err))
		case existing.Value != vars[name]:
			if _, err := p.Client.Actions.UpdateEnvVariable(ctx, repo.Owner, repo.Name, env, variable); err != nil {
				return classify(op, fmt.Errorf("failed to update variable %s on environment %s: %w", name, env, err))
			}
		}
	}
	return nil
}

// EnvironmentConfigured verifies that every variable holds the expected value
// and every named secret exists.
func (p *GitHubPlatform) EnvironmentConfigured(ctx context.Context, repo Repository, env string, vars map[string]string, secretNames []string) error {
	const op = "github: check environment config"

	for _, name := range sortedKeys(vars) {
		existing, resp, err := p.Client.Actions.GetEnvVariable(ctx, repo.Owner, repo.Name, env, name)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return failure.NotFound(op, "variable %s is missing on environment %s", name, env)
			}
			return classify(op, fmt.Errorf("failed to get variable %s on environment %s: %w", name, env, err))
		}
		if existing.Value != vars[name] {
			return failure.NotFound(op, "variable %s on environment %s holds a different value", name, env)
		}
	}

	if len(secretNames) == 0 {
		return nil
	}
	repoID, err := p.repositoryID(ctx, repo)
	if err != nil {
		return err
	}
	for _, name := range secretNames {
		_, resp, err := p.Client.Actions.GetEnvSecret(ctx, int(repoID), env, name)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return failure.NotFound(op, "secret %s is missing on environment %s", name, env)
			}
			return classify(op, fmt.Errorf("failed to get secret %s on environment %s: %w", name, env, err))
		}
	}
	return nil
}

func (p *GitHubPlatform) repositoryID(ctx context.Context, repo Repository) (int64, error) {
	r, _, err := p.Client.Repositories.Get(ctx, repo.Owner, repo.Name)
	if err != nil {
		return 0, classify("github: get repository", fmt.Errorf("failed to get repository %s: %w", repo, err))
	}
	return r.GetID(), nil
}
