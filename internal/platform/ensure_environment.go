package platform

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v66/github"
)

type Environment struct {
	ID      int64
	Name    string
	Created bool
}

func (e *Environment) Ref() string {
	return fmt.Sprintf("environments/%s", e.Name)
}

// EnsureEnvironment creates the deployment environment unless it exists.
func (p *GitHubPlatform) EnsureEnvironment(ctx context.Context, repo Repository, name string) (*Environment, error) {
	const op = "github: ensure environment"

	existing, err := p.getEnvironment(ctx, repo, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Environment{ID: existing.GetID(), Name: existing.GetName()}, nil
	}

	created, _, err := p.Client.Repositories.CreateUpdateEnvironment(ctx, repo.Owner, repo.Name, name, &github.CreateUpdateEnvironment{})
	if err != nil {
		return nil, classify(op, fmt.Errorf("failed to create environment %s on %s: %w", name, repo, err))
	}
	return &Environment{ID: created.GetID(), Name: created.GetName(), Created: true}, nil
}

// EnvironmentExists reports whether the environment is still present.
func (p *GitHubPlatform) EnvironmentExists(ctx context.Context, repo Repository, name string) (bool, error) {
	env, err := p.getEnvironment(ctx, repo, name)
	if err != nil {
		return false, err
	}
	return env != nil, nil
}

func (p *GitHubPlatform) getEnvironment(ctx context.Context, repo Repository, name string) (*github.Environment, error) {
	env, resp, err := p.Client.Repositories.GetEnvironment(ctx, repo.Owner, repo.Name, name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, classify("github: get environment", fmt.Errorf("failed to get environment %s on %s: %w", name, repo, err))
	}
	return env, nil
}
