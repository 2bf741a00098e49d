package platform

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sdaf-automation/sdaf-wizard/internal/failure"
	"github.com/sdaf-automation/sdaf-wizard/internal/keys"
)

type App struct {
	ID             int64
	Slug           string
	InstallationID int64
}

func (a *App) Ref() string {
	return fmt.Sprintf("apps/%d/installations/%d", a.ID, a.InstallationID)
}

// EnsureApp checks that the registered GitHub App matches appID, that the
// private key belongs to it and that it is installed on the repository.
func (p *GitHubPlatform) EnsureApp(ctx context.Context, repo Repository, appID int64, privateKey []byte) (*App, error) {
	const op = "github: ensure app"

	key, err := keys.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, failure.InvalidInput(op, "%v", err)
	}
	token, err := keys.AppToken(appID, key, p.now())
	if err != nil {
		return nil, failure.InvalidInput(op, "%v", err)
	}
	client, err := p.appClient(token)
	if err != nil {
		return nil, failure.InvalidInput(op, "%v", err)
	}

	app, _, err := client.Apps.Get(ctx, "")
	if err != nil {
		return nil, classify(op, fmt.Errorf("failed to get app %d: %w", appID, err))
	}
	if app.GetID() != appID {
		return nil, failure.Conflict(op, "private key belongs to app %d, expected %d", app.GetID(), appID)
	}

	installation, resp, err := client.Apps.FindRepositoryInstallation(ctx, repo.Owner, repo.Name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, failure.NotFound(op, "app %s is not installed on %s, install it from %s/settings/installations", app.GetSlug(), repo, p.ServerURL)
		}
		return nil, classify(op, fmt.Errorf("failed to find installation on %s: %w", repo, err))
	}

	return &App{
		ID:             app.GetID(),
		Slug:           app.GetSlug(),
		InstallationID: installation.GetID(),
	}, nil
}
