package platform

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/google/go-github/v66/github"

	"github.com/sdaf-automation/sdaf-wizard/internal/failure"
	"github.com/sdaf-automation/sdaf-wizard/internal/keys"
)

// SetRepositorySecrets writes Actions secrets at repository level. Values are
// sealed with the repository public key and never leave this function in
// plaintext.
func (p *GitHubPlatform) SetRepositorySecrets(ctx context.Context, repo Repository, secrets map[string]string) error {
	const op = "github: set repository secrets"

	publicKey, _, err := p.Client.Actions.GetRepoPublicKey(ctx, repo.Owner, repo.Name)
	if err != nil {
		return classify(op, fmt.Errorf("failed to get public key of %s: %w", repo, err))
	}

	for _, name := range sortedKeys(secrets) {
		sealed, err := keys.Seal(publicKey.GetKey(), []byte(secrets[name]))
		if err != nil {
			return failure.InvalidInput(op, "secret %s: %v", name, err)
		}
		_, err = p.Client.Actions.CreateOrUpdateRepoSecret(ctx, repo.Owner, repo.Name, &github.EncryptedSecret{
			Name:           name,
			KeyID:          publicKey.GetKeyID(),
			EncryptedValue: sealed,
		})
		if err != nil {
			return classify(op, fmt.Errorf("failed to set secret %s on %s: %w", name, repo, err))
		}
	}
	return nil
}

// RepositorySecretsExist returns a not-found error naming the first missing
// secret.
func (p *GitHubPlatform) RepositorySecretsExist(ctx context.Context, repo Repository, names []string) error {
	const op = "github: check repository secrets"

	for _, name := range names {
		_, resp, err := p.Client.Actions.GetRepoSecret(ctx, repo.Owner, repo.Name, name)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return failure.NotFound(op, "secret %s is missing on %s", name, repo)
			}
			return classify(op, fmt.Errorf("failed to get secret %s on %s: %w", name, repo, err))
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
