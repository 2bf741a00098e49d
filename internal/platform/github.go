package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/sdaf-automation/sdaf-wizard/internal/config"
)

// GitHubPlatform performs the GitHub side of provisioning. Each method is a
// single idempotent operation; retries are left to the caller.
type GitHubPlatform struct {
	Client    *github.Client
	ServerURL string

	apiURL string
	now    func() time.Time
}

type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

func ParseRepository(fullName string) (Repository, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repository{}, fmt.Errorf("repository %q is not in owner/name form", fullName)
	}
	return Repository{Owner: owner, Name: name}, nil
}

func NewGitHubPlatform(ctx context.Context, cfg config.GitHub) (*GitHubPlatform, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("a GitHub token is required")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	p := &GitHubPlatform{
		ServerURL: cfg.ServerURL,
		apiURL:    cfg.APIURL,
		now:       time.Now,
	}
	client, err := p.newClient(oauth2.NewClient(ctx, ts))
	if err != nil {
		return nil, err
	}
	p.Client = client
	return p, nil
}

func (p *GitHubPlatform) newClient(httpClient *http.Client) (*github.Client, error) {
	client := github.NewClient(httpClient)
	if p.apiURL == "" {
		return client, nil
	}
	client, err := client.WithEnterpriseURLs(p.apiURL, p.apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to configure GitHub Enterprise URL %s: %w", p.apiURL, err)
	}
	return client, nil
}

// appClient returns a client authenticated as the GitHub App itself.
func (p *GitHubPlatform) appClient(token string) (*github.Client, error) {
	client, err := p.newClient(nil)
	if err != nil {
		return nil, err
	}
	client = client.WithAuthToken(token)
	client.BaseURL = p.Client.BaseURL
	client.UploadURL = p.Client.UploadURL
	return client, nil
}

// NewAppURL is the page where an operator registers the GitHub App with the
// permissions the SDAF workflows need.
func NewAppURL(serverURL string, repo Repository) string {
	q := url.Values{}
	q.Set("name", repo.Owner+"-sap-on-azure")
	q.Set("description", "Used to create environments, update and create secrets and variables for your SAP on Azure Setup.")
	q.Set("callback_urls[]", serverURL)
	q.Set("setup_url", serverURL)
	q.Set("public", "false")
	q.Set("actions", "write")
	q.Set("contents", "write")
	q.Set("environments", "write")
	q.Set("issues", "write")
	q.Set("secrets", "write")
	q.Set("actions_variables", "write")
	q.Set("workflows", "write")
	q.Set("webhook_active", "false")
	q.Set("url", serverURL+"/"+repo.String())
	return strings.TrimSuffix(serverURL, "/") + "/settings/apps/new?" + q.Encode()
}
