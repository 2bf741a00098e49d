package cmd

import (
	"context"
	"fmt"

	"github.com/sdaf-automation/sdaf-wizard/internal/cloud"
	"github.com/sdaf-automation/sdaf-wizard/internal/config"
	"github.com/sdaf-automation/sdaf-wizard/internal/message"
	"github.com/sdaf-automation/sdaf-wizard/internal/platform"
	"github.com/sdaf-automation/sdaf-wizard/internal/session"
)

func loadConfig() (config.Config, error) {
	p := configPath
	if p == "" {
		var err error
		p, err = config.Path()
		if err != nil {
			return config.Config{}, err
		}
	}
	message.Debug("Reading config from %s", p)
	return config.Load(p)
}

func initializeGitHubPlatform(ctx context.Context) (*platform.GitHubPlatform, error) {
	ghConfig := cfg.GitHub
	if ghConfig.Token == "" {
		token, err := message.Password("Enter a GitHub token with admin rights on the repository")
		if err != nil {
			return nil, err
		}
		ghConfig.Token = token
	} else {
		message.Debug("Using GitHub token from config file or GITHUB_TOKEN")
	}
	return platform.NewGitHubPlatform(ctx, ghConfig)
}

func initializeAzureCloud(ctx context.Context, subscriptionID string) (*cloud.AzureCloud, error) {
	azureCloud, err := cloud.NewAzureCloud(subscriptionID, cfg.Equivalence)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize azure: %w", err)
	}
	user, err := azureCloud.CallingUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to identify the signed in azure user: %w", err)
	}
	message.Debug("Signed in to Azure as %s (%s)", user.Name, user.ObjectID)
	return azureCloud, nil
}

func openStore() (*session.Store, error) {
	store, err := session.DefaultStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, nil
}
