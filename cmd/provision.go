package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sdaf-automation/sdaf-wizard/internal/cloud"
	"github.com/sdaf-automation/sdaf-wizard/internal/eventlog"
	"github.com/sdaf-automation/sdaf-wizard/internal/message"
	"github.com/sdaf-automation/sdaf-wizard/internal/orchestrator"
	"github.com/sdaf-automation/sdaf-wizard/internal/platform"
	"github.com/sdaf-automation/sdaf-wizard/internal/session"
	"github.com/sdaf-automation/sdaf-wizard/internal/utils"
)

var provisionFlags struct {
	sessionID     string
	repository    string
	subscription  string
	tenant        string
	environment   string
	identityKind  string
	identityName  string
	resourceGroup string
	location      string
	appID         int64
	appKeyPath    string
	sapUsername   string
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision the GitHub and Azure resources SDAF deployments need",
	Long: `It creates or adopts the GitHub environment, the Azure identity, its role assignments and the
federated credential, then publishes the secrets and variables the SDAF workflows read.
Running it again for the same session resumes where the last run stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		store, err := openStore()
		if err != nil {
			return err
		}

		inputs, sessionID, err := collectInputs(ctx, cmd, store)
		if err != nil {
			return fmt.Errorf("failed to collect inputs: %w", err)
		}
		if err := orchestrator.ValidateInputs(inputs); err != nil {
			return err
		}

		githubPlatform, err := initializeGitHubPlatform(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize github: %w", err)
		}
		azureCloud, err := initializeAzureCloud(ctx, inputs.SubscriptionID)
		if err != nil {
			return err
		}

		sapPassword, err := sapPassword()
		if err != nil {
			return err
		}

		auditLog, err := eventlog.Open(store.LogPath(sessionID))
		if err != nil {
			return err
		}
		defer func() {
			if err := auditLog.Close(); err != nil {
				message.Debug("failed to close audit log: %v", err)
			}
		}()

		plan := &orchestrator.SDAF{
			GitHub:      githubPlatform,
			Azure:       azureCloud,
			Config:      cfg.Azure,
			SAPPassword: sapPassword,
		}
		o := orchestrator.New(store, plan.Plan, orchestrator.Options{
			Retry: cfg.Retry,
			Sink:  orchestrator.Sinks{consoleSink{}, auditLog},
		})

		message.Title("Provisioning %s for environment %s (session %s)", inputs.Repository, inputs.EnvironmentName, sessionID)
		result, err := o.Run(ctx, sessionID, inputs)
		if err != nil {
			return err
		}
		return reportResult(result, store.LogPath(sessionID))
	},
}

func init() {
	addProvisionFlags(provisionCmd.Flags())
	rootCmd.AddCommand(provisionCmd)
}

func addProvisionFlags(f *pflag.FlagSet) {
	f.StringVar(&provisionFlags.sessionID, "session", "", "session id (default <owner>-<repository>-<environment>)")
	f.StringVar(&provisionFlags.repository, "repository", "", "GitHub repository in owner/name form")
	f.StringVar(&provisionFlags.subscription, "subscription", "", "Azure subscription id")
	f.StringVar(&provisionFlags.tenant, "tenant", "", "Azure tenant id (default: the subscription's tenant)")
	f.StringVar(&provisionFlags.environment, "environment", "", "GitHub environment name")
	f.StringVar(&provisionFlags.identityKind, "identity-kind", "", "service-principal or managed-identity")
	f.StringVar(&provisionFlags.identityName, "identity-name", "", "name of the application registration or managed identity")
	f.StringVar(&provisionFlags.resourceGroup, "resource-group", "", "resource group of the managed identity")
	f.StringVar(&provisionFlags.location, "location", "", "location of the managed identity")
	f.Int64Var(&provisionFlags.appID, "app-id", 0, "GitHub App id")
	f.StringVar(&provisionFlags.appKeyPath, "app-key", "", "path to the GitHub App private key (PEM)")
	f.StringVar(&provisionFlags.sapUsername, "sap-username", "", "SAP S-user published as S_USERNAME")
}

// collectInputs starts from the inputs of an existing session, applies the
// flags that were set and asks for whatever is still missing. Without
// --session the session is found by its default id once the repository and
// environment are known.
func collectInputs(ctx context.Context, cmd *cobra.Command, store *session.Store) (session.Inputs, string, error) {
	var inputs session.Inputs
	sessionID := provisionFlags.sessionID
	if sessionID != "" {
		previous, ok, err := previousInputs(store, sessionID)
		if err != nil {
			return inputs, "", err
		}
		if ok {
			inputs = previous
		}
	}
	applyFlags(cmd.Flags(), &inputs)

	var err error
	if inputs.Repository == "" {
		if inputs.Repository, err = message.Prompt("Please enter the GitHub repository (owner/name)", "", checkName(utils.IsValidRepository)); err != nil {
			return inputs, "", err
		}
	}
	if !utils.IsValidRepository(inputs.Repository) {
		return inputs, "", fmt.Errorf("invalid repository %q", inputs.Repository)
	}
	if inputs.EnvironmentName == "" {
		if inputs.EnvironmentName, err = message.Prompt("Please enter the name of the GitHub environment", "MGMT", checkName(utils.IsValidEnvironmentName)); err != nil {
			return inputs, "", err
		}
	}

	if sessionID == "" {
		sessionID = defaultSessionID(inputs.Repository, inputs.EnvironmentName)
		message.Info("Using session id: %s", sessionID)
		previous, ok, err := previousInputs(store, sessionID)
		if err != nil {
			return inputs, "", err
		}
		if ok {
			repository, environment := inputs.Repository, inputs.EnvironmentName
			inputs = previous
			applyFlags(cmd.Flags(), &inputs)
			inputs.Repository, inputs.EnvironmentName = repository, environment
		}
	}

	if err := selectSubscription(ctx, &inputs); err != nil {
		return inputs, "", err
	}
	if err := selectIdentity(&inputs); err != nil {
		return inputs, "", err
	}
	if err := selectGitHubApp(&inputs); err != nil {
		return inputs, "", err
	}
	return inputs, sessionID, nil
}

func defaultSessionID(repository, environment string) string {
	return strings.ReplaceAll(repository, "/", "-") + "-" + environment
}

func previousInputs(store *session.Store, sessionID string) (session.Inputs, bool, error) {
	sess, err := store.Load(sessionID)
	switch {
	case err == nil:
		message.Info("Using inputs from previous session: %s", sessionID)
		return sess.Inputs, true, nil
	case errors.Is(err, session.ErrNotFound):
		return session.Inputs{}, false, nil
	}
	return session.Inputs{}, false, err
}

// applyFlags overrides inputs with the flags given on the command line.
func applyFlags(flags *pflag.FlagSet, inputs *session.Inputs) {
	setString := func(name string, target *string, value string) {
		if flags.Changed(name) {
			*target = value
		}
	}
	setString("repository", &inputs.Repository, provisionFlags.repository)
	setString("subscription", &inputs.SubscriptionID, provisionFlags.subscription)
	setString("tenant", &inputs.TenantID, provisionFlags.tenant)
	setString("environment", &inputs.EnvironmentName, provisionFlags.environment)
	setString("identity-kind", &inputs.IdentityKind, provisionFlags.identityKind)
	setString("identity-name", &inputs.IdentityName, provisionFlags.identityName)
	setString("resource-group", &inputs.ResourceGroup, provisionFlags.resourceGroup)
	setString("location", &inputs.Location, provisionFlags.location)
	setString("app-key", &inputs.GitHubAppKeyPath, provisionFlags.appKeyPath)
	setString("sap-username", &inputs.SAPUsername, provisionFlags.sapUsername)
	if flags.Changed("app-id") {
		inputs.GitHubAppID = provisionFlags.appID
	}
}

func selectSubscription(ctx context.Context, inputs *session.Inputs) error {
	if inputs.SubscriptionID != "" && inputs.TenantID != "" {
		return nil
	}

	azureCloud, err := initializeAzureCloud(ctx, inputs.SubscriptionID)
	if err != nil {
		return err
	}

	if inputs.SubscriptionID == "" {
		subscriptions, err := azureCloud.ListSubscriptions(ctx)
		if err != nil {
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}
		if len(subscriptions) == 0 {
			return errors.New("no subscriptions found")
		}
		var selected cloud.Subscription
		if len(subscriptions) == 1 {
			answer, err := message.BoolSelect(fmt.Sprintf("Only one subscription found: %s (%s). Do you want to use it", subscriptions[0].Name, subscriptions[0].ID))
			if err != nil {
				return fmt.Errorf("failed to select subscription: %w", err)
			}
			if !answer {
				return errors.New("no subscription selected")
			}
			selected = subscriptions[0]
		} else {
			options := make([]string, len(subscriptions))
			byOption := make(map[string]cloud.Subscription, len(subscriptions))
			for i, sub := range subscriptions {
				options[i] = fmt.Sprintf("%s (%s)", sub.Name, sub.ID)
				byOption[options[i]] = sub
			}
			answer, err := message.Select("Select subscription", options)
			if err != nil {
				return fmt.Errorf("failed to select subscription: %w", err)
			}
			selected = byOption[answer]
		}
		inputs.SubscriptionID = selected.ID
		if inputs.TenantID == "" {
			inputs.TenantID = selected.TenantID
		}
	}

	if inputs.TenantID == "" {
		if azureCloud.SubscriptionID() != inputs.SubscriptionID {
			if azureCloud, err = initializeAzureCloud(ctx, inputs.SubscriptionID); err != nil {
				return err
			}
		}
		sub, err := azureCloud.GetSubscription(ctx)
		if err != nil {
			return fmt.Errorf("failed to get subscription: %w", err)
		}
		inputs.TenantID = sub.TenantID
		message.Debug("Using tenant %s of subscription %s", sub.TenantID, sub.Name)
	}
	return nil
}

func selectIdentity(inputs *session.Inputs) error {
	var err error
	if inputs.IdentityKind == "" {
		message.DocumentationReference(
			"The workflows sign in to Azure with OpenID Connect, either as an application registration (service principal) or as a user-assigned managed identity.",
			"https://learn.microsoft.com/azure/developer/github/connect-from-azure-openid-connect",
		)
		if inputs.IdentityKind, err = message.Select("Select the Azure identity the workflows use", []string{session.IdentityServicePrincipal, session.IdentityManagedIdentity}); err != nil {
			return err
		}
	}
	if inputs.IdentityName == "" {
		defaultName := strings.ReplaceAll(inputs.Repository, "/", "-") + "-" + inputs.EnvironmentName
		if inputs.IdentityName, err = message.Prompt("Please enter the name of the Azure identity", defaultName, checkName(utils.IsValidAzureName)); err != nil {
			return err
		}
	}
	if inputs.IdentityKind != session.IdentityManagedIdentity {
		return nil
	}
	if inputs.ResourceGroup == "" {
		if inputs.ResourceGroup, err = message.Prompt("Please enter the resource group of the managed identity", inputs.EnvironmentName+"-INFRASTRUCTURE", checkName(utils.IsValidAzureName)); err != nil {
			return err
		}
	}
	if inputs.Location == "" {
		if inputs.Location, err = message.Prompt("Please enter the Azure location of the managed identity", "westeurope"); err != nil {
			return err
		}
	}
	return nil
}

func selectGitHubApp(inputs *session.Inputs) error {
	if inputs.GitHubAppID == 0 {
		repo, err := platform.ParseRepository(inputs.Repository)
		if err != nil {
			return err
		}
		message.DocumentationReference(
			"The workflows use a GitHub App to create environments, secrets and variables. Create it with the link below, install it on the repository and generate a private key.",
			platform.NewAppURL(cfg.GitHub.ServerURL, repo),
		)
		answer, err := message.Prompt("Please enter the GitHub App id", "", checkAppID)
		if err != nil {
			return err
		}
		if inputs.GitHubAppID, err = strconv.ParseInt(answer, 10, 64); err != nil {
			return fmt.Errorf("invalid GitHub App id %q", answer)
		}
	}
	if inputs.GitHubAppKeyPath == "" {
		var err error
		if inputs.GitHubAppKeyPath, err = message.Prompt("Please enter the path to the GitHub App private key", "", checkReadable); err != nil {
			return err
		}
	}
	return nil
}

func checkName(valid func(string) bool) message.Check {
	return func(answer string) error {
		if !valid(answer) {
			return fmt.Errorf("%q is not a valid name", answer)
		}
		return nil
	}
}

func checkAppID(answer string) error {
	if id, err := strconv.ParseInt(answer, 10, 64); err != nil || id <= 0 {
		return fmt.Errorf("%q is not a GitHub App id", answer)
	}
	return nil
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// sapPassword is never stored in the session, so it is asked for on every run.
func sapPassword() (string, error) {
	if password := os.Getenv("S_PASSWORD"); password != "" {
		message.Debug("Using SAP password from S_PASSWORD")
		return password, nil
	}
	password, err := message.Password("Enter the SAP S-user password (leave empty to publish a placeholder)")
	if err != nil {
		return "", err
	}
	if password == "" {
		message.Warning("S_PASSWORD will hold a placeholder, update it in the GitHub environment before deploying")
	}
	return password, nil
}

func reportResult(result *orchestrator.Result, logPath string) error {
	message.Debug("Step events were written to %s", logPath)
	if result.Interrupted {
		message.Warning("Interrupted, run the same command again to resume session %s", result.SessionID)
		return errors.New("provisioning interrupted")
	}
	switch result.Verdict {
	case orchestrator.VerdictCompleted:
		message.Success("Repository and subscription are ready for SDAF deployments!")
		return nil
	case orchestrator.VerdictPartiallyCompleted:
		message.Warning("Some steps did not complete, fix the errors above and run the same command again to resume session %s", result.SessionID)
	}
	return fmt.Errorf("provisioning %s", result.Verdict)
}
