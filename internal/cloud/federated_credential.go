package cloud

import (
	"context"
	"fmt"
	"slices"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/msi/armmsi"
	"github.com/microsoftgraph/msgraph-sdk-go/models"

	"github.com/sdaf-automation/sdaf-wizard/internal/config"
	"github.com/sdaf-automation/sdaf-wizard/internal/failure"
)

const (
	GitHubIssuer          = "https://token.actions.githubusercontent.com"
	TokenExchangeAudience = "api://AzureADTokenExchange"
)

type FederatedCredential struct {
	ID          string
	Name        string
	Issuer      string
	Subject     string
	Audiences   []string
	Description string
}

// GitHubFederatedCredential is the trust GitHub Actions jobs running in the
// given environment use to sign in to Azure.
func GitHubFederatedCredential(repository, environment string) FederatedCredential {
	return FederatedCredential{
		Name:        "GitHubActions-" + environment,
		Issuer:      GitHubIssuer,
		Subject:     fmt.Sprintf("repo:%s:environment:%s", repository, environment),
		Audiences:   []string{TokenExchangeAudience},
		Description: environment + "-deploy",
	}
}

// matchFederatedCredential picks the existing credential that stands for
// desired. A credential with the desired name but other settings is a
// conflict; nil means nothing matched and a new one may be created.
func matchFederatedCredential(existing []FederatedCredential, desired FederatedCredential, policy config.FederatedCredentialEquivalence) (*FederatedCredential, error) {
	const op = "azure: ensure federated credential"

	for i := range existing {
		cred := existing[i]
		if cred.Name != desired.Name {
			continue
		}
		if policy.CompareIssuer && cred.Issuer != desired.Issuer {
			return nil, failure.Conflict(op, "federated credential %s has issuer %s, expected %s", cred.Name, cred.Issuer, desired.Issuer)
		}
		if policy.CompareSubject && cred.Subject != desired.Subject {
			return nil, failure.Conflict(op, "federated credential %s has subject %s, expected %s", cred.Name, cred.Subject, desired.Subject)
		}
		if policy.CompareAudiences && !sameAudiences(cred.Audiences, desired.Audiences) {
			return nil, failure.Conflict(op, "federated credential %s has audiences %v, expected %v", cred.Name, cred.Audiences, desired.Audiences)
		}
		return &cred, nil
	}

	if policy.AdoptMatchingSubject {
		for i := range existing {
			cred := existing[i]
			if cred.Issuer == desired.Issuer && cred.Subject == desired.Subject {
				return &cred, nil
			}
		}
	}
	return nil, nil
}

func sameAudiences(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// EnsureApplicationFederatedCredential adds the trust to an application
// registration unless an equivalent credential exists.
func (c *AzureCloud) EnsureApplicationFederatedCredential(ctx context.Context, appObjectID string, desired FederatedCredential) (*FederatedCredential, error) {
	const op = "azure: ensure federated credential"

	existing, err := c.listApplicationFederatedCredentials(ctx, appObjectID)
	if err != nil {
		return nil, err
	}
	match, err := matchFederatedCredential(existing, desired, c.equivalence.FederatedCredential)
	if err != nil || match != nil {
		return match, err
	}

	body := models.NewFederatedIdentityCredential()
	body.SetName(to.Ptr(desired.Name))
	body.SetIssuer(to.Ptr(desired.Issuer))
	body.SetSubject(to.Ptr(desired.Subject))
	body.SetAudiences(desired.Audiences)
	body.SetDescription(to.Ptr(desired.Description))
	created, err := c.graph.Applications().ByApplicationId(appObjectID).FederatedIdentityCredentials().Post(ctx, body, nil)
	if err != nil {
		return nil, classify(op, fmt.Errorf("failed to create federated credential %s, %w", desired.Name, err))
	}
	cred := desired
	cred.ID = deref(created.GetId())
	return &cred, nil
}

// FindApplicationFederatedCredential returns the credential equivalent to
// desired, or a not-found error.
func (c *AzureCloud) FindApplicationFederatedCredential(ctx context.Context, appObjectID string, desired FederatedCredential) (*FederatedCredential, error) {
	existing, err := c.listApplicationFederatedCredentials(ctx, appObjectID)
	if err != nil {
		return nil, err
	}
	return findOrNotFound(existing, desired, c.equivalence.FederatedCredential)
}

func (c *AzureCloud) listApplicationFederatedCredentials(ctx context.Context, appObjectID string) ([]FederatedCredential, error) {
	const op = "azure: list federated credentials"

	resp, err := c.graph.Applications().ByApplicationId(appObjectID).FederatedIdentityCredentials().Get(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, failure.NotFound(op, "application %s no longer exists", appObjectID)
		}
		return nil, classify(op, fmt.Errorf("failed to list federated credentials of %s, %w", appObjectID, err))
	}
	var list []FederatedCredential
	for _, v := range resp.GetValue() {
		list = append(list, FederatedCredential{
			ID:          deref(v.GetId()),
			Name:        deref(v.GetName()),
			Issuer:      deref(v.GetIssuer()),
			Subject:     deref(v.GetSubject()),
			Audiences:   v.GetAudiences(),
			Description: deref(v.GetDescription()),
		})
	}
	return list, nil
}

// EnsureIdentityFederatedCredential adds the trust to a user-assigned managed
// identity unless an equivalent credential exists.
func (c *AzureCloud) EnsureIdentityFederatedCredential(ctx context.Context, resourceGroup, identityName string, desired FederatedCredential) (*FederatedCredential, error) {
	const op = "azure: ensure federated credential"

	fedClient, err := armmsi.NewFederatedIdentityCredentialsClient(c.subscriptionID, c.credential, c.armOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create Federated Credentials client, %w", err)
	}
	existing, err := c.listIdentityFederatedCredentials(ctx, fedClient, resourceGroup, identityName)
	if err != nil {
		return nil, err
	}
	match, err := matchFederatedCredential(existing, desired, c.equivalence.FederatedCredential)
	if err != nil || match != nil {
		return match, err
	}

	audiences := make([]*string, 0, len(desired.Audiences))
	for _, a := range desired.Audiences {
		audiences = append(audiences, to.Ptr(a))
	}
	resp, err := fedClient.CreateOrUpdate(ctx, resourceGroup, identityName, desired.Name, armmsi.FederatedIdentityCredential{
		Properties: &armmsi.FederatedIdentityCredentialProperties{
			Audiences: audiences,
			Issuer:    to.Ptr(desired.Issuer),
			Subject:   to.Ptr(desired.Subject),
		},
	}, nil)
	if err != nil {
		return nil, classify(op, fmt.Errorf("failed to create Federated Credentials %s, %w", desired.Name, err))
	}
	cred := desired
	cred.ID = deref(resp.ID)
	return &cred, nil
}

func (c *AzureCloud) FindIdentityFederatedCredential(ctx context.Context, resourceGroup, identityName string, desired FederatedCredential) (*FederatedCredential, error) {
	fedClient, err := armmsi.NewFederatedIdentityCredentialsClient(c.subscriptionID, c.credential, c.armOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create Federated Credentials client, %w", err)
	}
	existing, err := c.listIdentityFederatedCredentials(ctx, fedClient, resourceGroup, identityName)
	if err != nil {
		return nil, err
	}
	return findOrNotFound(existing, desired, c.equivalence.FederatedCredential)
}

func (c *AzureCloud) listIdentityFederatedCredentials(ctx context.Context, fedClient *armmsi.FederatedIdentityCredentialsClient, resourceGroup, identityName string) ([]FederatedCredential, error) {
	const op = "azure: list federated credentials"

	var list []FederatedCredential
	pager := fedClient.NewListPager(resourceGroup, identityName, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if isNotFound(err) {
				return nil, failure.NotFound(op, "managed identity %s no longer exists", identityName)
			}
			return nil, classify(op, fmt.Errorf("failed to list federated credentials of %s, %w", identityName, err))
		}
		for _, v := range page.Value {
			cred := FederatedCredential{ID: deref(v.ID), Name: deref(v.Name)}
			if v.Properties != nil {
				cred.Issuer = deref(v.Properties.Issuer)
				cred.Subject = deref(v.Properties.Subject)
				for _, a := range v.Properties.Audiences {
					cred.Audiences = append(cred.Audiences, deref(a))
				}
			}
			list = append(list, cred)
		}
	}
	return list, nil
}

func findOrNotFound(existing []FederatedCredential, desired FederatedCredential, policy config.FederatedCredentialEquivalence) (*FederatedCredential, error) {
	match, err := matchFederatedCredential(existing, desired, policy)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, failure.NotFound("azure: find federated credential", "federated credential %s no longer exists", desired.Name)
	}
	return match, nil
}
