package cloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	abstractions "github.com/microsoft/kiota-abstractions-go"
	"github.com/microsoftgraph/msgraph-sdk-go/applications"
	"github.com/microsoftgraph/msgraph-sdk-go/applicationswithuniquename"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/serviceprincipals"

	"github.com/sdaf-automation/sdaf-wizard/internal/failure"
	"github.com/sdaf-automation/sdaf-wizard/internal/utils"
)

const clientSecretDisplayName = "sdaf-wizard"

// ServicePrincipal is an Entra ID application together with its service
// principal. ClientSecret is only set when one was minted in this call and
// must never be persisted.
type ServicePrincipal struct {
	DisplayName  string
	AppObjectID  string
	ClientID     string
	PrincipalID  string
	ClientSecret string
	Created      bool
}

// appUniqueName is the alternate key the application is registered under.
// Creating the application is an upsert on that key.
func appUniqueName(displayName string) string {
	return "sdaf-wizard-" + strings.ToLower(displayName)
}

// EnsureServicePrincipal adopts or creates the application registration named
// displayName and its service principal. With withSecret a new client secret
// is minted and the ones minted before it are removed.
func (c *AzureCloud) EnsureServicePrincipal(ctx context.Context, displayName string, withSecret bool) (*ServicePrincipal, error) {
	const op = "azure: ensure service principal"

	app, err := c.findApplication(ctx, displayName)
	if err != nil {
		return nil, err
	}
	sp := &ServicePrincipal{DisplayName: displayName}
	if app == nil {
		if app, sp.Created, err = c.upsertApplication(ctx, displayName); err != nil {
			return nil, err
		}
	}
	sp.AppObjectID = deref(app.GetId())
	sp.ClientID = deref(app.GetAppId())

	principalID, err := c.ensurePrincipalForApp(ctx, sp.ClientID)
	if err != nil {
		return nil, err
	}
	sp.PrincipalID = principalID

	if withSecret {
		secret, err := c.rotateClientSecret(ctx, app)
		if err != nil {
			return nil, classify(op, fmt.Errorf("failed to rotate client secret of %s, %w", displayName, err))
		}
		sp.ClientSecret = secret
	}
	return sp, nil
}

// findApplication returns the application this tool registered for
// displayName, or one registered by hand when the equivalence policy allows
// adopting it. It returns nil when there is none.
func (c *AzureCloud) findApplication(ctx context.Context, displayName string) (models.Applicationable, error) {
	const op = "azure: ensure service principal"
	uniqueName := appUniqueName(displayName)

	app, err := c.graph.ApplicationsWithUniqueName(&uniqueName).Get(ctx, nil)
	if err == nil {
		return app, nil
	}
	if !isNotFound(err) {
		return nil, classify(op, fmt.Errorf("failed to check if application %s exists, %w", uniqueName, err))
	}

	list, err := c.graph.Applications().Get(ctx, &applications.ApplicationsRequestBuilderGetRequestConfiguration{
		QueryParameters: &applications.ApplicationsRequestBuilderGetQueryParameters{
			Filter: to.Ptr("displayName eq '" + odataQuote(displayName) + "'"),
		},
	})
	if err != nil {
		return nil, classify(op, fmt.Errorf("failed to check if application %s exists, %w", displayName, err))
	}

	existing := list.GetValue()
	for _, app := range existing {
		if strings.EqualFold(deref(app.GetUniqueName()), uniqueName) {
			return app, nil
		}
	}
	switch len(existing) {
	case 0:
		return nil, nil
	case 1:
		if !c.equivalence.Application.AdoptExisting {
			return nil, failure.Conflict(op, "application %s already exists and adopting existing applications is disabled", displayName)
		}
		return existing[0], nil
	default:
		return nil, failure.Conflict(op, "%d applications are named %s, remove the duplicates or choose another name", len(existing), displayName)
	}
}

// upsertApplication creates the application under its unique name. Graph
// answers without a body when the application was already there.
func (c *AzureCloud) upsertApplication(ctx context.Context, displayName string) (models.Applicationable, bool, error) {
	const op = "azure: ensure service principal"
	uniqueName := appUniqueName(displayName)

	body := models.NewApplication()
	body.SetDisplayName(to.Ptr(displayName))
	body.SetSignInAudience(to.Ptr("AzureADMyOrg"))
	headers := abstractions.NewRequestHeaders()
	headers.Add("Prefer", "create-if-missing")

	builder := c.graph.ApplicationsWithUniqueName(&uniqueName)
	app, err := builder.Patch(ctx, body, &applicationswithuniquename.ApplicationsWithUniqueNameRequestBuilderPatchRequestConfiguration{
		Headers: headers,
	})
	if err != nil {
		return nil, false, classify(op, fmt.Errorf("failed to create application %s, %w", displayName, err))
	}
	if app != nil {
		return app, true, nil
	}

	app, err = builder.Get(ctx, nil)
	if err != nil {
		err = fmt.Errorf("failed to get application %s, %w", uniqueName, err)
		if isNotFound(err) {
			return nil, false, failure.Transient(op, failure.ReasonNotYetVisible, err)
		}
		return nil, false, classify(op, err)
	}
	return app, false, nil
}

func (c *AzureCloud) rotateClientSecret(ctx context.Context, app models.Applicationable) (string, error) {
	appItem := c.graph.Applications().ByApplicationId(deref(app.GetId()))

	body := applications.NewItemAddPasswordPostRequestBody()
	cred := models.NewPasswordCredential()
	cred.SetDisplayName(to.Ptr(clientSecretDisplayName))
	body.SetPasswordCredential(cred)
	password, err := appItem.AddPassword().Post(ctx, body, nil)
	if err != nil {
		return "", err
	}

	for _, old := range app.GetPasswordCredentials() {
		keyID := old.GetKeyId()
		if keyID == nil || deref(old.GetDisplayName()) != clientSecretDisplayName {
			continue
		}
		if minted := password.GetKeyId(); minted != nil && *minted == *keyID {
			continue
		}
		remove := applications.NewItemRemovePasswordPostRequestBody()
		remove.SetKeyId(keyID)
		if err := appItem.RemovePassword().Post(ctx, remove, nil); err != nil && !isNotFound(err) {
			return "", err
		}
	}
	return deref(password.GetSecretText()), nil
}

func (c *AzureCloud) ensurePrincipalForApp(ctx context.Context, clientID string) (string, error) {
	const op = "azure: ensure service principal"

	principalID, err := c.findPrincipalForApp(ctx, clientID)
	if err != nil || principalID != "" {
		return principalID, err
	}

	body := models.NewServicePrincipal()
	body.SetAppId(to.Ptr(clientID))
	created, err := c.graph.ServicePrincipals().Post(ctx, body, nil)
	if err != nil {
		return "", classify(op, fmt.Errorf("failed to create service principal for %s, %w", clientID, err))
	}
	return deref(created.GetId()), nil
}

func (c *AzureCloud) findPrincipalForApp(ctx context.Context, clientID string) (string, error) {
	list, err := c.graph.ServicePrincipals().Get(ctx, &serviceprincipals.ServicePrincipalsRequestBuilderGetRequestConfiguration{
		QueryParameters: &serviceprincipals.ServicePrincipalsRequestBuilderGetQueryParameters{
			Filter: to.Ptr("appId eq '" + odataQuote(clientID) + "'"),
		},
	})
	if err != nil {
		return "", classify("azure: get service principal", fmt.Errorf("failed to check if service principal for %s exists, %w", clientID, err))
	}
	if values := list.GetValue(); len(values) > 0 {
		return deref(values[0].GetId()), nil
	}
	return "", nil
}

// GetServicePrincipal looks the application up by object ID. A deleted
// application or principal is reported as not found.
func (c *AzureCloud) GetServicePrincipal(ctx context.Context, appObjectID string) (*ServicePrincipal, error) {
	const op = "azure: get service principal"

	app, err := c.graph.Applications().ByApplicationId(appObjectID).Get(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, failure.NotFound(op, "application %s no longer exists", appObjectID)
		}
		return nil, classify(op, fmt.Errorf("failed to get application %s, %w", appObjectID, err))
	}

	sp := &ServicePrincipal{
		DisplayName: deref(app.GetDisplayName()),
		AppObjectID: deref(app.GetId()),
		ClientID:    deref(app.GetAppId()),
	}
	principalID, err := c.findPrincipalForApp(ctx, sp.ClientID)
	if err != nil {
		return nil, err
	}
	if principalID == "" {
		return nil, failure.NotFound(op, "service principal for application %s no longer exists", sp.ClientID)
	}
	sp.PrincipalID = principalID
	return sp, nil
}

func odataQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func deref(s *string) string {
	return utils.DeRefOr(s, "")
}
