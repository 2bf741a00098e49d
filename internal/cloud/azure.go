package cloud

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/golang-jwt/jwt/v5"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"

	"github.com/sdaf-automation/sdaf-wizard/internal/config"
)

const graphScope = "https://graph.microsoft.com/.default"

var (
	azureIdRegex = regexp.MustCompile(`(?i)/subscriptions/[-_a-zA-Z0-9]+/resourcegroups/([-_.()a-zA-Z0-9]+)/providers/Microsoft.[a-zA-Z]+/[a-zA-Z]+/([-_a-zA-Z0-9]+)`)
)

func getAzureResourceGroupAndName(id string) (string, string, error) {
	match := azureIdRegex.FindStringSubmatch(id)
	if len(match) < 3 {
		return "", "", fmt.Errorf("can't retrieve name and resource group from Azure ID: %s", id)
	}
	return match[1], match[2], nil
}

// AzureCloud performs the Azure side of provisioning against one subscription.
// Each method is a single idempotent operation; retries are left to the caller.
type AzureCloud struct {
	credential     azcore.TokenCredential
	graph          *msgraphsdk.GraphServiceClient
	subscriptionID string
	equivalence    config.Equivalence
	armOptions     *arm.ClientOptions
}

func NewAzureCloud(subscriptionID string, equivalence config.Equivalence) (*AzureCloud, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load azure default credentials, %w", err)
	}
	return newAzureCloud(cred, subscriptionID, equivalence)
}

func newAzureCloud(cred azcore.TokenCredential, subscriptionID string, equivalence config.Equivalence) (*AzureCloud, error) {
	graph, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{graphScope})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client, %w", err)
	}
	return &AzureCloud{
		credential:     cred,
		graph:          graph,
		subscriptionID: subscriptionID,
		equivalence:    equivalence,
		armOptions:     defaultARMOptions(),
	}, nil
}

// defaultARMOptions turns the SDK retry policy off. Every adapter call is
// attempted once and retried, if at all, by the orchestrator.
func defaultARMOptions() *arm.ClientOptions {
	return &arm.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: -1},
		},
	}
}

func (c *AzureCloud) SubscriptionID() string {
	return c.subscriptionID
}

func (c *AzureCloud) subscriptionScope() string {
	return "/subscriptions/" + c.subscriptionID
}

type CallingUser struct {
	Name     string
	ObjectID string
	TenantID string
}

// CallingUser reads the signed-in principal from the claims of a management
// token.
func (c *AzureCloud) CallingUser(ctx context.Context) (*CallingUser, error) {
	return callingUser(ctx, c.credential)
}

func callingUser(ctx context.Context, cred azcore.TokenCredential) (*CallingUser, error) {
	token, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{"https://management.azure.com//.default"}})
	if err != nil {
		return nil, classify("azure: get token", fmt.Errorf("failed to get access token, %w", err))
	}
	claims := make(jwt.MapClaims)
	if _, _, err = jwt.NewParser().ParseUnverified(token.Token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token, %w", err)
	}
	user := &CallingUser{}
	user.Name, _ = claims["unique_name"].(string)
	if user.Name == "" {
		user.Name, _ = claims["upn"].(string)
	}
	user.ObjectID, _ = claims["oid"].(string)
	user.TenantID, _ = claims["tid"].(string)
	return user, nil
}
