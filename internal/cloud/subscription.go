package cloud

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
)

type Subscription struct {
	ID       string
	Name     string
	TenantID string
}

func (c *AzureCloud) GetSubscription(ctx context.Context) (*Subscription, error) {
	clientFactory, err := armsubscriptions.NewClientFactory(c.credential, c.armOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create Subscriptions client, %w", err)
	}
	resp, err := clientFactory.NewClient().Get(ctx, c.subscriptionID, nil)
	if err != nil {
		return nil, classify("azure: get subscription", fmt.Errorf("failed to get Subscription %s, %w", c.subscriptionID, err))
	}
	return &Subscription{
		ID:       deref(resp.SubscriptionID),
		Name:     deref(resp.DisplayName),
		TenantID: deref(resp.TenantID),
	}, nil
}

// ListSubscriptions does not depend on the subscription the cloud was
// created for, so the input layer can call it before one is chosen.
func (c *AzureCloud) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	clientFactory, err := armsubscriptions.NewClientFactory(c.credential, c.armOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create Subscriptions client, %w", err)
	}
	subList := make([]Subscription, 0)
	pager := clientFactory.NewClient().NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify("azure: list subscriptions", err)
		}
		for _, v := range page.Value {
			subList = append(subList, Subscription{
				ID:       deref(v.SubscriptionID),
				Name:     deref(v.DisplayName),
				TenantID: deref(v.TenantID),
			})
		}
	}
	return subList, nil
}
