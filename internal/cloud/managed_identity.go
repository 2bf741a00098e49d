package cloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/msi/armmsi"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"

	"github.com/sdaf-automation/sdaf-wizard/internal/failure"
)

type ResourceGroup struct {
	ID       string
	Name     string
	Location string
	Created  bool
}

type ManagedIdentity struct {
	ID            string
	Name          string
	ResourceGroup string
	Location      string
	ClientID      string
	PrincipalID   string
	TenantID      string
	Created       bool
}

// EnsureResourceGroup adopts the resource group if it exists, whatever its
// location, and creates it otherwise.
func (c *AzureCloud) EnsureResourceGroup(ctx context.Context, name, location string) (*ResourceGroup, error) {
	const op = "azure: ensure resource group"

	rgClient, err := armresources.NewResourceGroupsClient(c.subscriptionID, c.credential, c.armOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create Resource Group client, %w", err)
	}

	resp, err := rgClient.Get(ctx, name, nil)
	if err == nil {
		return &ResourceGroup{ID: deref(resp.ID), Name: deref(resp.Name), Location: deref(resp.Location)}, nil
	}
	if !isNotFound(err) {
		return nil, classify(op, fmt.Errorf("failed to check if Resource Group %s exists, %w", name, err))
	}

	created, err := rgClient.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
		Location: to.Ptr(location),
	}, nil)
	if err != nil {
		return nil, classify(op, fmt.Errorf("failed to create Resource Group %s, %w", name, err))
	}
	return &ResourceGroup{ID: deref(created.ID), Name: deref(created.Name), Location: deref(created.Location), Created: true}, nil
}

func (c *AzureCloud) GetResourceGroup(ctx context.Context, name string) (*ResourceGroup, error) {
	const op = "azure: get resource group"

	rgClient, err := armresources.NewResourceGroupsClient(c.subscriptionID, c.credential, c.armOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create Resource Group client, %w", err)
	}
	resp, err := rgClient.Get(ctx, name, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, failure.NotFound(op, "resource group %s no longer exists", name)
		}
		return nil, classify(op, fmt.Errorf("failed to get Resource Group %s, %w", name, err))
	}
	return &ResourceGroup{ID: deref(resp.ID), Name: deref(resp.Name), Location: deref(resp.Location)}, nil
}

// EnsureManagedIdentity adopts or creates a user-assigned managed identity.
// An existing identity in another location is a conflict unless the
// equivalence policy ignores location.
func (c *AzureCloud) EnsureManagedIdentity(ctx context.Context, resourceGroup, name, location string) (*ManagedIdentity, error) {
	const op = "azure: ensure managed identity"

	idClient, err := armmsi.NewUserAssignedIdentitiesClient(c.subscriptionID, c.credential, c.armOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create Managed Identity client, %w", err)
	}

	resp, err := idClient.Get(ctx, resourceGroup, name, nil)
	if err == nil {
		identity := managedIdentityFrom(resourceGroup, resp.Identity)
		if c.equivalence.ManagedIdentity.RequireLocation && !sameLocation(identity.Location, location) {
			return nil, failure.Conflict(op, "managed identity %s exists in %s, expected %s", name, identity.Location, location)
		}
		return identity, nil
	}
	if !isNotFound(err) {
		return nil, classify(op, fmt.Errorf("failed to check if Managed Identity %s exists, %w", name, err))
	}

	created, err := idClient.CreateOrUpdate(ctx, resourceGroup, name, armmsi.Identity{
		Location: to.Ptr(location),
	}, nil)
	if err != nil {
		return nil, classify(op, fmt.Errorf("failed to create Managed Identity %s, %w", name, err))
	}
	identity := managedIdentityFrom(resourceGroup, created.Identity)
	identity.Created = true
	return identity, nil
}

// GetManagedIdentity looks the identity up by its resource ID.
func (c *AzureCloud) GetManagedIdentity(ctx context.Context, id string) (*ManagedIdentity, error) {
	const op = "azure: get managed identity"

	resourceGroup, name, err := getAzureResourceGroupAndName(id)
	if err != nil {
		return nil, failure.InvalidInput(op, "%v", err)
	}
	idClient, err := armmsi.NewUserAssignedIdentitiesClient(c.subscriptionID, c.credential, c.armOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create Managed Identity client, %w", err)
	}
	resp, err := idClient.Get(ctx, resourceGroup, name, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, failure.NotFound(op, "managed identity %s no longer exists", name)
		}
		return nil, classify(op, fmt.Errorf("failed to get Managed Identity %s, %w", name, err))
	}
	return managedIdentityFrom(resourceGroup, resp.Identity), nil
}

func managedIdentityFrom(resourceGroup string, identity armmsi.Identity) *ManagedIdentity {
	mi := &ManagedIdentity{
		ID:            deref(identity.ID),
		Name:          deref(identity.Name),
		ResourceGroup: resourceGroup,
		Location:      deref(identity.Location),
	}
	if identity.Properties != nil {
		mi.ClientID = deref(identity.Properties.ClientID)
		mi.PrincipalID = deref(identity.Properties.PrincipalID)
		mi.TenantID = deref(identity.Properties.TenantID)
	}
	return mi
}

// sameLocation compares display and programmatic location names, so that
// "West Europe" matches "westeurope".
func sameLocation(a, b string) bool {
	normalize := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, " ", ""))
	}
	return normalize(a) == normalize(b)
}
