package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/google/uuid"

	"github.com/sdaf-automation/sdaf-wizard/internal/failure"
)

// roleAssignmentNamespace seeds the deterministic role assignment names, so
// that a retried create hits the same assignment instead of adding another.
var roleAssignmentNamespace = uuid.MustParse("6f1c3f36-6a0e-4c8e-9a51-5c0b5a3f9f11")

func roleAssignmentName(scope, principalID, roleDefinitionID string) string {
	key := strings.ToLower(scope + "|" + principalID + "|" + roleDefinitionID)
	return uuid.NewSHA1(roleAssignmentNamespace, []byte(key)).String()
}

// EnsureRoleAssignments grants every named role to the principal at
// subscription scope and returns the assignment IDs in the order of roles.
func (c *AzureCloud) EnsureRoleAssignments(ctx context.Context, principalID string, roles []string) ([]string, error) {
	const op = "azure: ensure role assignments"

	clientFactory, err := armauthorization.NewClientFactory(c.subscriptionID, c.credential, c.armOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure authorization client, %w", err)
	}
	scope := c.subscriptionScope()

	ids := make([]string, 0, len(roles))
	for _, role := range roles {
		roleDefinitionID, err := c.roleDefinitionID(ctx, clientFactory.NewRoleDefinitionsClient(), scope, role)
		if err != nil {
			return nil, err
		}
		id, err := c.createRoleAssignment(ctx, clientFactory.NewRoleAssignmentsClient(), scope, principalID, roleDefinitionID)
		if err != nil {
			return nil, classify(op, fmt.Errorf("failed to assign role %s, %w", role, err))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *AzureCloud) roleDefinitionID(ctx context.Context, client *armauthorization.RoleDefinitionsClient, scope, roleName string) (string, error) {
	const op = "azure: get role definition"

	pager := client.NewListPager(scope, &armauthorization.RoleDefinitionsClientListOptions{
		Filter: to.Ptr("roleName eq '" + odataQuote(roleName) + "'"),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return "", classify(op, fmt.Errorf("failed to look up role %s, %w", roleName, err))
		}
		for _, v := range page.Value {
			if v.ID != nil {
				return *v.ID, nil
			}
		}
	}
	return "", failure.NotFound(op, "role definition %s does not exist", roleName)
}

func (c *AzureCloud) createRoleAssignment(ctx context.Context, client *armauthorization.RoleAssignmentsClient, scope, principalID, roleDefinitionID string) (string, error) {
	resp, err := client.Create(ctx, scope, roleAssignmentName(scope, principalID, roleDefinitionID), armauthorization.RoleAssignmentCreateParameters{
		Properties: &armauthorization.RoleAssignmentProperties{
			PrincipalID:      to.Ptr(principalID),
			RoleDefinitionID: to.Ptr(roleDefinitionID),
			PrincipalType:    to.Ptr(armauthorization.PrincipalTypeServicePrincipal),
		},
	}, nil)
	if err == nil {
		return deref(resp.ID), nil
	}

	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) || respErr.ErrorCode != "RoleAssignmentExists" {
		return "", err
	}

	// The same grant exists under another name, created outside this tool.
	pager := client.NewListForScopePager(scope, &armauthorization.RoleAssignmentsClientListForScopeOptions{
		Filter: to.Ptr("principalId eq '" + odataQuote(principalID) + "'"),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return "", err
		}
		for _, v := range page.Value {
			if v.Properties != nil && strings.EqualFold(deref(v.Properties.RoleDefinitionID), roleDefinitionID) {
				return deref(v.ID), nil
			}
		}
	}
	return "", failure.Conflict("azure: ensure role assignments", "role assignment for %s reported as existing but was not found at %s", principalID, scope)
}

// CheckRoleAssignments verifies that every assignment ID still exists.
func (c *AzureCloud) CheckRoleAssignments(ctx context.Context, ids []string) error {
	const op = "azure: check role assignments"

	client, err := armauthorization.NewRoleAssignmentsClient(c.subscriptionID, c.credential, c.armOptions)
	if err != nil {
		return fmt.Errorf("failed to create Azure authorization client, %w", err)
	}
	for _, id := range ids {
		if _, err := client.GetByID(ctx, id, nil); err != nil {
			if isNotFound(err) {
				return failure.NotFound(op, "role assignment %s no longer exists", id)
			}
			return classify(op, fmt.Errorf("failed to get role assignment %s, %w", id, err))
		}
	}
	return nil
}
