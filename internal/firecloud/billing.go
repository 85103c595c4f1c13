package firecloud

import (
	"context"
	"net/http"
	"strings"
)

// BillingProjects lists the billing projects of the caller.
func (c *Client) BillingProjects(ctx context.Context) ([]BillingProject, error) {
	var projects []BillingProject
	if err := c.call(ctx, http.MethodGet, "/api/profile/billing", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// BillingAccounts lists the Google billing accounts of the caller.
func (c *Client) BillingAccounts(ctx context.Context) ([]BillingAccount, error) {
	var accounts []BillingAccount
	if err := c.call(ctx, http.MethodGet, "/api/profile/billingAccounts", nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// CreateBillingProject creates a project billed to account, which must start
// with BillingAccountPrefix.
func (c *Client) CreateBillingProject(ctx context.Context, project, account string) error {
	if !strings.HasPrefix(account, BillingAccountPrefix) {
		return &ValidationError{
			Field: "billing account",
			Value: account,
			Rule:  "must begin with '" + BillingAccountPrefix + "'",
		}
	}
	payload := map[string]string{
		"projectName":    project,
		"billingAccount": account,
	}
	return c.call(ctx, http.MethodPost, "/api/billing", payload, nil)
}

// BillingProjectMembers lists the members of a billing project.
func (c *Client) BillingProjectMembers(ctx context.Context, project string) ([]BillingMember, error) {
	var members []BillingMember
	if err := c.call(ctx, http.MethodGet, escapef("/api/billing/%s/members", project), nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// AddBillingProjectMember grants email a role on project. role must be one of
// BillingProjectRoles.
func (c *Client) AddBillingProjectMember(ctx context.Context, project, role, email string) error {
	if err := validateOneOf("billing project role", role, BillingProjectRoles); err != nil {
		return err
	}
	_, err := c.execute(ctx, http.MethodPut, escapef("/api/billing/%s/%s/%s", project, role, email), nil)
	return err
}

// RemoveBillingProjectMember revokes a role of email on project.
func (c *Client) RemoveBillingProjectMember(ctx context.Context, project, role, email string) error {
	if err := validateOneOf("billing project role", role, BillingProjectRoles); err != nil {
		return err
	}
	_, err := c.execute(ctx, http.MethodDelete, escapef("/api/billing/%s/%s/%s", project, role, email), nil)
	return err
}
