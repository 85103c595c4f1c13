package firecloud

import (
	"context"
	"net/http"
)

func groupPath(group string) string {
	return escapef("/api/groups/%s", group)
}

// Groups lists the groups the caller belongs to.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := c.call(ctx, http.MethodGet, "/api/groups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// Group fetches one group with its admins and members.
func (c *Client) Group(ctx context.Context, group string) (*Group, error) {
	var g Group
	if err := c.call(ctx, http.MethodGet, groupPath(group), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateGroup creates a group owned by the caller.
func (c *Client) CreateGroup(ctx context.Context, group string) (*Group, error) {
	var g Group
	if err := c.call(ctx, http.MethodPost, groupPath(group), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// DeleteGroup deletes a group.
func (c *Client) DeleteGroup(ctx context.Context, group string) error {
	_, err := c.execute(ctx, http.MethodDelete, groupPath(group), nil)
	return err
}

// AddGroupMember grants email a role in group. role must be one of GroupRoles.
func (c *Client) AddGroupMember(ctx context.Context, group, role, email string) error {
	if err := validateOneOf("group role", role, GroupRoles); err != nil {
		return err
	}
	_, err := c.execute(ctx, http.MethodPut, groupPath(group)+escapef("/%s/%s", role, email), nil)
	return err
}

// RemoveGroupMember revokes a role of email in group.
func (c *Client) RemoveGroupMember(ctx context.Context, group, role, email string) error {
	if err := validateOneOf("group role", role, GroupRoles); err != nil {
		return err
	}
	_, err := c.execute(ctx, http.MethodDelete, groupPath(group)+escapef("/%s/%s", role, email), nil)
	return err
}

// RequestGroupAccess asks the group admins for membership.
func (c *Client) RequestGroupAccess(ctx context.Context, group string) error {
	_, err := c.execute(ctx, http.MethodPost, groupPath(group)+"/requestAccess", nil)
	return err
}
