package firecloud

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// escapef formats a path, escaping each argument as a single path segment.
func escapef(format string, args ...string) string {
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(a)
	}
	return fmt.Sprintf(format, escaped...)
}

func workspacePath(namespace, name string) string {
	return escapef("/api/workspaces/%s/%s", namespace, name)
}

// Workspaces lists the workspaces visible to the caller within namespace.
func (c *Client) Workspaces(ctx context.Context, namespace string) ([]Workspace, error) {
	var all []Workspace
	if err := c.call(ctx, http.MethodGet, "/api/workspaces", nil, &all); err != nil {
		return nil, err
	}
	filtered := all[:0]
	for _, ws := range all {
		if ws.Workspace.Namespace == namespace {
			filtered = append(filtered, ws)
		}
	}
	return filtered, nil
}

// CreateWorkspace creates namespace/name, restricted to the given
// authorization domain groups.
func (c *Client) CreateWorkspace(ctx context.Context, namespace, name string, authDomains ...string) (*WorkspaceDetails, error) {
	domains := make([]AuthorizationDomain, 0, len(authDomains))
	for _, d := range authDomains {
		domains = append(domains, AuthorizationDomain{MembersGroupName: d})
	}
	payload := struct {
		Namespace           string                `json:"namespace"`
		Name                string                `json:"name"`
		Attributes          map[string]any        `json:"attributes"`
		AuthorizationDomain []AuthorizationDomain `json:"authorizationDomain"`
	}{namespace, name, map[string]any{}, domains}

	var ws WorkspaceDetails
	if err := c.call(ctx, http.MethodPost, "/api/workspaces", payload, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// Workspace fetches a single workspace.
func (c *Client) Workspace(ctx context.Context, namespace, name string) (*Workspace, error) {
	var ws Workspace
	if err := c.call(ctx, http.MethodGet, workspacePath(namespace, name), nil, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// WorkspaceBucket returns the storage bucket backing a workspace.
func (c *Client) WorkspaceBucket(ctx context.Context, namespace, name string) (string, error) {
	ws, err := c.Workspace(ctx, namespace, name)
	if err != nil {
		return "", err
	}
	if ws.Workspace.BucketName == "" {
		return "", fmt.Errorf("workspace %s/%s has no bucket", namespace, name)
	}
	return ws.Workspace.BucketName, nil
}

// DeleteWorkspace deletes a workspace and its bucket.
func (c *Client) DeleteWorkspace(ctx context.Context, namespace, name string) error {
	_, err := c.execute(ctx, http.MethodDelete, workspacePath(namespace, name), nil)
	return err
}

// WorkspaceACL fetches the ACL of a workspace.
func (c *Client) WorkspaceACL(ctx context.Context, namespace, name string) (*WorkspaceACL, error) {
	var acl WorkspaceACL
	if err := c.call(ctx, http.MethodGet, workspacePath(namespace, name)+"/acl", nil, &acl); err != nil {
		return nil, err
	}
	return &acl, nil
}

// NewWorkspaceACL builds an ACL update for one user. accessLevel must be one
// of WorkspacePermissions; "NO ACCESS" revokes.
func NewWorkspaceACL(email, accessLevel string, canShare, canCompute bool) ([]ACLEntry, error) {
	if err := validateOneOf("workspace access level", accessLevel, WorkspacePermissions); err != nil {
		return nil, err
	}
	return []ACLEntry{{
		Email:       email,
		AccessLevel: accessLevel,
		CanShare:    canShare,
		CanCompute:  canCompute,
	}}, nil
}

// UpdateWorkspaceACL applies ACL entries, inviting users that are not yet
// registered.
func (c *Client) UpdateWorkspaceACL(ctx context.Context, namespace, name string, entries []ACLEntry) (*ACLUpdateResult, error) {
	for _, e := range entries {
		if err := validateOneOf("workspace access level", e.AccessLevel, WorkspacePermissions); err != nil {
			return nil, err
		}
	}
	var res ACLUpdateResult
	path := workspacePath(namespace, name) + "/acl?inviteUsersNotFound=true"
	if err := c.call(ctx, http.MethodPatch, path, entries, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetWorkspaceAttributes replaces every attribute of the workspace.
func (c *Client) SetWorkspaceAttributes(ctx context.Context, namespace, name string, attributes map[string]any) (*WorkspaceDetails, error) {
	var ws WorkspaceDetails
	if err := c.call(ctx, http.MethodPatch, workspacePath(namespace, name)+"/setAttributes", attributes, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// WorkspaceStorageCost returns the monthly storage estimate for the bucket.
func (c *Client) WorkspaceStorageCost(ctx context.Context, namespace, name string) (*StorageCostEstimate, error) {
	var est StorageCostEstimate
	if err := c.call(ctx, http.MethodGet, workspacePath(namespace, name)+"/storageCostEstimate", nil, &est); err != nil {
		return nil, err
	}
	return &est, nil
}

// queryString renders free-form filters in a stable order.
func queryString(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	return "?" + v.Encode()
}
