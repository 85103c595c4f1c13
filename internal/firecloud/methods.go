package firecloud

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// PublicUser is the pseudo-user that makes a method readable by everyone.
const PublicUser = "public"

func methodPath(namespace, name string, snapshot int) string {
	return escapef("/api/methods/%s/%s/", namespace, name) + strconv.Itoa(snapshot)
}

// Methods lists repository methods matching the free-form query filters.
func (c *Client) Methods(ctx context.Context, query map[string]string) ([]Method, error) {
	var methods []Method
	if err := c.call(ctx, http.MethodGet, "/api/methods"+queryString(query), nil, &methods); err != nil {
		return nil, err
	}
	return methods, nil
}

// Method fetches one method snapshot. onlyPayload limits the reply to the WDL.
func (c *Client) Method(ctx context.Context, namespace, name string, snapshot int, onlyPayload bool) (*Method, error) {
	path := methodPath(namespace, name, snapshot) + "?onlyPayload=" + strconv.FormatBool(onlyPayload)
	resp, err := c.execute(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if onlyPayload {
		if s, ok := resp.Value().(string); ok {
			return &Method{Namespace: namespace, Name: name, SnapshotID: snapshot, Payload: s}, nil
		}
	}
	var m Method
	if err := resp.Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMethod adds a new WDL snapshot to the repository.
func (c *Client) CreateMethod(ctx context.Context, namespace, name, synopsis, wdl string) (*Method, error) {
	payload := map[string]string{
		"namespace":     namespace,
		"name":          name,
		"synopsis":      synopsis,
		"documentation": "",
		"payload":       wdl,
		"entityType":    "Workflow",
	}
	var m Method
	if err := c.call(ctx, http.MethodPost, "/api/methods", payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMethod redacts one method snapshot.
func (c *Client) DeleteMethod(ctx context.Context, namespace, name string, snapshot int) error {
	_, err := c.execute(ctx, http.MethodDelete, methodPath(namespace, name, snapshot), nil)
	return err
}

// MethodParameters returns the inputs and outputs declared by a snapshot.
func (c *Client) MethodParameters(ctx context.Context, namespace, name string, snapshot int) (*MethodParameters, error) {
	req := MethodRepoMethod{MethodNamespace: namespace, MethodName: name, MethodVersion: snapshot}
	var params MethodParameters
	if err := c.call(ctx, http.MethodPost, "/api/inputsOutputs", req, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// NewMethodACL builds a single-entry method ACL. role must be one of
// MethodRoles.
func NewMethodACL(user, role string) ([]MethodACLEntry, error) {
	if err := validateOneOf("method role", role, MethodRoles); err != nil {
		return nil, err
	}
	return []MethodACLEntry{{User: user, Role: role}}, nil
}

// MethodPermissions fetches the ACL of a method snapshot.
func (c *Client) MethodPermissions(ctx context.Context, namespace, name string, snapshot int) ([]MethodACLEntry, error) {
	var acl []MethodACLEntry
	if err := c.call(ctx, http.MethodGet, methodPath(namespace, name, snapshot)+"/permissions", nil, &acl); err != nil {
		return nil, err
	}
	return acl, nil
}

// UpdateMethodPermissions sets the ACL of a method snapshot and returns the
// resulting ACL.
func (c *Client) UpdateMethodPermissions(ctx context.Context, namespace, name string, snapshot int, acl []MethodACLEntry) ([]MethodACLEntry, error) {
	for _, e := range acl {
		if err := validateOneOf("method role", e.Role, MethodRoles); err != nil {
			return nil, err
		}
	}
	var out []MethodACLEntry
	if err := c.call(ctx, http.MethodPost, methodPath(namespace, name, snapshot)+"/permissions", acl, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MethodNamespacePermissions fetches the ACL of a method namespace.
func (c *Client) MethodNamespacePermissions(ctx context.Context, namespace string) ([]MethodACLEntry, error) {
	var acl []MethodACLEntry
	if err := c.call(ctx, http.MethodGet, escapef("/api/methods/%s/permissions", namespace), nil, &acl); err != nil {
		return nil, err
	}
	return acl, nil
}

// UpdateMethodNamespacePermissions replaces the ACL of a method namespace.
func (c *Client) UpdateMethodNamespacePermissions(ctx context.Context, namespace string, acl []MethodACLEntry) ([]MethodACLEntry, error) {
	var out []MethodACLEntry
	if err := c.call(ctx, http.MethodPost, escapef("/api/methods/%s/permissions", namespace), acl, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PublishMethod creates a method snapshot and makes it publicly readable.
// If the public grant does not stick, the snapshot is redacted again and an
// error is returned.
func (c *Client) PublishMethod(ctx context.Context, namespace, name, synopsis, wdl string) (*Method, error) {
	m, err := c.CreateMethod(ctx, namespace, name, synopsis, wdl)
	if err != nil {
		return nil, fmt.Errorf("adding %s/%s to methods repo: %w", namespace, name, err)
	}
	if m.SnapshotID == 0 {
		return nil, fmt.Errorf("adding %s/%s to methods repo: no snapshot assigned", namespace, name)
	}

	public, _ := NewMethodACL(PublicUser, AccessReader)
	updated, err := c.UpdateMethodPermissions(ctx, namespace, name, m.SnapshotID, public)
	if err == nil && hasGrant(updated, PublicUser, AccessReader) {
		return m, nil
	}

	if derr := c.DeleteMethod(ctx, namespace, name, m.SnapshotID); derr != nil {
		c.logger.Error().Err(derr).
			Str("method", fmt.Sprintf("%s/%s/%d", namespace, name, m.SnapshotID)).
			Msg("redacting unpublished method")
	}
	if err != nil {
		return nil, fmt.Errorf("setting public access on %s/%s: %w", namespace, name, err)
	}
	return nil, fmt.Errorf("setting public access on %s/%s: method is not publicly readable", namespace, name)
}

// RedactMethod deletes snapshots maxSnapshot down to 1. Failures are logged
// and the first one is returned after every snapshot was tried.
func (c *Client) RedactMethod(ctx context.Context, namespace, name string, maxSnapshot int) error {
	var first error
	for v := maxSnapshot; v >= 1; v-- {
		if err := c.DeleteMethod(ctx, namespace, name, v); err != nil {
			c.logger.Warn().Err(err).Int("snapshot", v).Str("method", namespace+"/"+name).Msg("redacting method snapshot")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func hasGrant(acl []MethodACLEntry, user, role string) bool {
	for _, e := range acl {
		if e.User == user && e.Role == role {
			return true
		}
	}
	return false
}
