package firecloud

import (
	"context"
	"net/http"
	"strconv"
)

func configurationPath(namespace, name string, snapshot int) string {
	return escapef("/api/configurations/%s/%s/", namespace, name) + strconv.Itoa(snapshot)
}

func workspaceConfigPath(wsNamespace, wsName, cfgNamespace, cfgName string) string {
	return workspacePath(wsNamespace, wsName) + escapef("/method_configs/%s/%s", cfgNamespace, cfgName)
}

// Configurations lists repository configurations matching the query filters.
func (c *Client) Configurations(ctx context.Context, query map[string]string) ([]MethodConfiguration, error) {
	var cfgs []MethodConfiguration
	if err := c.call(ctx, http.MethodGet, "/api/configurations"+queryString(query), nil, &cfgs); err != nil {
		return nil, err
	}
	return cfgs, nil
}

// Configuration fetches one repository configuration snapshot.
func (c *Client) Configuration(ctx context.Context, namespace, name string, snapshot int, payloadAsObject bool) (*MethodConfiguration, error) {
	path := configurationPath(namespace, name, snapshot) + "?payloadAsObject=" + strconv.FormatBool(payloadAsObject)
	var cfg MethodConfiguration
	if err := c.call(ctx, http.MethodGet, path, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CopyConfigurationToWorkspace copies a repository configuration snapshot
// into a workspace under a new namespace and name.
func (c *Client) CopyConfigurationToWorkspace(ctx context.Context, wsNamespace, wsName string, req CopyConfigurationRequest) (*MethodConfiguration, error) {
	var cfg MethodConfiguration
	path := workspacePath(wsNamespace, wsName) + "/method_configs/copyFromMethodRepo"
	if err := c.call(ctx, http.MethodPost, path, req, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CreateConfigurationTemplate generates an empty configuration for a method.
func (c *Client) CreateConfigurationTemplate(ctx context.Context, methodNamespace, methodName string, methodVersion int) (*MethodConfiguration, error) {
	req := MethodRepoMethod{MethodNamespace: methodNamespace, MethodName: methodName, MethodVersion: methodVersion}
	var cfg MethodConfiguration
	if err := c.call(ctx, http.MethodPost, "/api/template", req, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WorkspaceConfigurations lists the configurations of a workspace.
func (c *Client) WorkspaceConfigurations(ctx context.Context, namespace, name string) ([]MethodConfiguration, error) {
	var cfgs []MethodConfiguration
	if err := c.call(ctx, http.MethodGet, workspacePath(namespace, name)+"/methodconfigs", nil, &cfgs); err != nil {
		return nil, err
	}
	return cfgs, nil
}

// WorkspaceConfiguration fetches one workspace configuration.
func (c *Client) WorkspaceConfiguration(ctx context.Context, wsNamespace, wsName, cfgNamespace, cfgName string) (*MethodConfiguration, error) {
	var cfg MethodConfiguration
	if err := c.call(ctx, http.MethodGet, workspaceConfigPath(wsNamespace, wsName, cfgNamespace, cfgName), nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CreateWorkspaceConfiguration adds a configuration to a workspace.
func (c *Client) CreateWorkspaceConfiguration(ctx context.Context, namespace, name string, cfg MethodConfiguration) (*MethodConfiguration, error) {
	var out MethodConfiguration
	if err := c.call(ctx, http.MethodPost, workspacePath(namespace, name)+"/methodconfigs", cfg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateWorkspaceConfiguration updates a configuration in place.
func (c *Client) UpdateWorkspaceConfiguration(ctx context.Context, wsNamespace, wsName, cfgNamespace, cfgName string, cfg MethodConfiguration) (*MethodConfiguration, error) {
	var out MethodConfiguration
	if err := c.call(ctx, http.MethodPost, workspaceConfigPath(wsNamespace, wsName, cfgNamespace, cfgName), cfg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OverwriteWorkspaceConfiguration replaces a configuration wholesale.
func (c *Client) OverwriteWorkspaceConfiguration(ctx context.Context, wsNamespace, wsName, cfgNamespace, cfgName string, cfg MethodConfiguration) (*MethodConfiguration, error) {
	var out MethodConfiguration
	if err := c.call(ctx, http.MethodPut, workspaceConfigPath(wsNamespace, wsName, cfgNamespace, cfgName), cfg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfigurationNamespacePermissions fetches the ACL of a configuration namespace.
func (c *Client) ConfigurationNamespacePermissions(ctx context.Context, namespace string) ([]MethodACLEntry, error) {
	var acl []MethodACLEntry
	if err := c.call(ctx, http.MethodGet, escapef("/api/configurations/%s/permissions", namespace), nil, &acl); err != nil {
		return nil, err
	}
	return acl, nil
}

// UpdateConfigurationNamespacePermissions replaces the ACL of a configuration
// namespace.
func (c *Client) UpdateConfigurationNamespacePermissions(ctx context.Context, namespace string, acl []MethodACLEntry) ([]MethodACLEntry, error) {
	var out []MethodACLEntry
	if err := c.call(ctx, http.MethodPost, escapef("/api/configurations/%s/permissions", namespace), acl, &out); err != nil {
		return nil, err
	}
	return out, nil
}
