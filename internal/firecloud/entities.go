package firecloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

func entityPath(namespace, name, entityType string) string {
	return workspacePath(namespace, name) + escapef("/entities/%s", entityType)
}

// EntitiesWithType lists every entity of a workspace.
func (c *Client) EntitiesWithType(ctx context.Context, namespace, name string) ([]Entity, error) {
	var ents []Entity
	if err := c.call(ctx, http.MethodGet, workspacePath(namespace, name)+"/entities_with_type", nil, &ents); err != nil {
		return nil, err
	}
	return ents, nil
}

// EntityTypes summarizes the entity types of a workspace.
func (c *Client) EntityTypes(ctx context.Context, namespace, name string) (map[string]EntityTypeInfo, error) {
	types := map[string]EntityTypeInfo{}
	if err := c.call(ctx, http.MethodGet, workspacePath(namespace, name)+"/entities", nil, &types); err != nil {
		return nil, err
	}
	return types, nil
}

// EntitiesByType lists the entities of one type.
func (c *Client) EntitiesByType(ctx context.Context, namespace, name, entityType string) ([]Entity, error) {
	var ents []Entity
	if err := c.call(ctx, http.MethodGet, entityPath(namespace, name, entityType), nil, &ents); err != nil {
		return nil, err
	}
	return ents, nil
}

// Entity fetches a single entity.
func (c *Client) Entity(ctx context.Context, namespace, name, entityType, entityName string) (*Entity, error) {
	var e Entity
	path := entityPath(namespace, name, entityType) + "/" + url.PathEscape(entityName)
	if err := c.call(ctx, http.MethodGet, path, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateEntity applies one attribute operation. op must be one of
// EntityOperations.
func (c *Client) UpdateEntity(ctx context.Context, namespace, name, entityType, entityName string, update EntityUpdate) (*Entity, error) {
	if err := validateOneOf("entity operation", update.Op, EntityOperations); err != nil {
		return nil, err
	}
	var e Entity
	path := entityPath(namespace, name, entityType) + "/" + url.PathEscape(entityName)
	if err := c.call(ctx, http.MethodPatch, path, update, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// EntitiesTSV exports entities of one type as TSV text. When attribute names
// are given only those columns are exported.
func (c *Client) EntitiesTSV(ctx context.Context, namespace, name, entityType string, attributeNames ...string) (string, error) {
	path := entityPath(namespace, name, entityType) + "/tsv"
	if len(attributeNames) > 0 {
		path += "?attributeNames=" + url.QueryEscape(strings.Join(attributeNames, ","))
	}
	resp, err := c.execute(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// ImportEntities uploads a TSV load file as multipart form field "entities".
func (c *Client) ImportEntities(ctx context.Context, namespace, name, filename string, tsv io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("entities", filename)
	if err != nil {
		return "", fmt.Errorf("building entity upload: %w", err)
	}
	if _, err := io.Copy(part, tsv); err != nil {
		return "", fmt.Errorf("reading entity file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building entity upload: %w", err)
	}

	resp, err := c.execute(ctx, http.MethodPost, workspacePath(namespace, name)+"/importEntities",
		buf.Bytes(), fileUpload(mw.FormDataContentType()))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(resp.Body)), nil
}

// DeleteEntities removes entities in bulk. References missing a name or
// type are dropped before the call.
func (c *Client) DeleteEntities(ctx context.Context, namespace, name string, refs []EntityRef) error {
	valid := make([]EntityRef, 0, len(refs))
	for _, r := range refs {
		if r.EntityName != "" && r.EntityType != "" {
			valid = append(valid, r)
		}
	}
	return c.call(ctx, http.MethodPost, workspacePath(namespace, name)+"/entities/delete", valid, nil)
}

// EntityMap pairs each name with entityType.
func EntityMap(names []string, entityType string) []EntityRef {
	refs := make([]EntityRef, 0, len(names))
	for _, n := range names {
		refs = append(refs, EntityRef{EntityName: n, EntityType: entityType})
	}
	return refs
}
