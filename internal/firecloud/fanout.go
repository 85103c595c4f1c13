package firecloud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultACLWorkers bounds concurrent ACL reads.
const DefaultACLWorkers = 3

// FetchWorkspaceACLs reads the ACL of every named workspace in namespace using
// at most workers concurrent calls. The first failure cancels the rest.
func FetchWorkspaceACLs(ctx context.Context, c *Client, namespace string, names []string, workers int) (map[string]*WorkspaceACL, error) {
	if workers < 1 {
		workers = DefaultACLWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	acls := make(map[string]*WorkspaceACL, len(names))
	for _, name := range names {
		g.Go(func() error {
			acl, err := c.WorkspaceACL(gctx, namespace, name)
			if err != nil {
				return fmt.Errorf("fetching acl for %s/%s: %w", namespace, name, err)
			}
			mu.Lock()
			acls[name] = acl
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return acls, nil
}

// WorkspaceComputes returns, for each workspace of namespace, the grant held
// by user. Workspaces where user has no entry are reported as "NO ACCESS".
// Namespaces in ComputeBlocklist never report compute.
func WorkspaceComputes(ctx context.Context, c *Client, namespace, user string, workers int) ([]WorkspaceCompute, error) {
	workspaces, err := c.Workspaces(ctx, namespace)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(workspaces))
	for _, ws := range workspaces {
		names = append(names, ws.Workspace.Name)
	}

	acls, err := FetchWorkspaceACLs(ctx, c, namespace, names, workers)
	if err != nil {
		return nil, err
	}

	blocked := false
	for _, b := range ComputeBlocklist {
		if b == namespace {
			blocked = true
		}
	}

	now := time.Now().UTC()
	out := make([]WorkspaceCompute, 0, len(names))
	for _, name := range names {
		wc := WorkspaceCompute{Workspace: name, AccessLevel: AccessNoAccess, CheckedAt: now}
		if grant, ok := acls[name].ACL[user]; ok {
			wc.AccessLevel = grant.AccessLevel
			wc.CanCompute = grant.CanCompute && !blocked
		}
		out = append(out, wc)
	}
	return out, nil
}
