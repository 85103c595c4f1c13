package firecloud

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unity-portal/unity/internal/firecloud/firecloudtest"
)

// aclServer keeps one workspace ACL in memory.
func aclServer(t *testing.T) *firecloudtest.API {
	t.Helper()
	api := firecloudtest.NewAPI(t)
	var mu sync.Mutex
	acl := map[string]ACLGrant{"owner@example.com": {AccessLevel: AccessOwner, CanShare: true, CanCompute: true}}

	api.Handle("GET /api/workspaces/ns/ws/acl", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		firecloudtest.WriteJSON(w, http.StatusOK, WorkspaceACL{ACL: acl})
	})
	api.Handle("PATCH /api/workspaces/ns/ws/acl", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("inviteUsersNotFound") != "true" {
			http.Error(w, "missing invite flag", http.StatusBadRequest)
			return
		}
		var entries []ACLEntry
		if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		for _, e := range entries {
			acl[e.Email] = ACLGrant{AccessLevel: e.AccessLevel, CanShare: e.CanShare, CanCompute: e.CanCompute}
		}
		mu.Unlock()
		firecloudtest.WriteJSON(w, http.StatusOK, ACLUpdateResult{UsersUpdated: entries})
	})
	return api
}

func TestWorkspaceACLRoundTrip(t *testing.T) {
	for _, level := range WorkspacePermissions {
		t.Run(level, func(t *testing.T) {
			api := aclServer(t)
			c, _ := newTestClient(t, api)
			ctx := context.Background()

			entries, err := NewWorkspaceACL("user@example.com", level, false, true)
			require.NoError(t, err)
			res, err := c.UpdateWorkspaceACL(ctx, "ns", "ws", entries)
			require.NoError(t, err)
			require.Len(t, res.UsersUpdated, 1)

			acl, err := c.WorkspaceACL(ctx, "ns", "ws")
			require.NoError(t, err)
			grant, ok := acl.ACL["user@example.com"]
			require.True(t, ok)
			assert.Equal(t, level, grant.AccessLevel)
			assert.True(t, grant.CanCompute)
			assert.False(t, grant.CanShare)
		})
	}
}

func TestInvalidACLLevelMakesNoCall(t *testing.T) {
	api := aclServer(t)
	c, _ := newTestClient(t, api)

	_, err := NewWorkspaceACL("user@example.com", "ADMIN", false, false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, WorkspacePermissions, verr.Allowed)

	_, err = c.UpdateWorkspaceACL(context.Background(), "ns", "ws", []ACLEntry{{Email: "user@example.com", AccessLevel: "ADMIN"}})
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, api.TotalCalls())
}

func TestGetWorkspaceIsIdempotent(t *testing.T) {
	api := firecloudtest.NewAPI(t)
	api.JSON("GET /api/workspaces/ns/ws", http.StatusOK, map[string]any{
		"accessLevel": "OWNER",
		"workspace":   map[string]any{"namespace": "ns", "name": "ws", "bucketName": "fc-abc", "attributes": map[string]any{"description": "study"}},
	})
	c, _ := newTestClient(t, api)
	ctx := context.Background()

	first, err := c.Workspace(ctx, "ns", "ws")
	require.NoError(t, err)
	second, err := c.Workspace(ctx, "ns", "ws")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	bucket, err := c.WorkspaceBucket(ctx, "ns", "ws")
	require.NoError(t, err)
	assert.Equal(t, "fc-abc", bucket)
}

func TestWorkspacesFiltersByNamespace(t *testing.T) {
	api := firecloudtest.NewAPI(t)
	api.JSON("GET /api/workspaces", http.StatusOK, []map[string]any{
		{"workspace": map[string]string{"namespace": "ns", "name": "a"}},
		{"workspace": map[string]string{"namespace": "other", "name": "b"}},
		{"workspace": map[string]string{"namespace": "ns", "name": "c"}},
	})
	c, _ := newTestClient(t, api)

	list, err := c.Workspaces(context.Background(), "ns")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Workspace.Name)
	assert.Equal(t, "c", list[1].Workspace.Name)
}

func TestCreateWorkspaceSendsAuthorizationDomain(t *testing.T) {
	api := firecloudtest.NewAPI(t)
	var got map[string]any
	api.Handle("POST /api/workspaces", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		firecloudtest.WriteJSON(w, http.StatusCreated, map[string]string{"namespace": "ns", "name": "ws", "bucketName": "fc-1"})
	})
	c, _ := newTestClient(t, api)

	ws, err := c.CreateWorkspace(context.Background(), "ns", "ws", "lab-members")
	require.NoError(t, err)
	assert.Equal(t, "fc-1", ws.BucketName)
	assert.Equal(t, []any{map[string]any{"membersGroupName": "lab-members"}}, got["authorizationDomain"])
	assert.Equal(t, map[string]any{}, got["attributes"])
}

func TestDeleteWorkspaceAcknowledged(t *testing.T) {
	api := firecloudtest.NewAPI(t)
	api.JSON("DELETE /api/workspaces/ns/ws", http.StatusAccepted, nil)
	c, _ := newTestClient(t, api)

	require.NoError(t, c.DeleteWorkspace(context.Background(), "ns", "ws"))
	assert.Equal(t, 1, api.Calls("DELETE /api/workspaces/ns/ws"))
}

func TestWorkspaceBucketMissing(t *testing.T) {
	api := firecloudtest.NewAPI(t)
	api.JSON("GET /api/workspaces/ns/ws", http.StatusOK, map[string]any{"workspace": map[string]string{"namespace": "ns", "name": "ws"}})
	c, _ := newTestClient(t, api)

	_, err := c.WorkspaceBucket(context.Background(), "ns", "ws")
	assert.ErrorContains(t, err, "has no bucket")
}
