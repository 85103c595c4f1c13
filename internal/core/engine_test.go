package core

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unity-portal/unity/internal/audit"
	"github.com/unity-portal/unity/internal/config"
	"github.com/unity-portal/unity/internal/firecloud"
	"github.com/unity-portal/unity/internal/firecloud/firecloudtest"
	"github.com/unity-portal/unity/internal/gcs"
	"github.com/unity-portal/unity/internal/identity"
	"github.com/unity-portal/unity/internal/scope"
	"github.com/unity-portal/unity/internal/vault"
)

const serviceEmail = "portal@scp-test.iam.gserviceaccount.com"

type testEnv struct {
	api    *firecloudtest.API
	tokens *firecloudtest.TokenServer
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	api := firecloudtest.NewAPI(t)
	tokens := firecloudtest.NewTokenServer(t)

	keyPath := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(keyPath, firecloudtest.ServiceAccountKey(t, serviceEmail, tokens.URL), 0600))

	return &testEnv{
		api:    api,
		tokens: tokens,
		cfg: &config.Config{
			APIRoot:           api.URL,
			Project:           "scp-test",
			ServiceAccountKey: keyPath,
			OAuthClientID:     "client-id",
			OAuthClientSecret: "client-secret",
			TokenURL:          tokens.URL,
			SecretKeyBase:     "test-secret-key-base",
			DataDir:           filepath.Join(t.TempDir(), "data"),
			LogLevel:          "debug",
			LogFormat:         "json",
			MaxAttempts:       3,
			Backoff:           "none",
			ACLWorkers:        2,
			HealthServices:    []string{"Rawls", "Sam"},
			SignedURLTTL:      15 * time.Minute,
			HTTPTimeout:       5 * time.Second,
		},
	}
}

func (env *testEnv) open(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{WithLogger(zerolog.Nop())}, opts...)
	engine, err := Open(env.cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestOpenCreatesDataDir(t *testing.T) {
	env := newTestEnv(t)
	engine := env.open(t)

	for _, name := range []string{"unity.db", "unity-audit.db", vault.KeyFileName, "downloads"} {
		_, err := os.Stat(filepath.Join(env.cfg.DataDir, name))
		assert.NoError(t, err, name)
	}
	assert.NotNil(t, engine.Users)
	assert.NotNil(t, engine.Sealer)
	engine.Close()

	env.cfg.SecretKeyBase = "a-different-secret"
	_, err := Open(env.cfg, WithLogger(zerolog.Nop()))
	assert.ErrorIs(t, err, vault.ErrWrongSecret)
}

func TestOpenWithoutSecretKeyBase(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.SecretKeyBase = ""
	engine := env.open(t)

	assert.Nil(t, engine.Users)
	_, err := engine.UserClient(context.Background(), "a@example.com", "")
	assert.ErrorIs(t, err, ErrNoSecretKeyBase)
	_, err = engine.EnsureRegistered(context.Background(), "a@example.com")
	assert.ErrorIs(t, err, ErrNoSecretKeyBase)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.MaxAttempts = 0
	_, err := Open(env.cfg, WithLogger(zerolog.Nop()))
	assert.Error(t, err)
}

func TestPortalIsSharedAndAudited(t *testing.T) {
	env := newTestEnv(t)
	env.api.JSON("GET /api/workspaces", http.StatusOK, []any{})
	engine := env.open(t)
	ctx := context.Background()

	p1, err := engine.Portal(ctx)
	require.NoError(t, err)
	p2, err := engine.Portal(ctx)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, serviceEmail, p1.Issuer())
	assert.Equal(t, "scp-test", p1.Project())

	for i := 0; i < 2; i++ {
		_, err := p1.Workspaces(ctx, "scp-test")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, env.tokens.Issued(), "token reused across calls")
	assert.Equal(t, []string{"Bearer token-1", "Bearer token-1"}, env.api.AuthHeaders())

	calls, err := audit.Recent(engine.AuditDB, audit.EventAPICall, 10)
	require.NoError(t, err)
	assert.Len(t, calls, 2)
	refreshes, err := audit.Recent(engine.AuditDB, audit.EventTokenRefreshed, 10)
	require.NoError(t, err)
	require.Len(t, refreshes, 1)
	assert.Equal(t, serviceEmail, refreshes[0].Issuer)
}

func TestPortalMissingKeyFile(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.ServiceAccountKey = filepath.Join(t.TempDir(), "absent.json")
	engine := env.open(t)

	_, err := engine.Portal(context.Background())
	assert.Error(t, err)
	_, err = engine.Storage(context.Background())
	assert.Error(t, err)
}

func TestPortalRecoversAfterFailedBuild(t *testing.T) {
	env := newTestEnv(t)
	keyPath := env.cfg.ServiceAccountKey
	key, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	require.NoError(t, os.Remove(keyPath))
	env.api.JSON("GET /api/workspaces", http.StatusOK, []any{})
	engine := env.open(t)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = engine.Portal(ctx)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(keyPath, key, 0600))
	p, err := engine.Portal(ctx)
	require.NoError(t, err, "a failed build is not cached")

	cancel()
	_, err = p.Workspaces(context.Background(), "scp-test")
	require.NoError(t, err, "the minter does not keep the first caller's context")
	assert.Equal(t, 1, env.tokens.Issued())

	again, err := engine.Portal(context.Background())
	require.NoError(t, err)
	assert.Same(t, p, again)
}

func TestUserClientPersistsRefreshedToken(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.RefreshToken = "1//user-refresh"
	env.api.JSON("GET /register", http.StatusOK, map[string]any{"enabled": map[string]bool{"google": true}})
	engine := env.open(t)
	ctx := context.Background()

	_, err := engine.Users.AddUser(identity.AddUserInput{Email: "a@example.com", RefreshToken: "1//user-refresh"})
	require.NoError(t, err)

	client, err := engine.UserClient(ctx, "a@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, firecloud.IdentityUser, client.Identity())
	ok, err := client.Registered(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	u, err := engine.Users.GetUser("a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "token-1", u.Token.Value)

	again, err := engine.UserClient(ctx, "a@example.com", "other-project")
	require.NoError(t, err)
	assert.Equal(t, "other-project", again.Project())
	_, err = again.Registered(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, env.tokens.Issued(), "stored token reused by a new client")
	assert.Equal(t, []string{"Bearer token-1", "Bearer token-1"}, env.api.AuthHeaders())
}

func TestUserClientRevokedRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.RefreshToken = "1//current"
	engine := env.open(t)
	ctx := context.Background()

	_, err := engine.Users.AddUser(identity.AddUserInput{Email: "b@example.com", RefreshToken: "1//revoked"})
	require.NoError(t, err)

	client, err := engine.UserClient(ctx, "b@example.com", "")
	require.NoError(t, err)
	_, err = client.Registered(ctx)
	assert.ErrorIs(t, err, firecloud.ErrNoToken)
	assert.Equal(t, 0, env.api.TotalCalls())
}

func TestEnsureRegistered(t *testing.T) {
	env := newTestEnv(t)
	var registered atomic.Bool
	env.api.Handle("GET /register", func(w http.ResponseWriter, r *http.Request) {
		if !registered.Load() {
			firecloudtest.WriteJSON(w, http.StatusNotFound, map[string]string{"message": "not registered"})
			return
		}
		firecloudtest.WriteJSON(w, http.StatusOK, map[string]any{})
	})
	engine := env.open(t)
	ctx := context.Background()

	_, err := engine.Users.AddUser(identity.AddUserInput{Email: "c@example.com", RefreshToken: "1//c"})
	require.NoError(t, err)

	ok, err := engine.EnsureRegistered(ctx, "c@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, env.api.Calls("GET /register"), "not-found is retried to the bound")

	registered.Store(true)
	ok, err = engine.EnsureRegistered(ctx, "c@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, env.api.Calls("GET /register"))

	ok, err = engine.EnsureRegistered(ctx, "c@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, env.api.Calls("GET /register"), "cached flag skips the API")

	u, err := engine.Users.GetUser("c@example.com")
	require.NoError(t, err)
	assert.True(t, u.RegisteredForFireCloud)
}

func TestCheckAPIHealth(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   HealthState
	}{
		{
			name:   "all up",
			status: http.StatusOK,
			body: map[string]any{"ok": true, "systems": map[string]any{
				"Rawls": map[string]bool{"ok": true}, "Sam": map[string]bool{"ok": true},
			}},
			want: HealthOK,
		},
		{
			name:   "optional subsystem down",
			status: http.StatusOK,
			body: map[string]any{"ok": false, "systems": map[string]any{
				"Rawls": map[string]bool{"ok": true}, "Sam": map[string]bool{"ok": true}, "Agora": map[string]bool{"ok": false},
			}},
			want: HealthDegraded,
		},
		{
			name:   "required subsystem down",
			status: http.StatusInternalServerError,
			body: map[string]any{"ok": false, "systems": map[string]any{
				"Rawls": map[string]bool{"ok": true}, "Sam": map[string]bool{"ok": false},
			}},
			want: HealthDown,
		},
		{
			name:   "no report",
			status: http.StatusBadGateway,
			body:   nil,
			want:   HealthDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.api.JSON("GET /status", tt.status, tt.body)
			engine := env.open(t)

			report, err := engine.CheckAPIHealth(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, report.State)
			assert.Equal(t, 1, env.api.Calls("GET /status"), "status is never retried")

			history, err := engine.HealthHistory(5)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, tt.want == HealthDown, history[0].State == HealthDown)

			recs, err := audit.Recent(engine.AuditDB, audit.EventHealthCheck, 5)
			require.NoError(t, err)
			assert.Len(t, recs, 1)
		})
	}
}

func TestHealthHistoryRejectsCorruptRow(t *testing.T) {
	env := newTestEnv(t)
	engine := env.open(t)

	_, err := engine.MetadataDB.Exec(
		"INSERT INTO health_checks (checked_at, ok, systems) VALUES (?, ?, ?)",
		time.Now().UTC().Format(time.RFC3339Nano), 1, "{not json",
	)
	require.NoError(t, err)

	_, err = engine.HealthHistory(5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "systems")

	_, err = engine.MetadataDB.Exec("DELETE FROM health_checks")
	require.NoError(t, err)
	_, err = engine.MetadataDB.Exec(
		"INSERT INTO health_checks (checked_at, ok, systems) VALUES (?, ?, ?)", "yesterday", 1, "{}",
	)
	require.NoError(t, err)
	_, err = engine.HealthHistory(5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checked_at")
}

func TestProjectWorkspaceComputes(t *testing.T) {
	env := newTestEnv(t)
	env.api.JSON("GET /api/workspaces", http.StatusOK, []map[string]any{
		{"workspace": map[string]string{"namespace": "scp-test", "name": "ws-a"}},
		{"workspace": map[string]string{"namespace": "scp-test", "name": "ws-b"}},
		{"workspace": map[string]string{"namespace": "elsewhere", "name": "ws-c"}},
	})
	env.api.JSON("GET /api/workspaces/scp-test/ws-a/acl", http.StatusOK, map[string]any{
		"acl": map[string]any{"u@example.com": map[string]any{"accessLevel": "WRITER", "canCompute": true}},
	})
	env.api.JSON("GET /api/workspaces/scp-test/ws-b/acl", http.StatusOK, map[string]any{
		"acl": map[string]any{},
	})
	engine := env.open(t)

	computes, err := engine.ProjectWorkspaceComputes(context.Background(), "u@example.com")
	require.NoError(t, err)
	require.Len(t, computes, 2)

	byName := map[string]firecloud.WorkspaceCompute{}
	for _, c := range computes {
		byName[c.Workspace] = c
	}
	assert.True(t, byName["ws-a"].CanCompute)
	assert.Equal(t, "WRITER", byName["ws-a"].AccessLevel)
	assert.False(t, byName["ws-b"].CanCompute)
	assert.Equal(t, firecloud.AccessNoAccess, byName["ws-b"].AccessLevel)
}

func TestProjectWorkspaceComputesOutOfScope(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Namespaces = []string{"another-project"}
	engine := env.open(t)

	_, err := engine.ProjectWorkspaceComputes(context.Background(), "u@example.com")
	assert.True(t, scope.IsScopeViolation(err))
	assert.Equal(t, 0, env.api.TotalCalls())
}

type listDriver struct {
	gcs.Driver
	buckets []string
}

func (d *listDriver) List(_ context.Context, bucket, prefix string) ([]gcs.Object, error) {
	d.buckets = append(d.buckets, bucket)
	return []gcs.Object{{Bucket: bucket, Name: prefix + "cells.tsv"}}, nil
}

func (d *listDriver) Close() error { return nil }

func TestStorageIsScoped(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Namespaces = []string{"scp-test"}
	env.api.JSON("GET /api/workspaces/scp-test/study", http.StatusOK, map[string]any{
		"workspace": map[string]string{"namespace": "scp-test", "name": "study", "bucketName": "fc-123"},
	})
	driver := &listDriver{}
	engine := env.open(t, WithStorageDriver(driver))
	ctx := context.Background()

	store, err := engine.Storage(ctx)
	require.NoError(t, err)
	again, err := engine.Storage(ctx)
	require.NoError(t, err)
	assert.Same(t, store, again)

	_, err = store.Files(ctx, "other", "study")
	assert.True(t, scope.IsScopeViolation(err))
	assert.Equal(t, 0, env.api.TotalCalls())

	files, err := store.Files(ctx, "scp-test", "study")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, []string{"fc-123"}, driver.buckets)

	recs, err := audit.Recent(engine.AuditDB, audit.EventStorageCall, 5)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRefreshExpiringTokens(t *testing.T) {
	env := newTestEnv(t)
	engine := env.open(t)
	ctx := context.Background()

	for _, email := range []string{"fresh@example.com", "stale@example.com"} {
		_, err := engine.Users.AddUser(identity.AddUserInput{Email: email, RefreshToken: "1//" + email})
		require.NoError(t, err)
	}
	now := time.Now().UTC()
	require.NoError(t, engine.Users.SaveAccessToken("fresh@example.com", firecloud.AccessToken{
		Value: "still-good", IssuedAt: now, ExpiresAt: now.Add(2 * time.Hour),
	}))

	n, err := engine.RefreshExpiringTokens(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, err := engine.Users.GetUser("stale@example.com")
	require.NoError(t, err)
	assert.Equal(t, "token-1", stale.Token.Value)

	env.tokens.FailAll(true)
	require.NoError(t, engine.Users.SaveAccessToken("stale@example.com", firecloud.AccessToken{}))
	n, err = engine.RefreshExpiringTokens(ctx, 10*time.Minute)
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, firecloud.ErrNoToken))
}
