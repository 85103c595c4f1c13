// Package integration_test exercises a unity data directory end-to-end:
// stored users and their sealed credentials, token reuse across restarts,
// workspace storage through the scoped resolver, and the audit chain.
//
// These tests use real SQLite databases and key files in temp directories.
// The orchestration API and token endpoint are local test servers; Cloud
// Storage is an in-memory driver.
package integration_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/unity-portal/unity/internal/audit"
	"github.com/unity-portal/unity/internal/config"
	"github.com/unity-portal/unity/internal/core"
	"github.com/unity-portal/unity/internal/firecloud/firecloudtest"
	"github.com/unity-portal/unity/internal/gcs"
	"github.com/unity-portal/unity/internal/identity"
	"github.com/unity-portal/unity/internal/scope"
)

const serviceEmail = "portal@scp-it.iam.gserviceaccount.com"

// memDriver keeps objects in memory, keyed by bucket/name.
type memDriver struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemDriver() *memDriver { return &memDriver{objects: map[string][]byte{}} }

func (d *memDriver) obj(bucket, name string) gcs.Object {
	return gcs.Object{Bucket: bucket, Name: name, Size: int64(len(d.objects[bucket+"/"+name]))}
}

func (d *memDriver) List(_ context.Context, bucket, prefix string) ([]gcs.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []gcs.Object
	for key := range d.objects {
		b, name, _ := strings.Cut(key, "/")
		if b == bucket && strings.HasPrefix(name, prefix) {
			out = append(out, d.obj(b, name))
		}
	}
	return out, nil
}

func (d *memDriver) Attrs(_ context.Context, bucket, name string) (*gcs.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[bucket+"/"+name]; !ok {
		return nil, gcs.ErrNotExist
	}
	o := d.obj(bucket, name)
	return &o, nil
}

func (d *memDriver) Upload(_ context.Context, bucket, name, contentType string, r io.Reader) (*gcs.Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[bucket+"/"+name] = data
	o := d.obj(bucket, name)
	o.ContentType = contentType
	return &o, nil
}

func (d *memDriver) Copy(_ context.Context, bucket, src, dst string) (*gcs.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.objects[bucket+"/"+src]
	if !ok {
		return nil, gcs.ErrNotExist
	}
	d.objects[bucket+"/"+dst] = bytes.Clone(data)
	o := d.obj(bucket, dst)
	return &o, nil
}

func (d *memDriver) Delete(_ context.Context, bucket, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.objects, bucket+"/"+name)
	return nil
}

func (d *memDriver) Download(_ context.Context, bucket, name string, w io.Writer) (int64, error) {
	d.mu.Lock()
	data, ok := d.objects[bucket+"/"+name]
	d.mu.Unlock()
	if !ok {
		return 0, gcs.ErrNotExist
	}
	n, err := w.Write(data)
	return int64(n), err
}

func (d *memDriver) SignedURL(_ context.Context, bucket, name string, ttl time.Duration) (string, error) {
	return "https://storage.example/" + bucket + "/" + name + "?ttl=" + ttl.String(), nil
}

func (d *memDriver) Close() error { return nil }

type harness struct {
	api    *firecloudtest.API
	tokens *firecloudtest.TokenServer
	cfg    *config.Config
	driver *memDriver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := firecloudtest.NewAPI(t)
	tokens := firecloudtest.NewTokenServer(t)

	keyPath := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(keyPath, firecloudtest.ServiceAccountKey(t, serviceEmail, tokens.URL), 0600); err != nil {
		t.Fatalf("writing key: %v", err)
	}

	return &harness{
		api:    api,
		tokens: tokens,
		driver: newMemDriver(),
		cfg: &config.Config{
			APIRoot:           api.URL,
			Project:           "scp-it",
			ServiceAccountKey: keyPath,
			OAuthClientID:     "client-id",
			OAuthClientSecret: "client-secret",
			TokenURL:          tokens.URL,
			SecretKeyBase:     "integration-secret",
			DataDir:           filepath.Join(t.TempDir(), "unity"),
			LogLevel:          "info",
			LogFormat:         "json",
			MaxAttempts:       3,
			Backoff:           "none",
			Namespaces:        []string{"scp-it"},
			ACLWorkers:        2,
			HealthServices:    []string{"Rawls"},
			SignedURLTTL:      10 * time.Minute,
			HTTPTimeout:       5 * time.Second,
		},
	}
}

func (h *harness) open(t *testing.T) *core.Engine {
	t.Helper()
	engine, err := core.Open(h.cfg, core.WithLogger(zerolog.Nop()), core.WithStorageDriver(h.driver))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return engine
}

// TestUserTokenSurvivesRestart stores a user, refreshes their token once and
// checks a reopened engine reuses the persisted token.
func TestUserTokenSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	h.tokens.RefreshToken = "1//persisted"
	h.api.JSON("GET /register", http.StatusOK, map[string]any{})
	ctx := context.Background()

	engine := h.open(t)
	if _, err := engine.Users.AddUser(identity.AddUserInput{Email: "Researcher@Example.com", FullName: "R", RefreshToken: "1//persisted"}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	ok, err := engine.EnsureRegistered(ctx, "researcher@example.com")
	if err != nil || !ok {
		t.Fatalf("EnsureRegistered = %v, %v", ok, err)
	}
	engine.Close()

	engine2 := h.open(t)
	defer engine2.Close()

	client, err := engine2.UserClient(ctx, "researcher@example.com", "")
	if err != nil {
		t.Fatalf("user client: %v", err)
	}
	if _, err := client.Registered(ctx); err != nil {
		t.Fatalf("registered: %v", err)
	}
	if got := h.tokens.Issued(); got != 1 {
		t.Errorf("tokens issued = %d, want 1 (stored token reused)", got)
	}

	u, err := engine2.Users.GetUser("researcher@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.RegisteredForFireCloud {
		t.Error("registration flag not persisted")
	}

	rt, err := engine2.Users.RefreshToken("researcher@example.com")
	if err != nil || rt != "1//persisted" {
		t.Errorf("refresh token = %q, %v", rt, err)
	}
}

// TestWrongSecretKeyBaseRejected checks the data directory is bound to the
// secret it was created with.
func TestWrongSecretKeyBaseRejected(t *testing.T) {
	h := newHarness(t)
	h.open(t).Close()

	h.cfg.SecretKeyBase = "not-the-original"
	if _, err := core.Open(h.cfg, core.WithLogger(zerolog.Nop())); err == nil {
		t.Fatal("expected open with a different secret to fail")
	}
}

// TestWorkspaceFileLifecycle uploads, copies, downloads, signs and deletes a
// file in a workspace bucket.
func TestWorkspaceFileLifecycle(t *testing.T) {
	h := newHarness(t)
	h.api.JSON("GET /api/workspaces/scp-it/study", http.StatusOK, map[string]any{
		"workspace": map[string]string{"namespace": "scp-it", "name": "study", "bucketName": "fc-study"},
	})
	ctx := context.Background()

	engine := h.open(t)
	defer engine.Close()
	store, err := engine.Storage(ctx)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}

	src := filepath.Join(t.TempDir(), "cells.tsv")
	if err := os.WriteFile(src, []byte("NAME\tcluster\nc1\ta\n"), 0644); err != nil {
		t.Fatal(err)
	}

	obj, err := store.CreateFile(ctx, "scp-it", "study", src, "data/cells.tsv")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if obj.Bucket != "fc-study" || obj.Size != 18 {
		t.Errorf("uploaded %+v", obj)
	}

	if _, err := store.CopyFile(ctx, "scp-it", "study", "data/cells.tsv", "backup/cells.tsv"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	files, err := store.DirectoryFiles(ctx, "scp-it", "study", "backup")
	if err != nil || len(files) != 1 {
		t.Fatalf("directory files = %v, %v", files, err)
	}

	path, err := store.DownloadFile(ctx, "scp-it", "study", "backup/cells.tsv", filepath.Join(h.cfg.DataDir, "downloads"))
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	got, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(got), "NAME\tcluster") {
		t.Errorf("downloaded %q", got)
	}

	url, err := store.SignedURL(ctx, "scp-it", "study", "data/cells.tsv", h.cfg.SignedURLTTL)
	if err != nil || !strings.Contains(url, "ttl=10m0s") {
		t.Errorf("signed url = %q, %v", url, err)
	}

	if err := store.DeleteFile(ctx, "scp-it", "study", "data/cells.tsv"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.File(ctx, "scp-it", "study", "data/cells.tsv"); err == nil {
		t.Error("deleted file still present")
	}

	if _, err := store.Files(ctx, "someone-else", "study"); !scope.IsScopeViolation(err) {
		t.Errorf("out-of-scope namespace: err = %v", err)
	}
}

// TestAuditChainAcrossRestarts checks the hash chain stays valid when a
// second engine appends to it.
func TestAuditChainAcrossRestarts(t *testing.T) {
	h := newHarness(t)
	h.api.JSON("GET /api/workspaces", http.StatusOK, []any{})
	h.api.JSON("GET /status", http.StatusOK, map[string]any{
		"ok": true, "systems": map[string]any{"Rawls": map[string]bool{"ok": true}},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		engine := h.open(t)
		portal, err := engine.Portal(ctx)
		if err != nil {
			t.Fatalf("portal: %v", err)
		}
		if _, err := portal.Workspaces(ctx, "scp-it"); err != nil {
			t.Fatalf("workspaces: %v", err)
		}
		if _, err := engine.CheckAPIHealth(ctx); err != nil {
			t.Fatalf("health: %v", err)
		}
		engine.Close()
	}

	engine := h.open(t)
	defer engine.Close()

	valid, count, err := audit.Verify(engine.AuditDB)
	if err != nil || !valid {
		t.Fatalf("verify = %v, %d, %v", valid, count, err)
	}
	if count < 6 {
		t.Errorf("records = %d, want at least 6", count)
	}

	history, err := engine.HealthHistory(10)
	if err != nil || len(history) != 2 {
		t.Errorf("health history = %d, %v", len(history), err)
	}

	if _, err := engine.AuditDB.Exec("UPDATE audit_log SET detail = 'tampered' WHERE id = 1"); err != nil {
		t.Fatal(err)
	}
	if valid, _, _ := audit.Verify(engine.AuditDB); valid {
		t.Error("tampered chain verified")
	}
}
