package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unity-portal/unity/internal/retry"
)

// memDriver keeps objects in memory. failures[op] makes the next n calls
// of op fail.
type memDriver struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	failures map[string]int
	calls    map[string]int
}

func newMemDriver() *memDriver {
	return &memDriver{
		objects:  map[string][]byte{},
		types:    map[string]string{},
		failures: map[string]int{},
		calls:    map[string]int{},
	}
}

func (d *memDriver) fail(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[op]++
	if d.failures[op] > 0 {
		d.failures[op]--
		return fmt.Errorf("%s: 503 backend unavailable", op)
	}
	return nil
}

func (d *memDriver) count(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

func (d *memDriver) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	if err := d.fail("list"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Object
	for name, data := range d.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, Object{Bucket: bucket, Name: name, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *memDriver) Attrs(ctx context.Context, bucket, name string) (*Object, error) {
	if err := d.fail("attrs"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.objects[name]
	if !ok {
		return nil, ErrNotExist
	}
	return &Object{Bucket: bucket, Name: name, Size: int64(len(data)), ContentType: d.types[name]}, nil
}

func (d *memDriver) Upload(ctx context.Context, bucket, name, contentType string, r io.Reader) (*Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := d.fail("upload"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[name] = data
	d.types[name] = contentType
	return &Object{Bucket: bucket, Name: name, Size: int64(len(data)), ContentType: contentType}, nil
}

func (d *memDriver) Copy(ctx context.Context, bucket, src, dst string) (*Object, error) {
	if err := d.fail("copy"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.objects[src]
	if !ok {
		return nil, ErrNotExist
	}
	d.objects[dst] = append([]byte(nil), data...)
	return &Object{Bucket: bucket, Name: dst, Size: int64(len(data))}, nil
}

func (d *memDriver) Delete(ctx context.Context, bucket, name string) error {
	if err := d.fail("delete"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[name]; !ok {
		return ErrNotExist
	}
	delete(d.objects, name)
	return nil
}

func (d *memDriver) Download(ctx context.Context, bucket, name string, w io.Writer) (int64, error) {
	if err := d.fail("download"); err != nil {
		return 0, err
	}
	d.mu.Lock()
	data, ok := d.objects[name]
	d.mu.Unlock()
	if !ok {
		return 0, ErrNotExist
	}
	n, err := io.Copy(w, bytes.NewReader(data))
	return n, err
}

func (d *memDriver) SignedURL(ctx context.Context, bucket, name string, ttl time.Duration) (string, error) {
	if err := d.fail("sign"); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s?X-Goog-Expires=%d", bucket, name, int(ttl.Seconds())), nil
}

func (d *memDriver) Close() error { return nil }

type staticResolver struct {
	bucket string
	err    error
	calls  int
}

func (r *staticResolver) WorkspaceBucket(ctx context.Context, namespace, name string) (string, error) {
	r.calls++
	return r.bucket, r.err
}

type opLog struct {
	mu  sync.Mutex
	ops []Op
}

func (l *opLog) RecordStorageOp(op Op) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func setupStore(t *testing.T, opts ...StoreOption) (*Store, *memDriver, *staticResolver) {
	t.Helper()
	driver := newMemDriver()
	resolver := &staticResolver{bucket: "fc-bucket"}
	return NewStore(driver, resolver, opts...), driver, resolver
}

func writeLocal(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestCreateAndDownloadFile(t *testing.T) {
	store, _, _ := setupStore(t)
	ctx := context.Background()
	src := writeLocal(t, "cluster.tsv", "cell\tcluster\nA\t1\n")

	obj, err := store.CreateFile(ctx, "ns", "ws", src, "outputs/run-1/cluster.tsv")
	require.NoError(t, err)
	assert.Equal(t, "fc-bucket", obj.Bucket)
	assert.Equal(t, int64(len("cell\tcluster\nA\t1\n")), obj.Size)

	dest := t.TempDir()
	path, err := store.DownloadFile(ctx, "ns", "ws", "outputs/run-1/cluster.tsv", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "outputs", "run-1", "cluster.tsv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cell\tcluster\nA\t1\n", string(data))
}

func TestDirectoryFilesNormalizesPrefix(t *testing.T) {
	store, driver, _ := setupStore(t)
	driver.objects["out/a.txt"] = []byte("a")
	driver.objects["out/b.txt"] = []byte("b")
	driver.objects["output/c.txt"] = []byte("c")

	objs, err := store.DirectoryFiles(context.Background(), "ns", "ws", "out")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "out/a.txt", objs[0].Name)
	assert.Equal(t, "out/b.txt", objs[1].Name)

	all, err := store.Files(context.Background(), "ns", "ws")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStorageRetryRecovers(t *testing.T) {
	log := &opLog{}
	store, driver, _ := setupStore(t, WithRecorder(log))
	driver.objects["a.txt"] = []byte("a")
	driver.failures["copy"] = 2

	obj, err := store.CopyFile(context.Background(), "ns", "ws", "a.txt", "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "b.txt", obj.Name)
	assert.Equal(t, 3, driver.count("copy"))

	require.Len(t, log.ops, 3)
	for i, op := range log.ops {
		assert.Equal(t, "copy_file", op.Name)
		assert.Equal(t, i+1, op.Attempt)
	}
	assert.NoError(t, log.ops[2].Err)
}

func TestStorageRetryExhaustedCollapsesMessage(t *testing.T) {
	store, driver, _ := setupStore(t)
	driver.objects["a.txt"] = []byte("a")
	driver.failures["delete"] = 10

	err := store.DeleteFile(context.Background(), "ns", "ws", "a.txt")
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "delete_file", serr.Op)
	assert.Equal(t, 3, serr.Attempts)
	assert.Equal(t, "delete: 503 backend unavailable", serr.Message)
	assert.Equal(t, "delete_file failed after 3 attempts: delete: 503 backend unavailable", err.Error())
	assert.Equal(t, 3, driver.count("delete"))
}

func TestStorageErrorsAreNotCategorized(t *testing.T) {
	store, driver, _ := setupStore(t)

	_, err := store.File(context.Background(), "ns", "ws", "missing.txt")
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 3, serr.Attempts, "not-found is retried like any other failure")
	assert.ErrorIs(t, err, ErrNotExist)
	assert.Equal(t, 3, driver.count("attrs"))
}

func TestStorageRetryIndependentOfResolver(t *testing.T) {
	store, driver, resolver := setupStore(t, WithRetryPolicy(retry.Policy{MaxAttempts: 4}))
	driver.failures["list"] = 3

	_, err := store.Files(context.Background(), "ns", "ws")
	require.NoError(t, err)
	assert.Equal(t, 4, driver.count("list"))
	assert.Equal(t, 1, resolver.calls)
}

func TestResolverFailureSkipsDriver(t *testing.T) {
	store, driver, resolver := setupStore(t)
	resolver.err = errors.New("workspace not found")

	_, err := store.SignedURL(context.Background(), "ns", "ws", "a.txt", 0)
	assert.ErrorContains(t, err, "workspace not found")
	assert.Zero(t, driver.count("sign"))
}

func TestSignedURLDefaultTTL(t *testing.T) {
	store, _, _ := setupStore(t)

	url, err := store.SignedURL(context.Background(), "ns", "ws", "outputs/plot.png", 0)
	require.NoError(t, err)
	assert.Contains(t, url, "fc-bucket/outputs/plot.png")
	assert.Contains(t, url, "X-Goog-Expires=900")
}

func TestConcurrentStorageCallsCountSeparately(t *testing.T) {
	store, driver, _ := setupStore(t)
	driver.failures["sign"] = 1000

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.SignedURL(context.Background(), "ns", "ws", fmt.Sprintf("f%d", i), time.Minute)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		var serr *StorageError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, 3, serr.Attempts)
	}
	assert.Equal(t, 24, driver.count("sign"))
}

func TestCreateFileMissingSource(t *testing.T) {
	store, driver, resolver := setupStore(t)

	_, err := store.CreateFile(context.Background(), "ns", "ws", filepath.Join(t.TempDir(), "nope.txt"), "nope.txt")
	assert.Error(t, err)
	assert.Zero(t, driver.count("upload"))
	assert.Zero(t, resolver.calls)
}

func TestDownloadFailureRemovesPartialFile(t *testing.T) {
	store, driver, _ := setupStore(t)
	driver.objects["a/b.txt"] = []byte("data")
	driver.failures["download"] = 3

	dest := t.TempDir()
	_, err := store.DownloadFile(context.Background(), "ns", "ws", "a/b.txt", dest)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dest, "a", "b.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadRejectsNamesOutsideDestination(t *testing.T) {
	for _, object := range []string{"../escaped.txt", "a/../../escaped.txt", "a/.."} {
		t.Run(object, func(t *testing.T) {
			store, driver, resolver := setupStore(t)
			driver.objects[object] = []byte("payload")

			root := t.TempDir()
			dest := filepath.Join(root, "downloads")
			path, err := store.DownloadFile(context.Background(), "ns", "ws", object, dest)
			require.ErrorIs(t, err, ErrUnsafeObjectName)
			assert.Empty(t, path)
			assert.Zero(t, driver.count("download"))
			assert.Zero(t, resolver.calls)

			_, statErr := os.Stat(filepath.Join(root, "escaped.txt"))
			assert.True(t, os.IsNotExist(statErr))
			_, statErr = os.Stat(dest)
			assert.True(t, os.IsNotExist(statErr), "nothing is created for a rejected name")
		})
	}
}

func TestDownloadKeepsNestedNamesInside(t *testing.T) {
	store, driver, _ := setupStore(t)
	driver.objects["a/./b/../c.txt"] = []byte("payload")

	dest := t.TempDir()
	path, err := store.DownloadFile(context.Background(), "ns", "ws", "a/./b/../c.txt", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "a", "c.txt"), path)
}
