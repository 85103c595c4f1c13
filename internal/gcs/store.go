package gcs

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/unity-portal/unity/internal/retry"
)

// DefaultSignedURLTTL is the lifetime of download links.
const DefaultSignedURLTTL = 15 * time.Minute

// ErrUnsafeObjectName is returned when an object name would be written
// outside the download directory.
var ErrUnsafeObjectName = errors.New("object name escapes the download directory")

// WorkspaceResolver looks up the bucket behind a workspace.
// *firecloud.Client satisfies it.
type WorkspaceResolver interface {
	WorkspaceBucket(ctx context.Context, namespace, name string) (string, error)
}

// Op describes one attempt of a storage operation.
type Op struct {
	Name     string
	Bucket   string
	Object   string
	Attempt  int
	Duration time.Duration
	Err      error
}

// OpRecorder receives every storage attempt.
type OpRecorder interface {
	RecordStorageOp(op Op)
}

// StorageError is the terminal failure of a storage operation. The driver's
// message is kept as-is; no distinction is made between error kinds.
type StorageError struct {
	Op       string
	Message  string
	Attempts int
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %s", e.Op, e.Attempts, e.Message)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store runs object operations against workspace buckets.
type Store struct {
	driver   Driver
	resolver WorkspaceResolver
	retry    retry.Policy
	logger   zerolog.Logger
	recorder OpRecorder
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRetryPolicy replaces the default three-attempt policy.
func WithRetryPolicy(p retry.Policy) StoreOption {
	return func(s *Store) { s.retry = p }
}

func WithLogger(l zerolog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

func WithRecorder(r OpRecorder) StoreOption {
	return func(s *Store) { s.recorder = r }
}

// NewStore binds a driver to a bucket resolver.
func NewStore(driver Driver, resolver WorkspaceResolver, opts ...StoreOption) *Store {
	s := &Store{
		driver:   driver,
		resolver: resolver,
		retry:    retry.Default(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the driver.
func (s *Store) Close() error { return s.driver.Close() }

// Bucket returns the bucket of a workspace. Lookups are retried by the API
// executor, not by the storage dispatcher.
func (s *Store) Bucket(ctx context.Context, namespace, name string) (string, error) {
	bucket, err := s.resolver.WorkspaceBucket(ctx, namespace, name)
	if err != nil {
		return "", fmt.Errorf("resolving bucket of %s/%s: %w", namespace, name, err)
	}
	return bucket, nil
}

// Files lists every object in the workspace bucket.
func (s *Store) Files(ctx context.Context, namespace, name string) ([]Object, error) {
	return s.list(ctx, namespace, name, "")
}

// DirectoryFiles lists the objects under directory. A trailing slash is
// added so that "out" does not match "output/...".
func (s *Store) DirectoryFiles(ctx context.Context, namespace, name, directory string) ([]Object, error) {
	if !strings.HasSuffix(directory, "/") {
		directory += "/"
	}
	return s.list(ctx, namespace, name, directory)
}

func (s *Store) list(ctx context.Context, namespace, name, prefix string) ([]Object, error) {
	bucket, err := s.Bucket(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	var objs []Object
	err = s.executeWithRetry(ctx, "list_files", bucket, prefix, func() error {
		var lerr error
		objs, lerr = s.driver.List(ctx, bucket, prefix)
		return lerr
	})
	return objs, err
}

// File fetches the metadata of one object.
func (s *Store) File(ctx context.Context, namespace, name, object string) (*Object, error) {
	bucket, err := s.Bucket(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	var obj *Object
	err = s.executeWithRetry(ctx, "get_file", bucket, object, func() error {
		var aerr error
		obj, aerr = s.driver.Attrs(ctx, bucket, object)
		return aerr
	})
	return obj, err
}

// CreateFile uploads the local file at path as object. The content type is
// guessed from the extension.
func (s *Store) CreateFile(ctx context.Context, namespace, name, path, object string) (*Object, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("reading upload source: %w", err)
	}
	bucket, err := s.Bucket(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))

	var obj *Object
	err = s.executeWithRetry(ctx, "create_file", bucket, object, func() error {
		f, err := os.Open(path)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()
		var uerr error
		obj, uerr = s.driver.Upload(ctx, bucket, object, contentType, f)
		return uerr
	})
	return obj, err
}

// CopyFile copies object to destination within the same bucket.
func (s *Store) CopyFile(ctx context.Context, namespace, name, object, destination string) (*Object, error) {
	bucket, err := s.Bucket(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	var obj *Object
	err = s.executeWithRetry(ctx, "copy_file", bucket, object, func() error {
		var cerr error
		obj, cerr = s.driver.Copy(ctx, bucket, object, destination)
		return cerr
	})
	return obj, err
}

// DeleteFile removes one object.
func (s *Store) DeleteFile(ctx context.Context, namespace, name, object string) error {
	bucket, err := s.Bucket(ctx, namespace, name)
	if err != nil {
		return err
	}
	return s.executeWithRetry(ctx, "delete_file", bucket, object, func() error {
		return s.driver.Delete(ctx, bucket, object)
	})
}

// DownloadFile writes object under destDir, creating the directories its
// name implies, and returns the local path.
func (s *Store) DownloadFile(ctx context.Context, namespace, name, object, destDir string) (string, error) {
	dest, err := localPath(destDir, object)
	if err != nil {
		return "", err
	}
	bucket, err := s.Bucket(ctx, namespace, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}

	err = s.executeWithRetry(ctx, "download_file", bucket, object, func() error {
		f, err := os.Create(dest)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := s.driver.Download(ctx, bucket, object, f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}

// localPath maps object to a file under destDir. Names that would resolve
// outside destDir are rejected.
func localPath(destDir, object string) (string, error) {
	dest := filepath.Join(destDir, filepath.FromSlash(object))
	rel, err := filepath.Rel(filepath.Clean(destDir), dest)
	if err != nil || rel == "." || filepath.IsAbs(rel) ||
		rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeObjectName, object)
	}
	return dest, nil
}

// SignedURL returns a time-limited download link for object. A ttl of zero
// means DefaultSignedURLTTL.
func (s *Store) SignedURL(ctx context.Context, namespace, name, object string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	bucket, err := s.Bucket(ctx, namespace, name)
	if err != nil {
		return "", err
	}
	var url string
	err = s.executeWithRetry(ctx, "generate_signed_url", bucket, object, func() error {
		var serr error
		url, serr = s.driver.SignedURL(ctx, bucket, object, ttl)
		return serr
	})
	return url, err
}

// executeWithRetry runs fn under the store's policy. The attempt counter
// belongs to this call alone.
func (s *Store) executeWithRetry(ctx context.Context, op, bucket, object string, fn func() error) error {
	attempt := 0

	wrapped := func() error {
		attempt++
		start := time.Now()
		err := fn()
		s.observe(Op{Name: op, Bucket: bucket, Object: object, Attempt: attempt, Duration: time.Since(start), Err: err})
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Info().
			Err(err).
			Str("op", op).
			Str("bucket", bucket).
			Str("object", object).
			Int("attempt", attempt).
			Msg("storage call failed, retrying")
	}

	err := backoff.RetryNotify(wrapped, s.retry.BackOff(ctx), notify)
	if err == nil {
		return nil
	}
	serr := &StorageError{Op: op, Message: err.Error(), Attempts: attempt, Err: err}
	s.logger.Error().
		Str("op", op).
		Str("bucket", bucket).
		Int("attempts", attempt).
		Str("error", serr.Message).
		Msg("retry count exceeded")
	return serr
}

func (s *Store) observe(op Op) {
	if op.Err != nil {
		s.logger.Debug().Err(op.Err).Str("op", op.Name).Int("attempt", op.Attempt).Msg("storage call")
	} else {
		s.logger.Debug().Str("op", op.Name).Int("attempt", op.Attempt).Msg("storage call")
	}
	if s.recorder != nil {
		s.recorder.RecordStorageOp(op)
	}
}
