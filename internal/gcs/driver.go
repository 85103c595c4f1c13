// Package gcs is the object-storage side of the portal client: workspace
// buckets are resolved through the FireCloud API and every object operation
// is retried by the Store's own dispatcher, independently of the API
// executor.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ErrNotExist matches driver failures for missing objects.
var ErrNotExist = storage.ErrObjectNotExist

// Object is the metadata of one stored object.
type Object struct {
	Bucket      string    `json:"bucket"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
	MD5         []byte    `json:"md5,omitempty"`
	Generation  int64     `json:"generation,omitempty"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

// Driver is the minimal object-storage surface the Store needs.
type Driver interface {
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
	Attrs(ctx context.Context, bucket, name string) (*Object, error)
	Upload(ctx context.Context, bucket, name, contentType string, r io.Reader) (*Object, error)
	Copy(ctx context.Context, bucket, src, dst string) (*Object, error)
	Delete(ctx context.Context, bucket, name string) error
	Download(ctx context.Context, bucket, name string, w io.Writer) (int64, error)
	SignedURL(ctx context.Context, bucket, name string, ttl time.Duration) (string, error)
	Close() error
}

// GCSDriver implements Driver on Google Cloud Storage.
type GCSDriver struct {
	client *storage.Client
}

// NewGCSDriver opens a storage client. keyJSON is the service-account key;
// when empty, application-default credentials are used. Signed URLs need a
// key that carries a private key.
func NewGCSDriver(ctx context.Context, keyJSON []byte, opts ...option.ClientOption) (*GCSDriver, error) {
	if len(keyJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(keyJSON))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSDriver{client: client}, nil
}

func (d *GCSDriver) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	it := d.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, fromAttrs(attrs))
	}
}

func (d *GCSDriver) Attrs(ctx context.Context, bucket, name string) (*Object, error) {
	attrs, err := d.client.Bucket(bucket).Object(name).Attrs(ctx)
	if err != nil {
		return nil, err
	}
	obj := fromAttrs(attrs)
	return &obj, nil
}

// Upload streams r into name. A failed read cancels the writer so no
// truncated object is committed.
func (d *GCSDriver) Upload(ctx context.Context, bucket, name, contentType string, r io.Reader) (*Object, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := d.client.Bucket(bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	obj := fromAttrs(w.Attrs())
	return &obj, nil
}

func (d *GCSDriver) Copy(ctx context.Context, bucket, src, dst string) (*Object, error) {
	b := d.client.Bucket(bucket)
	attrs, err := b.Object(dst).CopierFrom(b.Object(src)).Run(ctx)
	if err != nil {
		return nil, err
	}
	obj := fromAttrs(attrs)
	return &obj, nil
}

func (d *GCSDriver) Delete(ctx context.Context, bucket, name string) error {
	return d.client.Bucket(bucket).Object(name).Delete(ctx)
}

func (d *GCSDriver) Download(ctx context.Context, bucket, name string, w io.Writer) (int64, error) {
	r, err := d.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return io.Copy(w, r)
}

func (d *GCSDriver) SignedURL(ctx context.Context, bucket, name string, ttl time.Duration) (string, error) {
	return d.client.Bucket(bucket).SignedURL(name, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
}

func (d *GCSDriver) Close() error { return d.client.Close() }

func fromAttrs(a *storage.ObjectAttrs) Object {
	if a == nil {
		return Object{}
	}
	return Object{
		Bucket:      a.Bucket,
		Name:        a.Name,
		ContentType: a.ContentType,
		Size:        a.Size,
		MD5:         a.MD5,
		Generation:  a.Generation,
		Created:     a.Created,
		Updated:     a.Updated,
	}
}
