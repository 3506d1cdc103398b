package io

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectScheme is the URI scheme handled by ObjectStore.
const ObjectScheme = "s3"

// ObjectStoreConfig holds S3-compatible connection settings.
type ObjectStoreConfig struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint"` // e.g. "localhost:9000"
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl" yaml:"use_ssl"`
}

// ErrObjectStoreDisabled is returned when an s3:// source is used without an
// endpoint configured.
var ErrObjectStoreDisabled = fmt.Errorf("object store not configured")

// ObjectStore fetches datasets from an S3-compatible object store.
type ObjectStore struct {
	mc      *minio.Client
	enabled bool
}

// NewObjectStore creates an object store client. An empty endpoint yields a
// disabled store whose operations return ErrObjectStoreDisabled.
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	if cfg.Endpoint == "" {
		return &ObjectStore{}, nil
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &ObjectStore{mc: mc, enabled: true}, nil
}

// IsObjectURI reports whether location names an object store source.
func IsObjectURI(location string) bool {
	return strings.HasPrefix(location, ObjectScheme+"://")
}

// ParseObjectURI splits s3://bucket/key into bucket and key.
func ParseObjectURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parsing object uri %q: %w", uri, err)
	}
	if u.Scheme != ObjectScheme {
		return "", "", fmt.Errorf("object uri %q: scheme must be %s", uri, ObjectScheme)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("object uri %q: expected %s://bucket/key", uri, ObjectScheme)
	}
	return u.Host, key, nil
}

// Fetch downloads the object named by uri.
func (s *ObjectStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if s == nil || !s.enabled {
		return nil, ErrObjectStoreDisabled
	}
	bucket, key, err := ParseObjectURI(uri)
	if err != nil {
		return nil, err
	}
	obj, err := s.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", uri, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", uri, err)
	}
	return data, nil
}
