// Package media answers one question for the content layer: has this cover
// image finished uploading? Uploading itself happens elsewhere; a post is
// only created once its image is already in storage.
package media

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sakif/inkwell/internal/apperror"
)

// Store reports whether an uploaded object exists.
type Store interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// MinioConfig points at an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string // host:port, no scheme
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// MinioStore checks objects with StatObject. A reference is either a bare
// object key, "s3://<bucket>/<key>", or a URL whose path starts with
// /<bucket>/.
type MinioStore struct {
	client *minio.Client
	bucket string
}

var _ Store = (*MinioStore)(nil)

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("media: endpoint and bucket are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("media: creating minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioStore) Exists(ctx context.Context, ref string) (bool, error) {
	key, ok := s.objectKey(ref)
	if !ok {
		return false, nil
	}
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, apperror.Transient("media: stat "+key, err)
	}
	return true, nil
}

// objectKey maps a reference to a key in this bucket. ok is false for a
// reference to some other bucket.
func (s *MinioStore) objectKey(ref string) (key string, ok bool) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, "s3://"):
		bucket, key, _ := strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
		return key, bucket == s.bucket && key != ""
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		u, err := url.Parse(ref)
		if err != nil {
			return "", false
		}
		bucket, key, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		return key, bucket == s.bucket && key != ""
	}
	key = strings.TrimPrefix(ref, "/")
	return key, key != ""
}

// URLStore is used when no bucket is configured. Cover images are then
// plain public URLs and any well-formed http(s) URL counts as present.
type URLStore struct{}

var _ Store = URLStore{}

func (URLStore) Exists(_ context.Context, ref string) (bool, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return false, nil
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != "", nil
}
