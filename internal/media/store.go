package media

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	Region   string
	UseSSL   bool
	URLTTL   time.Duration
}

// Store keeps uploaded inputs and generated results in an S3 compatible
// bucket. Media references are object keys; absolute http(s) URLs are
// treated as already fetchable and never touched.
type Store struct {
	minio  *minio.Client
	bucket string
	ttl    time.Duration
}

func NewStore(cfg Config) (*Store, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{minio: mc, bucket: cfg.Bucket, ttl: ttl}, nil
}

func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.minio.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.minio.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := s.minio.BucketExists(ctx, s.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// ResolveURL returns a presigned GET URL for an object key.
func (s *Store) ResolveURL(ctx context.Context, ref string) (string, error) {
	if IsRemote(ref) {
		return ref, nil
	}
	u, err := s.minio.PresignedGetObject(ctx, s.bucket, ref, s.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", ref, err)
	}
	return u.String(), nil
}

// PresignedUpload hands the client a PUT URL for a new input object and
// returns the reference to submit with the job.
func (s *Store) PresignedUpload(ctx context.Context, ownerID, name string) (ref, putURL string, err error) {
	ref = InputKey(ownerID, name)
	u, err := s.minio.PresignedPutObject(ctx, s.bucket, ref, s.ttl)
	if err != nil {
		return "", "", fmt.Errorf("presign put object: %w", err)
	}
	return ref, u.String(), nil
}

// Put stores generated bytes and returns their reference.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.minio.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}
