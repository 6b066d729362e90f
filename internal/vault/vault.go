// Package vault keeps copies of generated and uploaded media in S3-compatible
// object storage so that library entries point at URLs a model provider can
// fetch without the bot token.
package vault

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxExpiry is the longest lifetime S3 allows for a presigned URL.
const MaxExpiry = 7 * 24 * time.Hour

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL, when set, is joined with the object key instead of
	// presigning, e.g. for a bucket behind a public CDN.
	PublicBaseURL string
	Expiry        time.Duration
}

// Enabled reports whether enough is configured to build a Store.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.Bucket) != ""
}

type Store struct {
	client     *minio.Client
	bucketName string
	region     string
	publicBase string
	expiry     time.Duration

	mu          sync.Mutex
	bucketReady bool
	checkBucket func(ctx context.Context) error
}

func New(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("vault endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("vault access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("vault bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init vault client: %w", err)
	}

	s := &Store{
		client:     client,
		bucketName: bucket,
		region:     region,
		publicBase: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		expiry:     clampExpiry(cfg.Expiry),
	}
	s.checkBucket = s.createBucket
	return s, nil
}

func clampExpiry(d time.Duration) time.Duration {
	if d <= 0 || d > MaxExpiry {
		return MaxExpiry
	}
	return d
}

// ensureBucket creates the bucket on first use. A failed check is retried
// by the next call; only success is remembered.
func (s *Store) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketReady {
		return nil
	}
	if err := s.checkBucket(ctx); err != nil {
		return err
	}
	s.bucketReady = true
	return nil
}

func (s *Store) createBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
}

// Put uploads data for owner and returns a URL for it.
func (s *Store) Put(ctx context.Context, owner, name, contentType string, data []byte) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", fmt.Errorf("owner is required")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("refusing to store empty object %q", name)
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := objectKey(owner, uuid.NewString(), name)
	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return s.URL(ctx, key)
}

// URL returns the public or presigned URL of key.
func (s *Store) URL(ctx context.Context, key string) (string, error) {
	if s.publicBase != "" {
		return publicURL(s.publicBase, key), nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, key, s.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func publicURL(base, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return base + "/" + strings.Join(parts, "/")
}

func objectKey(owner, id, name string) string {
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return strings.TrimSpace(owner) + "/" + id + "-" + name
}
