// Package gcs stores audit archives in Google Cloud Storage. Downloads are handed out as
// V4 signed URLs. Authentication uses Application Default Credentials, a service account
// key, or Workload Identity Federation.
package gcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/offiromer/agentspilot-marketing-sub000/internal/config"
	appstorage "github.com/offiromer/agentspilot-marketing-sub000/internal/storage"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Storage, error) {
		return New(&cfg.Storage.GCS)
	})
}

// GCSStorage implements appstorage.Storage for one bucket.
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// New creates a client for the configured bucket.
//
// Authentication methods:
//   - "default" or empty: Application Default Credentials
//   - "service_account": credentials_json or credentials_file
//   - "workload_identity": Workload Identity Federation through ADC
func New(cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			authMethod = "service_account"
		} else {
			authMethod = "default"
		}
	}

	switch authMethod {
	case "service_account":
		switch {
		case cfg.CredentialsJSON != "":
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		case cfg.CredentialsFile != "":
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		default:
			return nil, fmt.Errorf("credentials_file or credentials_json is required for service_account auth")
		}
	case "workload_identity", "default":
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'service_account', or 'workload_identity')", authMethod)
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStorage{client: client, bucket: cfg.Bucket}, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) object(p string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(p)
}

// Upload writes the object with its SHA-256 in object metadata.
func (s *GCSStorage) Upload(ctx context.Context, p string, reader io.Reader, _ int64) (*appstorage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	w := s.object(p).NewWriter(ctx)
	w.ContentType = contentType(p)
	w.Metadata = map[string]string{"sha256": checksum}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &appstorage.UploadResult{Path: p, Size: int64(len(data)), Checksum: checksum}, nil
}

// Download opens the object.
func (s *GCSStorage) Download(ctx context.Context, p string) (io.ReadCloser, error) {
	r, err := s.object(p).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", appstorage.ErrNotFound, p)
		}
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	return r, nil
}

// Delete removes the object. A missing object is not an error.
func (s *GCSStorage) Delete(ctx context.Context, p string) error {
	if err := s.object(p).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// GetURL returns a V4 signed GET URL. Signing needs a service account key or
// signBlob permission for ADC.
func (s *GCSStorage) GetURL(ctx context.Context, p string, ttl time.Duration) (string, error) {
	exists, err := s.Exists(ctx, p)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", appstorage.ErrNotFound, p)
	}

	u, err := s.client.Bucket(s.bucket).SignedURL(p, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return u, nil
}

// Exists reads the object attributes.
func (s *GCSStorage) Exists(ctx context.Context, p string) (bool, error) {
	if _, err := s.object(p).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get object attributes: %w", err)
	}
	return true, nil
}

func contentType(p string) string {
	switch path.Ext(p) {
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	case ".gz":
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
