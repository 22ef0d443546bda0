// Package gcs implements the Google Cloud Storage staging backend. Supports
// Application Default Credentials, service account JSON keys, and Workload
// Identity Federation. Objects are addressed as gs://<bucket>/<key>.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/apk-registry/apk-registry/internal/config"
	appstorage "github.com/apk-registry/apk-registry/internal/storage"
	"github.com/apk-registry/apk-registry/pkg/checksum"
)

// chunkSize is the resumable upload chunk size.
const chunkSize = 16 * 1024 * 1024

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Storage, error) {
		return New(&cfg.Storage.GCS)
	})
}

// GCSStorage implements the Storage interface for Google Cloud Storage
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// resolveAuthMethod defaults to service_account when credentials are supplied.
func resolveAuthMethod(cfg *appconfig.GCSStorageConfig) string {
	if cfg.AuthMethod != "" {
		return cfg.AuthMethod
	}
	if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
		return "service_account"
	}
	return "default"
}

// New creates a new Google Cloud Storage backend
//
// Authentication methods:
//   - "default" or empty: Application Default Credentials (ADC)
//   - "service_account": a service account key file or JSON
//   - "workload_identity": Workload Identity Federation (GKE, GitHub Actions)
func New(cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	authMethod := resolveAuthMethod(cfg)
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
		// ADC handles both
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

// Upload streams content with a resumable upload, then records the SHA-256 in
// object metadata.
func (s *GCSStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64) (*appstorage.UploadResult, error) {
	obj := s.client.Bucket(s.bucket).Object(key)

	// cancelling the writer's context before Close discards the object
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	writer := obj.NewWriter(wctx)
	writer.ChunkSize = chunkSize
	writer.ContentType = "application/vnd.android.package-archive"

	cr := checksum.NewReader(reader)
	written, err := io.Copy(writer, cr)
	if err != nil {
		cancel()
		_ = writer.Close()
		return nil, fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	sum := cr.Hex()

	// GetMetadata falls back to hashing when this fails
	if _, err := obj.Update(ctx, storage.ObjectAttrsToUpdate{
		Metadata: map[string]string{"sha256": sum},
	}); err != nil {
		slog.Warn("failed to store checksum metadata", "location", s.Location(key), "error", err)
	}

	return &appstorage.UploadResult{Key: key, Size: written, Checksum: sum}, nil
}

// Download retrieves an object from GCS
func (s *GCSStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", appstorage.ErrNotFound, s.Location(key))
		}
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	return reader, nil
}

// Delete removes an object from GCS
func (s *GCSStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// Exists checks if an object exists
func (s *GCSStorage) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// GetMetadata retrieves object metadata without downloading the object,
// unless no checksum was stored.
func (s *GCSStorage) GetMetadata(ctx context.Context, key string) (*appstorage.FileMetadata, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", appstorage.ErrNotFound, s.Location(key))
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	sum := attrs.Metadata["sha256"]
	if sum == "" {
		reader, err := s.Download(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to download for checksum: %w", err)
		}
		defer reader.Close()

		if sum, err = checksum.CalculateSHA256(reader); err != nil {
			return nil, err
		}
	}

	return &appstorage.FileMetadata{
		Key:          key,
		Size:         attrs.Size,
		Checksum:     sum,
		LastModified: attrs.Updated,
	}, nil
}

// Location returns gs://bucket/key.
func (s *GCSStorage) Location(key string) string {
	return "gs://" + s.bucket + "/" + key
}

// Key returns the object name for a location inside this bucket.
func (s *GCSStorage) Key(location string) (string, bool) {
	key, ok := strings.CutPrefix(location, "gs://"+s.bucket+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}
