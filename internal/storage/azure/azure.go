// Package azure implements the Azure Blob Storage staging backend. Blobs carry
// their SHA-256 in blob metadata so GetMetadata avoids a download, and are
// addressed as azblob://<container>/<key> in the catalog.
package azure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/apk-registry/apk-registry/internal/config"
	"github.com/apk-registry/apk-registry/internal/storage"
	"github.com/apk-registry/apk-registry/pkg/checksum"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Azure)
	})
}

// AzureStorage implements the Storage interface for Azure Blob Storage
type AzureStorage struct {
	client        *azblob.Client
	containerName string
	blockSize     int64
}

// New creates a new Azure Blob Storage backend
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := cfg.Endpoint
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry:     policy.RetryOptions{MaxRetries: 3, TryTimeout: time.Minute},
			Telemetry: policy.TelemetryOptions{ApplicationID: "apk-registry"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureStorage{client: client, containerName: cfg.ContainerName, blockSize: uploadBlockSize}, nil
}

const (
	uploadBlockSize   = 8 << 20
	uploadConcurrency = 4
)

func isNotFound(err error) bool {
	return bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound)
}

// Upload streams a blob in blocks and then records its SHA-256 in blob
// metadata. Blocks only become visible when the block list is committed at
// the end of the stream.
func (s *AzureStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlockBlobClient(key)

	cr := checksum.NewReader(reader)
	if _, err := blobClient.UploadStream(ctx, cr, &blockblob.UploadStreamOptions{
		BlockSize:   s.blockSize,
		Concurrency: uploadConcurrency,
	}); err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	sum := cr.Hex()
	// GetMetadata falls back to hashing when this fails
	if _, err := blobClient.SetMetadata(ctx, map[string]*string{"sha256": &sum}, nil); err != nil {
		slog.Warn("failed to store checksum metadata", "location", s.Location(key), "error", err)
	}

	return &storage.UploadResult{Key: key, Size: cr.BytesRead(), Checksum: sum}, nil
}

// Download retrieves a blob
func (s *AzureStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(key)

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, s.Location(key))
		}
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}

	return resp.Body, nil
}

// Delete removes a blob. A missing blob is not an error.
func (s *AzureStorage) Delete(ctx context.Context, key string) error {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(key)

	if _, err := blobClient.Delete(ctx, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}
	return nil
}

// Exists checks if a blob exists
func (s *AzureStorage) Exists(ctx context.Context, key string) (bool, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(key)

	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get blob properties: %w", err)
	}
	return true, nil
}

// GetMetadata retrieves blob metadata. Blobs written without a stored
// checksum are downloaded and hashed.
func (s *AzureStorage) GetMetadata(ctx context.Context, key string) (*storage.FileMetadata, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(key)

	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, s.Location(key))
		}
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}

	var sum string
	for k, v := range props.Metadata {
		if strings.EqualFold(k, "sha256") && v != nil {
			sum = *v
		}
	}

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

	var size int64
	if props.ContentLength != nil {
		size = *props.ContentLength
	}

	var lastModified time.Time
	if props.LastModified != nil {
		lastModified = *props.LastModified
	}

	return &storage.FileMetadata{
		Key:          key,
		Size:         size,
		Checksum:     sum,
		LastModified: lastModified,
	}, nil
}

// EnsureContainer creates the container if it doesn't exist
func (s *AzureStorage) EnsureContainer(ctx context.Context) error {
	containerClient := s.client.ServiceClient().NewContainerClient(s.containerName)

	if _, err := containerClient.Create(ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}

// Location returns azblob://container/key.
func (s *AzureStorage) Location(key string) string {
	return "azblob://" + s.containerName + "/" + key
}

// Key returns the blob name for a location inside this container.
func (s *AzureStorage) Key(location string) (string, bool) {
	key, ok := strings.CutPrefix(location, "azblob://"+s.containerName+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}
