// Package storage defines the Storage interface used to stage uploaded packages
// and the Artifacts resolver that reads any cataloged source path.
//
// Backends register themselves with the factory from an init() function in their
// own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// cmd/server imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned (wrapped) by Download and GetMetadata for missing objects.
var ErrNotFound = errors.New("object not found")

// Storage is a keyed blob store used as the upload staging area.
type Storage interface {
	// Upload stores the content under key and returns its size and checksum.
	Upload(ctx context.Context, key string, reader io.Reader, size int64) (*UploadResult, error)

	// Download returns a reader for the content stored under key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if content is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetMetadata retrieves size and modification time without downloading.
	GetMetadata(ctx context.Context, key string) (*FileMetadata, error)

	// Location returns the catalog source path for key: an absolute file path
	// for local storage, a URI such as s3://bucket/key for cloud backends.
	Location(key string) string

	// Key is the inverse of Location. ok is false for locations the backend does not own.
	Key(location string) (key string, ok bool)
}

// UploadResult contains information about an uploaded file
type UploadResult struct {
	// Key is the storage key the content was stored under
	Key string

	// Size is the file size in bytes
	Size int64

	// Checksum is the SHA256 hash of the file contents
	Checksum string
}

// FileMetadata contains metadata about a stored file
type FileMetadata struct {
	Key          string
	Size         int64
	Checksum     string
	LastModified time.Time
}
