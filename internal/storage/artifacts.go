package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Artifacts reads catalog source paths. A source path is either a plain
// filesystem path (scanned packages) or a location owned by one of the
// configured backends (staged uploads, e.g. s3://bucket/key).
type Artifacts struct {
	backends []Storage
}

// NewArtifacts returns a resolver that consults backends before the local filesystem.
func NewArtifacts(backends ...Storage) *Artifacts {
	return &Artifacts{backends: backends}
}

func (a *Artifacts) backendFor(location string) (Storage, string, error) {
	for _, b := range a.backends {
		if key, ok := b.Key(location); ok {
			return b, key, nil
		}
	}
	if isURI(location) {
		return nil, "", fmt.Errorf("no storage backend configured for %s", location)
	}
	return nil, "", nil
}

// Open returns a reader for the artifact. Missing artifacts yield an error
// wrapping ErrNotFound.
func (a *Artifacts) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	backend, key, err := a.backendFor(location)
	if err != nil {
		return nil, err
	}
	if backend != nil {
		return backend.Download(ctx, key)
	}

	f, err := os.Open(location)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("failed to open %s: %w", location, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", location, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", location)
	}
	return f, nil
}

// Exists reports whether the artifact is currently present.
func (a *Artifacts) Exists(ctx context.Context, location string) (bool, error) {
	backend, key, err := a.backendFor(location)
	if err != nil {
		return false, err
	}
	if backend != nil {
		return backend.Exists(ctx, key)
	}

	info, err := os.Stat(location)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", location, err)
	}
	return !info.IsDir(), nil
}

// BaseName returns the final element of a file path or storage URI.
func BaseName(location string) string {
	if isURI(location) {
		return path.Base(location)
	}
	return filepath.Base(location)
}

func isURI(location string) bool {
	scheme, rest, ok := strings.Cut(location, "://")
	return ok && scheme != "" && rest != "" && !strings.ContainsAny(scheme, `/\`)
}
