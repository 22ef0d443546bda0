package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apk-registry/apk-registry/internal/config"
	"github.com/apk-registry/apk-registry/internal/storage"
)

// newTestStorage creates a LocalStorage backed by a temporary directory.
func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal("New:", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_CreatesDirectory(t *testing.T) {
	subDir := filepath.Join(t.TempDir(), "a", "b", "c")
	if _, err := New(&config.LocalStorageConfig{BasePath: subDir}); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(subDir); os.IsNotExist(err) {
		t.Error("New() did not create base directory")
	}
}

// ---------------------------------------------------------------------------
// Upload
// ---------------------------------------------------------------------------

func TestUpload(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	content := "apk-content"
	result, err := s.Upload(ctx, "MyApp-v1.0.0.apk", strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if result.Key != "MyApp-v1.0.0.apk" {
		t.Errorf("Key = %q, want MyApp-v1.0.0.apk", result.Key)
	}
	if result.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", result.Size, len(content))
	}
	if len(result.Checksum) != 64 {
		t.Errorf("Checksum len = %d, want 64 (SHA256 hex)", len(result.Checksum))
	}

	data, err := os.ReadFile(s.Location("MyApp-v1.0.0.apk"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != content {
		t.Errorf("file content = %q, want %q", data, content)
	}
}

func TestUpload_OverwritesExisting(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, err := s.Upload(ctx, "app.apk", strings.NewReader("v1"), 2); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upload(ctx, "app.apk", strings.NewReader("second"), 6); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(s.Location("app.apk"))
	if string(data) != "second" {
		t.Errorf("content = %q, want second", data)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestUpload_FailedWriteLeavesNothingBehind(t *testing.T) {
	s := newTestStorage(t)

	if _, err := s.Upload(context.Background(), "broken.apk", failingReader{}, 10); err == nil {
		t.Fatal("Upload() expected error")
	}
	entries, _ := os.ReadDir(s.basePath)
	if len(entries) != 0 {
		t.Errorf("base dir has %d entries after failed upload, want 0", len(entries))
	}
}

func TestUpload_RejectsEscapingKey(t *testing.T) {
	s := newTestStorage(t)
	for _, key := range []string{"../outside.apk", "a/../../outside.apk", ".", ""} {
		if _, err := s.Upload(context.Background(), key, strings.NewReader("x"), 1); err == nil {
			t.Errorf("Upload(%q) expected error", key)
		}
	}
}

// ---------------------------------------------------------------------------
// Download / Exists / Delete / GetMetadata
// ---------------------------------------------------------------------------

func TestDownload(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	if _, err := s.Upload(ctx, "dir/app.apk", strings.NewReader("payload"), 7); err != nil {
		t.Fatal(err)
	}

	rc, err := s.Download(ctx, "dir/app.apk")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "payload" {
		t.Errorf("content = %q, want payload", data)
	}
}

func TestDownload_NotFound(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.Download(context.Background(), "missing.apk"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download() err = %v, want ErrNotFound", err)
	}
}

func TestExists(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "app.apk")
	if err != nil || ok {
		t.Fatalf("Exists() before upload = %v, %v", ok, err)
	}
	if _, err := s.Upload(ctx, "app.apk", strings.NewReader("x"), 1); err != nil {
		t.Fatal(err)
	}
	ok, err = s.Exists(ctx, "app.apk")
	if err != nil || !ok {
		t.Fatalf("Exists() after upload = %v, %v", ok, err)
	}
}

func TestDelete_RemovesEmptyParents(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	if _, err := s.Upload(ctx, "a/b/app.apk", strings.NewReader("x"), 1); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "a/b/app.apk"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.basePath, "a")); !os.IsNotExist(err) {
		t.Error("empty parent directories should be removed")
	}
	if _, err := os.Stat(s.basePath); err != nil {
		t.Error("base path must survive Delete")
	}
}

func TestDelete_MissingIsNotAnError(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Delete(context.Background(), "never-there.apk"); err != nil {
		t.Errorf("Delete() error: %v", err)
	}
}

func TestGetMetadata(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	up, err := s.Upload(ctx, "app.apk", strings.NewReader("12345"), 5)
	if err != nil {
		t.Fatal(err)
	}

	md, err := s.GetMetadata(ctx, "app.apk")
	if err != nil {
		t.Fatalf("GetMetadata() error: %v", err)
	}
	if md.Size != 5 {
		t.Errorf("Size = %d, want 5", md.Size)
	}
	if md.Checksum != up.Checksum {
		t.Errorf("Checksum = %q, want %q", md.Checksum, up.Checksum)
	}

	if _, err := s.GetMetadata(ctx, "missing.apk"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetMetadata(missing) err = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Location / Key
// ---------------------------------------------------------------------------

func TestLocationKeyRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	loc := s.Location("nested/app.apk")
	if !filepath.IsAbs(loc) {
		t.Fatalf("Location() = %q, want absolute path", loc)
	}
	key, ok := s.Key(loc)
	if !ok || key != "nested/app.apk" {
		t.Errorf("Key(%q) = %q, %v; want nested/app.apk, true", loc, key, ok)
	}
}

func TestKey_ForeignLocations(t *testing.T) {
	s := newTestStorage(t)
	for _, loc := range []string{
		filepath.Join(filepath.Dir(s.basePath), "elsewhere.apk"),
		s.basePath,
		"relative/app.apk",
		"s3://bucket/app.apk",
	} {
		if key, ok := s.Key(loc); ok {
			t.Errorf("Key(%q) = %q, true; want not owned", loc, key)
		}
	}
}
