package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/apk-registry/apk-registry/internal/apperrors"
	"github.com/apk-registry/apk-registry/internal/db/models"
	"github.com/apk-registry/apk-registry/internal/identity"
	"github.com/apk-registry/apk-registry/internal/telemetry"
)

// ScanResult holds the counters of one directory scan.
type ScanResult struct {
	Discovered int `json:"discovered"`
	Added      int `json:"added"`
	Skipped    int `json:"skipped"`
}

// Scanner ingests the .apk files of a directory into the catalog.
type Scanner struct {
	catalog *Service
}

// NewScanner creates a scanner writing through catalog
func NewScanner(catalog *Service) *Scanner {
	return &Scanner{catalog: catalog}
}

// Scan lists dir (not recursively) and reconciles every .apk entry with the
// skip policy. Per-entry failures, including .apk-named directories, are
// counted as skipped. Only an unreadable directory fails the scan.
func (s *Scanner) Scan(ctx context.Context, dir string) (ScanResult, error) {
	var result ScanResult

	abs, err := filepath.Abs(dir)
	if err != nil {
		return result, apperrors.IO("resolve scan directory", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return result, apperrors.IO("read scan directory", err)
	}

	for _, entry := range entries {
		if !identity.HasAPKExtension(entry.Name()) {
			continue
		}
		result.Discovered++

		if err := ctx.Err(); err != nil {
			// cancelled scans still report what they saw
			result.Skipped++
			continue
		}

		inserted, err := s.ingest(ctx, abs, entry)
		switch {
		case err != nil:
			slog.Warn("skipping package during scan", "file", entry.Name(), "error", err)
			result.Skipped++
		case inserted:
			result.Added++
		default:
			result.Skipped++
		}
	}

	telemetry.ScanFilesTotal.WithLabelValues("added").Add(float64(result.Added))
	telemetry.ScanFilesTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
	slog.Info("directory scan finished", "directory", abs,
		"discovered", result.Discovered, "added", result.Added, "skipped", result.Skipped)

	return result, nil
}

func (s *Scanner) ingest(ctx context.Context, dir string, entry os.DirEntry) (bool, error) {
	info, err := entry.Info()
	if err != nil {
		return false, apperrors.IO("stat "+entry.Name(), err)
	}
	if !info.Mode().IsRegular() {
		return false, apperrors.Validation("%s is not a regular file", entry.Name())
	}

	pkg := NewPackage(identity.Parse(entry.Name()), filepath.Join(dir, entry.Name()), info.Size())
	return s.catalog.Reconcile(ctx, pkg, models.ConflictSkip)
}
