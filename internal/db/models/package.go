// Package models - package.go defines the Package model, one cataloged APK file
// identified by its package key and numeric version code.
package models

import "time"

// ConflictPolicy decides what Reconcile does when a package with the same
// (package key, version code) is already cataloged.
type ConflictPolicy int

const (
	// ConflictSkip leaves the existing record untouched (used by scans).
	ConflictSkip ConflictPolicy = iota
	// ConflictReplace overwrites source path and size and refreshes created_at (used by uploads).
	ConflictReplace
)

func (p ConflictPolicy) String() string {
	if p == ConflictReplace {
		return "replace"
	}
	return "skip"
}

// Package represents one APK in the catalog
type Package struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"name"`
	PackageKey  string    `json:"package_name"`
	Version     string    `json:"version"`
	VersionCode int64     `json:"version_code"`
	Build       *string   `json:"build,omitempty"`
	SourcePath  string    `json:"file_path"`
	SizeBytes   int64     `json:"file_size"`
	CreatedAt   time.Time `json:"created_at"`
}

// PackageListing is a catalog entry annotated with a liveness flag computed at
// read time. Exists is never persisted.
type PackageListing struct {
	Package
	Exists bool `json:"exists"`
}
