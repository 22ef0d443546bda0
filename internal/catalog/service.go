// Package catalog implements the package catalog: reconciling parsed identities
// into the store, directory scans, and upload intake.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/apk-registry/apk-registry/internal/apperrors"
	"github.com/apk-registry/apk-registry/internal/db/models"
	"github.com/apk-registry/apk-registry/internal/identity"
)

// livenessWorkers bounds concurrent existence checks while listing.
const livenessWorkers = 8

// PackageStore is the durable catalog. The uniqueness of
// (package_key, version_code) is enforced by the store itself.
type PackageStore interface {
	Reconcile(ctx context.Context, pkg *models.Package, policy models.ConflictPolicy) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Package, error)
	List(ctx context.Context) ([]*models.Package, error)
	ListByKey(ctx context.Context, packageKey string) ([]*models.Package, error)
}

// ArtifactChecker reports whether a source path still resolves to an artifact.
type ArtifactChecker interface {
	Exists(ctx context.Context, location string) (bool, error)
}

// Service wraps the store with the catalog rules shared by scans and uploads.
type Service struct {
	store     PackageStore
	artifacts ArtifactChecker
}

// NewService creates a catalog service
func NewService(store PackageStore, artifacts ArtifactChecker) *Service {
	return &Service{store: store, artifacts: artifacts}
}

// NewPackage builds an uncommitted record from a parsed identity.
func NewPackage(id identity.Identity, sourcePath string, size int64) *models.Package {
	return &models.Package{
		DisplayName: id.DisplayName,
		PackageKey:  id.PackageKey,
		Version:     id.Version,
		VersionCode: id.VersionCode,
		Build:       id.Build,
		SourcePath:  sourcePath,
		SizeBytes:   size,
	}
}

// Reconcile stores pkg under policy. A uniqueness violation that slips past
// the policy means another writer won the race; it is reported as not inserted.
func (s *Service) Reconcile(ctx context.Context, pkg *models.Package, policy models.ConflictPolicy) (bool, error) {
	inserted, err := s.store.Reconcile(ctx, pkg, policy)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			slog.Warn("package reconcile lost a uniqueness race",
				"package_key", pkg.PackageKey, "version_code", pkg.VersionCode, "policy", policy.String())
			return false, nil
		}
		return false, err
	}
	return inserted, nil
}

// Get returns a package by id. Malformed ids are reported as not found.
func (s *Service) Get(ctx context.Context, id string) (*models.Package, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFound("package", id)
	}
	pkg, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, apperrors.NotFound("package", id)
	}
	return pkg, nil
}

// Versions returns every build of a package key, newest version first.
func (s *Service) Versions(ctx context.Context, packageKey string) ([]*models.Package, error) {
	pkgs, err := s.store.ListByKey(ctx, packageKey)
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, apperrors.NotFound("package key", packageKey)
	}
	return pkgs, nil
}

// List returns the catalog newest first, each entry flagged with whether its
// artifact currently exists. A failed check is logged and reported as missing.
func (s *Service) List(ctx context.Context) ([]*models.PackageListing, error) {
	pkgs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	listings := make([]*models.PackageListing, len(pkgs))
	sem := make(chan struct{}, livenessWorkers)
	var wg sync.WaitGroup
	for i, pkg := range pkgs {
		listings[i] = &models.PackageListing{Package: *pkg}
		wg.Add(1)
		sem <- struct{}{}
		go func(l *models.PackageListing) {
			defer wg.Done()
			defer func() { <-sem }()
			exists, err := s.artifacts.Exists(ctx, l.SourcePath)
			if err != nil {
				slog.Warn("artifact liveness check failed", "package_id", l.ID, "source_path", l.SourcePath, "error", err)
				return
			}
			l.Exists = exists
		}(listings[i])
	}
	wg.Wait()

	return listings, nil
}
