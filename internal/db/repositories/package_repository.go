// package_repository.go implements PackageRepository, the durable catalog of APK
// files keyed by (package_key, version_code).
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/apk-registry/apk-registry/internal/apperrors"
	"github.com/apk-registry/apk-registry/internal/db/models"
	"github.com/apk-registry/apk-registry/internal/identity"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PackageRepository handles database operations for cataloged packages
type PackageRepository struct {
	db *sql.DB
}

// NewPackageRepository creates a new package repository
func NewPackageRepository(db *sql.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

const packageColumns = `id, display_name, package_key, version, version_code, build, source_path, size_bytes, created_at`

func scanPackage(row interface{ Scan(...any) error }) (*models.Package, error) {
	p := &models.Package{}
	err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&p.PackageKey,
		&p.Version,
		&p.VersionCode,
		&p.Build,
		&p.SourcePath,
		&p.SizeBytes,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint failure.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Reconcile inserts pkg or resolves a (package_key, version_code) collision
// according to policy. The uniqueness decision is made by the database in a
// single statement, so concurrent callers cannot both insert.
//
// On return pkg reflects the stored row. inserted is true only when a new row
// was created.
func (r *PackageRepository) Reconcile(ctx context.Context, pkg *models.Package, policy models.ConflictPolicy) (bool, error) {
	if policy == models.ConflictReplace {
		return r.upsert(ctx, pkg)
	}

	query := `
		INSERT INTO packages (display_name, package_key, version, version_code, build, source_path, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (package_key, version_code) DO NOTHING
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		pkg.DisplayName,
		pkg.PackageKey,
		pkg.Version,
		pkg.VersionCode,
		pkg.Build,
		pkg.SourcePath,
		pkg.SizeBytes,
	).Scan(&pkg.ID, &pkg.CreatedAt)

	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict: the row already exists and was left untouched.
		existing, getErr := r.GetByKey(ctx, pkg.PackageKey, pkg.VersionCode)
		if getErr != nil {
			return false, getErr
		}
		if existing != nil {
			*pkg = *existing
		}
		return false, nil
	}
	if isUniqueViolation(err) {
		return false, apperrors.Conflict("insert package", err)
	}
	return false, fmt.Errorf("failed to insert package: %w", err)
}

func (r *PackageRepository) upsert(ctx context.Context, pkg *models.Package) (bool, error) {
	// xmax is zero only for rows created by this statement.
	query := `
		INSERT INTO packages (display_name, package_key, version, version_code, build, source_path, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (package_key, version_code) DO UPDATE
		SET source_path = EXCLUDED.source_path,
		    size_bytes  = EXCLUDED.size_bytes,
		    created_at  = NOW()
		RETURNING id, display_name, version, build, created_at, (xmax = 0) AS inserted
	`

	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		pkg.DisplayName,
		pkg.PackageKey,
		pkg.Version,
		pkg.VersionCode,
		pkg.Build,
		pkg.SourcePath,
		pkg.SizeBytes,
	).Scan(&pkg.ID, &pkg.DisplayName, &pkg.Version, &pkg.Build, &pkg.CreatedAt, &inserted)

	if err != nil {
		if isUniqueViolation(err) {
			return false, apperrors.Conflict("upsert package", err)
		}
		return false, fmt.Errorf("failed to upsert package: %w", err)
	}
	return inserted, nil
}

// GetByID retrieves a package by its UUID. Returns nil, nil when absent.
func (r *PackageRepository) GetByID(ctx context.Context, id string) (*models.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE id = $1`

	p, err := scanPackage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return p, nil
}

// GetByKey retrieves the package with the given key and version code. Returns nil, nil when absent.
func (r *PackageRepository) GetByKey(ctx context.Context, packageKey string, versionCode int64) (*models.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE package_key = $1 AND version_code = $2`

	p, err := scanPackage(r.db.QueryRowContext(ctx, query, packageKey, versionCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get package by key: %w", err)
	}
	return p, nil
}

// List returns every cataloged package, newest first.
func (r *PackageRepository) List(ctx context.Context) ([]*models.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages ORDER BY created_at DESC, id`
	return r.query(ctx, query)
}

// ListByKey returns every version of one package, highest semantic version first.
// Packages whose version does not parse sort after those that do; ties fall back
// to the version code.
func (r *PackageRepository) ListByKey(ctx context.Context, packageKey string) ([]*models.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE package_key = $1`
	pkgs, err := r.query(ctx, query, packageKey)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(pkgs, func(i, j int) bool {
		if c := compareVersions(pkgs[i].Version, pkgs[j].Version); c != 0 {
			return c > 0
		}
		return pkgs[i].VersionCode > pkgs[j].VersionCode
	})
	return pkgs, nil
}

func (r *PackageRepository) query(ctx context.Context, query string, args ...any) ([]*models.Package, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	var pkgs []*models.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		pkgs = append(pkgs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating packages: %w", err)
	}
	return pkgs, nil
}

// compareVersions orders semantic versions. The fallback version and
// unparsable strings rank lowest.
func compareVersions(a, b string) int {
	va, vb := identity.ParseVersion(a), identity.ParseVersion(b)
	switch {
	case va == nil && vb == nil:
		return 0
	case va == nil:
		return -1
	case vb == nil:
		return 1
	}
	return va.Compare(vb)
}
