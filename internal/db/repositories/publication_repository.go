// publication_repository.go implements PublicationRepository, the append-only
// ledger of publication requests and their forward-only status transitions.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/apk-registry/apk-registry/internal/db/models"
)

// PublicationRepository handles database operations for publications
type PublicationRepository struct {
	db *sql.DB
}

// NewPublicationRepository creates a new publication repository
func NewPublicationRepository(db *sql.DB) *PublicationRepository {
	return &PublicationRepository{db: db}
}

const publicationColumns = `p.id, p.package_id, p.environment, p.status, p.requested_by, p.requested_at, p.completed_at, p.target_path, p.error_message`

func scanPublication(row interface{ Scan(...any) error }, extra ...any) (*models.Publication, error) {
	p := &models.Publication{}
	dest := append([]any{
		&p.ID,
		&p.PackageID,
		&p.Environment,
		&p.Status,
		&p.RequestedBy,
		&p.RequestedAt,
		&p.CompletedAt,
		&p.TargetPath,
		&p.ErrorMessage,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return p, nil
}

// Create inserts a new publication in the pending state.
func (r *PublicationRepository) Create(ctx context.Context, pub *models.Publication) error {
	query := `
		INSERT INTO publications (package_id, environment, status, requested_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, status, requested_at
	`

	err := r.db.QueryRowContext(ctx, query,
		pub.PackageID,
		pub.Environment,
		models.PublicationPending,
		pub.RequestedBy,
	).Scan(&pub.ID, &pub.Status, &pub.RequestedAt)

	if err != nil {
		return fmt.Errorf("failed to create publication: %w", err)
	}
	return nil
}

// Transition moves publication id from status `from` to `to`. The update only
// applies while the row is still in `from`, so a concurrent writer cannot move a
// record backwards or out of a terminal state. targetPath is kept when nil.
//
// Returns the updated record, or nil, nil when the row was no longer in `from`.
func (r *PublicationRepository) Transition(ctx context.Context, id string, from, to models.PublicationStatus, targetPath, errorMessage *string) (*models.Publication, error) {
	if !from.CanTransition(to) {
		return nil, fmt.Errorf("illegal publication transition %s -> %s", from, to)
	}

	query := `
		UPDATE publications p
		SET status        = $3,
		    target_path   = COALESCE($4, p.target_path),
		    error_message = $5,
		    completed_at  = CASE WHEN $6 THEN GREATEST(NOW(), p.requested_at) ELSE NULL END
		WHERE p.id = $1 AND p.status = $2
		RETURNING ` + publicationColumns

	pub, err := scanPublication(r.db.QueryRowContext(ctx, query,
		id, from, to, targetPath, errorMessage, to.IsTerminal(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update publication status: %w", err)
	}
	return pub, nil
}

// GetByID retrieves a publication by its UUID. Returns nil, nil when absent.
func (r *PublicationRepository) GetByID(ctx context.Context, id string) (*models.Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM publications p WHERE p.id = $1`

	pub, err := scanPublication(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get publication: %w", err)
	}
	return pub, nil
}

// List returns the most recent publications joined with their package, newest first.
func (r *PublicationRepository) List(ctx context.Context, limit, offset int) ([]*models.PublicationWithPackage, error) {
	query := `
		SELECT ` + publicationColumns + `, a.display_name, a.version, a.build
		FROM publications p
		JOIN packages a ON a.id = p.package_id
		ORDER BY p.requested_at DESC, p.id
		LIMIT $1 OFFSET $2
	`
	return r.queryJoined(ctx, query, limit, offset)
}

// ListByPackage returns the publication history of one package, newest first.
func (r *PublicationRepository) ListByPackage(ctx context.Context, packageID string) ([]*models.PublicationWithPackage, error) {
	query := `
		SELECT ` + publicationColumns + `, a.display_name, a.version, a.build
		FROM publications p
		JOIN packages a ON a.id = p.package_id
		WHERE p.package_id = $1
		ORDER BY p.requested_at DESC, p.id
	`
	return r.queryJoined(ctx, query, packageID)
}

// ListByStatus returns every publication currently in status, oldest first.
// The verifier uses it for pending records and for publishing records
// orphaned by a crash mid-copy.
func (r *PublicationRepository) ListByStatus(ctx context.Context, status models.PublicationStatus) ([]*models.Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM publications p WHERE p.status = $1 ORDER BY p.requested_at`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s publications: %w", status, err)
	}
	defer rows.Close()

	var pubs []*models.Publication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publication: %w", err)
		}
		pubs = append(pubs, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publications: %w", err)
	}
	return pubs, nil
}

func (r *PublicationRepository) queryJoined(ctx context.Context, query string, args ...any) ([]*models.PublicationWithPackage, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}
	defer rows.Close()

	var pubs []*models.PublicationWithPackage
	for rows.Next() {
		entry := &models.PublicationWithPackage{}
		pub, err := scanPublication(rows, &entry.PackageName, &entry.PackageVersion, &entry.PackageBuild)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publication: %w", err)
		}
		entry.Publication = *pub
		pubs = append(pubs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publications: %w", err)
	}
	return pubs, nil
}
