// setting_repository.go implements SettingRepository, the operator key/value
// overrides consulted by the publication path resolver.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/apk-registry/apk-registry/internal/db/models"
)

// SettingRepository handles database operations for settings
type SettingRepository struct {
	db *sqlx.DB
}

// NewSettingRepository creates a new settings repository
func NewSettingRepository(db *sqlx.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// GetSetting returns the value stored under key, or fallback when the key is
// absent or its value is empty. Lookup errors are returned alongside fallback.
func (r *SettingRepository) GetSetting(ctx context.Context, key, fallback string) (string, error) {
	var value string
	err := r.db.GetContext(ctx, &value, `SELECT value FROM settings WHERE key = $1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fallback, nil
		}
		return fallback, fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	if value == "" {
		return fallback, nil
	}
	return value, nil
}

// Get retrieves a full setting row. Returns nil, nil when absent.
func (r *SettingRepository) Get(ctx context.Context, key string) (*models.Setting, error) {
	var s models.Setting
	query := `SELECT key, value, description, updated_at, updated_by FROM settings WHERE key = $1`
	if err := r.db.GetContext(ctx, &s, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return &s, nil
}

// List returns every stored setting ordered by key.
func (r *SettingRepository) List(ctx context.Context) ([]models.Setting, error) {
	var settings []models.Setting
	query := `SELECT key, value, description, updated_at, updated_by FROM settings ORDER BY key`
	if err := r.db.SelectContext(ctx, &settings, query); err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return settings, nil
}

// Upsert stores value under key and records who changed it.
func (r *SettingRepository) Upsert(ctx context.Context, s *models.Setting) error {
	query := `
		INSERT INTO settings (key, value, description, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value       = EXCLUDED.value,
		    description = COALESCE(EXCLUDED.description, settings.description),
		    updated_by  = EXCLUDED.updated_by,
		    updated_at  = NOW()
		RETURNING description, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query, s.Key, s.Value, s.Description, s.UpdatedBy).
		Scan(&s.Description, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert setting: %w", err)
	}
	return nil
}
