// Package publishing moves cataloged packages into their target environments
// and tracks each request as a publication record.
package publishing

import (
	"context"
	"log/slog"

	"github.com/apk-registry/apk-registry/internal/config"
	"github.com/apk-registry/apk-registry/internal/db/models"
)

// Setting keys holding the destination directory of each environment.
const (
	SettingDevelopmentDirectory      = "platform_dev_directory"
	SettingReleaseCandidateDirectory = "platform_rc_directory"
	SettingProductionDirectory       = "platform_prod_directory"
)

// SettingKey returns the settings key for env's destination directory.
func SettingKey(env models.Environment) string {
	switch env {
	case models.EnvironmentDevelopment:
		return SettingDevelopmentDirectory
	case models.EnvironmentReleaseCandidate:
		return SettingReleaseCandidateDirectory
	default:
		return SettingProductionDirectory
	}
}

// SettingsReader looks up a setting, returning fallback when it is unset.
type SettingsReader interface {
	GetSetting(ctx context.Context, key, fallback string) (string, error)
}

// PathResolver maps environments to destination directories. Stored settings
// win over the configured directories.
type PathResolver struct {
	settings  SettingsReader
	fallbacks map[models.Environment]string
}

// NewPathResolver builds a resolver whose fallbacks come from cfg.
func NewPathResolver(settings SettingsReader, cfg *config.PublicationConfig) *PathResolver {
	fallbacks := make(map[models.Environment]string, len(models.Environments))
	for name, env := range cfg.Environments() {
		fallbacks[models.Environment(name)] = env.Directory
	}
	return &PathResolver{settings: settings, fallbacks: fallbacks}
}

// Resolve never fails: a settings lookup error is logged and the configured
// directory is used.
func (r *PathResolver) Resolve(ctx context.Context, env models.Environment) string {
	fallback := r.fallbacks[env]
	if r.settings == nil {
		return fallback
	}

	dir, err := r.settings.GetSetting(ctx, SettingKey(env), fallback)
	if err != nil {
		slog.Warn("settings lookup failed, using configured directory",
			"environment", env, "fallback", fallback, "error", err)
		return fallback
	}
	if dir == "" {
		return fallback
	}
	return dir
}
