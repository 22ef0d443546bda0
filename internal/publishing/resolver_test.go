package publishing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apk-registry/apk-registry/internal/config"
	"github.com/apk-registry/apk-registry/internal/db/models"
)

func testPublicationConfig() *config.PublicationConfig {
	return &config.PublicationConfig{
		Development:      config.EnvironmentConfig{Directory: "/srv/dev", Strategy: config.StrategyCopy},
		ReleaseCandidate: config.EnvironmentConfig{Directory: "/srv/rc", Strategy: config.StrategyCopy},
		Production:       config.EnvironmentConfig{Directory: "/srv/prod", Strategy: config.StrategyCopy},
	}
}

func TestSettingKey(t *testing.T) {
	assert.Equal(t, "platform_dev_directory", SettingKey(models.EnvironmentDevelopment))
	assert.Equal(t, "platform_rc_directory", SettingKey(models.EnvironmentReleaseCandidate))
	assert.Equal(t, "platform_prod_directory", SettingKey(models.EnvironmentProduction))
}

func TestPathResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("setting overrides configuration", func(t *testing.T) {
		r := NewPathResolver(&staticSettings{values: map[string]string{"platform_rc_directory": "/mnt/rc"}}, testPublicationConfig())
		assert.Equal(t, "/mnt/rc", r.Resolve(ctx, models.EnvironmentReleaseCandidate))
		assert.Equal(t, "/srv/prod", r.Resolve(ctx, models.EnvironmentProduction))
	})

	t.Run("lookup error falls back", func(t *testing.T) {
		r := NewPathResolver(&staticSettings{err: errors.New("db down")}, testPublicationConfig())
		assert.Equal(t, "/srv/dev", r.Resolve(ctx, models.EnvironmentDevelopment))
	})

	t.Run("no settings store", func(t *testing.T) {
		r := NewPathResolver(nil, testPublicationConfig())
		assert.Equal(t, "/srv/prod", r.Resolve(ctx, models.EnvironmentProduction))
	})
}
