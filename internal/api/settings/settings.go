// Package settings implements the operator settings endpoints. The publication
// path resolver reads the platform_*_directory keys on every publication, so an
// update takes effect without a restart.
package settings

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/apk-registry/apk-registry/internal/api/respond"
	"github.com/apk-registry/apk-registry/internal/apperrors"
	"github.com/apk-registry/apk-registry/internal/db/models"
	"github.com/apk-registry/apk-registry/internal/middleware"
)

// Store persists settings.
type Store interface {
	List(ctx context.Context) ([]models.Setting, error)
	Get(ctx context.Context, key string) (*models.Setting, error)
	Upsert(ctx context.Context, s *models.Setting) error
}

// UpdateRequest is the body of PUT /api/v1/settings/:key
type UpdateRequest struct {
	Value       *string `json:"value" binding:"required"`
	Description *string `json:"description"`
}

// @Summary      List settings
// @Tags         Settings
// @Security     Bearer
// @Produce      json
// @Success      200  {array}  models.Setting
// @Router       /api/v1/settings [get]
// ListHandler handles GET /api/v1/settings
func ListHandler(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := store.List(c.Request.Context())
		if err != nil {
			respond.Error(c, err)
			return
		}
		if settings == nil {
			settings = []models.Setting{}
		}
		c.JSON(http.StatusOK, settings)
	}
}

// @Summary      Get setting
// @Tags         Settings
// @Security     Bearer
// @Produce      json
// @Param        key  path      string  true  "Setting key"
// @Success      200  {object}  models.Setting
// @Failure      404  {object}  map[string]interface{}  "Setting not found"
// @Router       /api/v1/settings/{key} [get]
// GetHandler handles GET /api/v1/settings/:key
func GetHandler(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		s, err := store.Get(c.Request.Context(), key)
		if err != nil {
			respond.Error(c, err)
			return
		}
		if s == nil {
			respond.Error(c, apperrors.NotFound("setting", key))
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

// @Summary      Update setting
// @Description  Creates or replaces a setting. Requires the admin role.
// @Tags         Settings
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        key   path      string         true  "Setting key"
// @Param        body  body      UpdateRequest  true  "New value"
// @Success      200   {object}  models.Setting
// @Failure      400   {object}  map[string]interface{}  "Missing value"
// @Failure      403   {object}  map[string]interface{}  "Admin role required"
// @Router       /api/v1/settings/{key} [put]
// UpdateHandler handles PUT /api/v1/settings/:key
func UpdateHandler(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.Param("key"))
		if key == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Setting key is required"})
			return
		}

		var req UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Request body must contain a value"})
			return
		}

		s := &models.Setting{
			Key:         key,
			Value:       strings.TrimSpace(*req.Value),
			Description: req.Description,
		}
		if id := middleware.GetIdentity(c); id != nil {
			s.UpdatedBy = &id.UserID
		}

		if err := store.Upsert(c.Request.Context(), s); err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}
