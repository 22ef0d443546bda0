// Package publications implements the publication endpoints: requesting a
// publication, listing the ledger and polling a publication's status.
package publications

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/apk-registry/apk-registry/internal/api/respond"
	"github.com/apk-registry/apk-registry/internal/auth"
	"github.com/apk-registry/apk-registry/internal/db/models"
	"github.com/apk-registry/apk-registry/internal/middleware"
)

// Engine is the publication engine as seen by the HTTP layer.
type Engine interface {
	Create(ctx context.Context, caller *auth.Identity, packageID, environment string) (*models.Publication, error)
	CheckStatus(ctx context.Context, id string) (*models.Publication, error)
	List(ctx context.Context, limit, offset int) ([]*models.PublicationWithPackage, error)
}

// CreateRequest is the body of POST /api/v1/publications. The field names
// follow the ledger's JSON names.
type CreateRequest struct {
	PackageID   string `json:"apk_id" binding:"required"`
	Environment string `json:"platform" binding:"required"`
}

// @Summary      Publish a package
// @Description  Publishes a cataloged package to development, release_candidate or production. Production requires the admin role. Under the copy strategy the response is terminal (completed or failed); under the external strategy it is pending.
// @Tags         Publications
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body      CreateRequest  true  "Package and environment"
// @Success      201   {object}  models.Publication
// @Failure      400   {object}  map[string]interface{}  "Unknown environment or malformed body"
// @Failure      403   {object}  map[string]interface{}  "Role may not publish to the environment"
// @Failure      404   {object}  map[string]interface{}  "Package not found"
// @Router       /api/v1/publications [post]
// CreateHandler handles POST /api/v1/publications
func CreateHandler(engine Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Request body must contain apk_id and platform"})
			return
		}

		pub, err := engine.Create(c.Request.Context(), middleware.GetIdentity(c), req.PackageID, req.Environment)
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusCreated, pub)
	}
}

// @Summary      List publications
// @Tags         Publications
// @Security     Bearer
// @Produce      json
// @Param        limit   query     int  false  "Page size (default 100, max 500)"
// @Param        offset  query     int  false  "Offset"
// @Success      200     {array}   models.PublicationWithPackage
// @Router       /api/v1/publications [get]
// ListHandler handles GET /api/v1/publications
func ListHandler(engine Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := intQuery(c, "limit")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		offset, err := intQuery(c, "offset")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be an integer"})
			return
		}

		pubs, err := engine.List(c.Request.Context(), limit, offset)
		if err != nil {
			respond.Error(c, err)
			return
		}
		if pubs == nil {
			pubs = []*models.PublicationWithPackage{}
		}
		c.JSON(http.StatusOK, pubs)
	}
}

// @Summary      Publication status
// @Description  Returns the publication. A pending publication is first reconciled against its destination directory.
// @Tags         Publications
// @Security     Bearer
// @Produce      json
// @Param        id   path      string  true  "Publication ID"
// @Success      200  {object}  models.Publication
// @Failure      404  {object}  map[string]interface{}  "Publication not found"
// @Router       /api/v1/publications/{id}/status [get]
// StatusHandler handles GET /api/v1/publications/:id/status
func StatusHandler(engine Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		pub, err := engine.CheckStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, pub)
	}
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
