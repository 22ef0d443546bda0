// Package packages implements the catalog endpoints: listing, lookup, version
// history, directory scans and uploads.
package packages

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apk-registry/apk-registry/internal/api/respond"
	"github.com/apk-registry/apk-registry/internal/auth"
	"github.com/apk-registry/apk-registry/internal/catalog"
	"github.com/apk-registry/apk-registry/internal/db/models"
	"github.com/apk-registry/apk-registry/internal/middleware"
	"github.com/apk-registry/apk-registry/internal/telemetry"
)

// Catalog is the read side of the package catalog.
type Catalog interface {
	List(ctx context.Context) ([]*models.PackageListing, error)
	Get(ctx context.Context, id string) (*models.Package, error)
	Versions(ctx context.Context, packageKey string) ([]*models.Package, error)
}

// Scanner ingests a directory into the catalog.
type Scanner interface {
	Scan(ctx context.Context, dir string) (catalog.ScanResult, error)
}

// Intake stages and catalogs uploaded files.
type Intake interface {
	Accept(ctx context.Context, caller *auth.Identity, fileName string, r io.Reader, declaredSize int64) (*models.Package, bool, error)
}

// PublicationHistory lists the publications of one package.
type PublicationHistory interface {
	ListForPackage(ctx context.Context, packageID string) ([]*models.PublicationWithPackage, error)
}

// @Summary      List packages
// @Description  Returns every cataloged package, newest first, with a live check of whether its file still exists.
// @Tags         Packages
// @Security     Bearer
// @Produce      json
// @Success      200  {array}   models.PackageListing
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/packages [get]
// ListHandler handles GET /api/v1/packages
func ListHandler(cat Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		listings, err := cat.List(c.Request.Context())
		if err != nil {
			respond.Error(c, err)
			return
		}
		if listings == nil {
			listings = []*models.PackageListing{}
		}
		c.JSON(http.StatusOK, listings)
	}
}

// @Summary      Get package
// @Tags         Packages
// @Security     Bearer
// @Produce      json
// @Param        id   path      string  true  "Package ID"
// @Success      200  {object}  models.Package
// @Failure      404  {object}  map[string]interface{}  "Package not found"
// @Router       /api/v1/packages/{id} [get]
// GetHandler handles GET /api/v1/packages/:id
func GetHandler(cat Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		pkg, err := cat.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, pkg)
	}
}

// @Summary      List versions of a package key
// @Description  Returns every cataloged build of a package key ordered by semantic version, highest first.
// @Tags         Packages
// @Security     Bearer
// @Produce      json
// @Param        key  path      string  true  "Package key (lowercased display name)"
// @Success      200  {array}   models.Package
// @Failure      404  {object}  map[string]interface{}  "No package with that key"
// @Router       /api/v1/packages/by-key/{key}/versions [get]
// VersionsHandler handles GET /api/v1/packages/by-key/:key/versions
func VersionsHandler(cat Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		pkgs, err := cat.Versions(c.Request.Context(), c.Param("key"))
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, pkgs)
	}
}

// @Summary      Publication history of a package
// @Tags         Packages
// @Security     Bearer
// @Produce      json
// @Param        id   path      string  true  "Package ID"
// @Success      200  {array}   models.PublicationWithPackage
// @Failure      404  {object}  map[string]interface{}  "Package not found"
// @Router       /api/v1/packages/{id}/publications [get]
// HistoryHandler handles GET /api/v1/packages/:id/publications
func HistoryHandler(history PublicationHistory) gin.HandlerFunc {
	return func(c *gin.Context) {
		pubs, err := history.ListForPackage(c.Request.Context(), c.Param("id"))
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

// @Summary      Scan the source directory
// @Description  Catalogs every .apk file in the configured source directory. Existing versions are skipped.
// @Tags         Packages
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  catalog.ScanResult
// @Failure      500  {object}  map[string]interface{}  "Directory unreadable"
// @Router       /api/v1/packages/scan [post]
// ScanHandler handles POST /api/v1/packages/scan
func ScanHandler(scanner Scanner, dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := scanner.Scan(c.Request.Context(), dir)
		if err != nil {
			telemetry.ScansTotal.WithLabelValues("api", "error").Inc()
			respond.Error(c, err)
			return
		}
		telemetry.ScansTotal.WithLabelValues("api", "success").Inc()
		c.JSON(http.StatusOK, res)
	}
}

// multipartOverhead is the allowance for multipart framing on top of the file limit.
const multipartOverhead = 1 << 20

// @Summary      Upload an APK
// @Description  Stages an .apk file and catalogs it. An upload of an already cataloged version replaces the stored file. Requires the admin role.
// @Tags         Packages
// @Security     Bearer
// @Accept       multipart/form-data
// @Produce      json
// @Param        apk  formData  file  true  "APK file"
// @Success      201  {object}  map[string]interface{}  "package, replaced=false"
// @Success      200  {object}  map[string]interface{}  "package, replaced=true"
// @Failure      400  {object}  map[string]interface{}  "Not an .apk file or too large"
// @Failure      403  {object}  map[string]interface{}  "Role may not upload"
// @Router       /api/v1/packages/upload [post]
// UploadHandler handles POST /api/v1/packages/upload. The file part is
// streamed to staging storage without buffering the whole body.
func UploadHandler(intake Intake, maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+multipartOverhead)

		reader, err := c.Request.MultipartReader()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Expected a multipart/form-data body"})
			return
		}

		for {
			part, err := reader.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse multipart form"})
				return
			}
			if part.FormName() != "apk" || part.FileName() == "" {
				_ = part.Close()
				continue
			}

			pkg, inserted, err := intake.Accept(c.Request.Context(), middleware.GetIdentity(c), part.FileName(), part, -1)
			_ = part.Close()
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload exceeds the size limit"})
					return
				}
				respond.Error(c, err)
				return
			}

			status := http.StatusOK
			if inserted {
				status = http.StatusCreated
			}
			c.JSON(status, gin.H{"package": pkg, "replaced": !inserted})
			return
		}

		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file field 'apk'"})
	}
}
