// Package api wires together all HTTP routes of the APK registry.
//
// Every route under /api/v1 requires a bearer JWT. Role checks that depend only
// on the route (upload, settings updates) are enforced by middleware; the
// publication endpoint authorizes inside the engine because the required
// capability depends on the requested environment.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/apk-registry/apk-registry/internal/api/packages"
	"github.com/apk-registry/apk-registry/internal/api/publications"
	"github.com/apk-registry/apk-registry/internal/api/settings"
	"github.com/apk-registry/apk-registry/internal/auth"
	"github.com/apk-registry/apk-registry/internal/catalog"
	"github.com/apk-registry/apk-registry/internal/config"
	"github.com/apk-registry/apk-registry/internal/db/repositories"
	"github.com/apk-registry/apk-registry/internal/jobs"
	"github.com/apk-registry/apk-registry/internal/middleware"
	"github.com/apk-registry/apk-registry/internal/publishing"
	"github.com/apk-registry/apk-registry/internal/safego"
	"github.com/apk-registry/apk-registry/internal/storage"

	// Import storage backends to register them
	_ "github.com/apk-registry/apk-registry/internal/storage/azure"
	_ "github.com/apk-registry/apk-registry/internal/storage/gcs"
	_ "github.com/apk-registry/apk-registry/internal/storage/local"
	_ "github.com/apk-registry/apk-registry/internal/storage/s3"
)

// Version is reported by /version. It is overridden at build time with
// -ldflags "-X github.com/apk-registry/apk-registry/internal/api.Version=...".
var Version = "0.1.0"

// PublicationService is the publication engine as used by the routes.
type PublicationService interface {
	publications.Engine
	packages.PublicationHistory
}

// Services holds everything the routes call into.
type Services struct {
	Catalog      packages.Catalog
	Scanner      packages.Scanner
	Intake       packages.Intake
	Publications PublicationService
	Settings     settings.Store
	// Staging is probed by /ready
	Staging storage.Storage
}

// NewServices builds the catalog, intake and publication engine over db.
func NewServices(cfg *config.Config, db *sql.DB) (*Services, *catalog.Scanner, *publishing.Engine, error) {
	staging, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}

	artifacts := storage.NewArtifacts(staging)
	packageRepo := repositories.NewPackageRepository(db)
	publicationRepo := repositories.NewPublicationRepository(db)
	settingRepo := repositories.NewSettingRepository(sqlx.NewDb(db, "postgres"))

	catalogSvc := catalog.NewService(packageRepo, artifacts)
	scanner := catalog.NewScanner(catalogSvc)
	resolver := publishing.NewPathResolver(settingRepo, &cfg.Publication)
	engine := publishing.NewEngine(publicationRepo, catalogSvc, artifacts, resolver, &cfg.Publication)

	return &Services{
		Catalog:      catalogSvc,
		Scanner:      scanner,
		Intake:       catalog.NewIntake(catalogSvc, staging, cfg.Catalog.MaxUploadSize),
		Publications: engine,
		Settings:     settingRepo,
		Staging:      staging,
	}, scanner, engine, nil
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	watcher      *jobs.DirectoryWatcher
	verifier     *jobs.PublicationVerifier
	rateLimiters []*middleware.RateLimiter
	redisLimiter *middleware.RedisRateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.watcher != nil {
		bg.watcher.Stop()
	}
	if bg.verifier != nil {
		bg.verifier.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.redisLimiter != nil {
		if err := bg.redisLimiter.Close(); err != nil {
			slog.Warn("failed to close redis rate limiter", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates the services, starts the background jobs and returns the
// configured Gin router.
func NewRouter(ctx context.Context, cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	svc, scanner, engine, err := NewServices(cfg, db)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Initialized storage backend: %s", cfg.Storage.DefaultBackend)

	bg := &BackgroundServices{}

	var general, upload middleware.Limiter
	if rl := cfg.Security.RateLimiting; rl.Enabled {
		if rl.RedisURL != "" {
			redisLimiter, err := middleware.NewRedisRateLimiter(ctx, rl.RedisURL, middleware.RateLimitConfigFrom(rl))
			if err != nil {
				return nil, nil, err
			}
			bg.redisLimiter = redisLimiter
			general = redisLimiter
			log.Println("Rate limiting backed by redis")
		} else {
			memLimiter := middleware.NewRateLimiter(middleware.RateLimitConfigFrom(rl))
			bg.rateLimiters = append(bg.rateLimiters, memLimiter)
			general = memLimiter
		}
		uploadLimiter := middleware.NewRateLimiter(middleware.UploadRateLimitConfig())
		bg.rateLimiters = append(bg.rateLimiters, uploadLimiter)
		upload = uploadLimiter
	}

	if cfg.Catalog.Watch {
		bg.watcher = jobs.NewDirectoryWatcher(scanner, cfg.Catalog.SourceDirectory, cfg.Catalog.ScanInterval)
		safego.GoNamed("directory-watcher", func() {
			if err := bg.watcher.Start(ctx); err != nil {
				slog.Error("directory watcher exited", "directory", cfg.Catalog.SourceDirectory, "error", err)
			}
		})
	}

	bg.verifier = jobs.NewPublicationVerifier(engine, &cfg.Publication)
	safego.GoNamed("publication-verifier", func() { bg.verifier.Start(ctx) })

	return newEngine(cfg, db, svc, general, upload), bg, nil
}

// newEngine registers middleware and routes. Nil limiters disable rate limiting.
func newEngine(cfg *config.Config, db *sql.DB, svc *Services, general, upload middleware.Limiter) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, svc.Staging, cfg.Catalog.SourceDirectory))
	router.GET("/version", versionHandler())

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware())
	if general != nil {
		v1.Use(middleware.RateLimitMiddleware(general))
	}
	v1.Use(middleware.RequireAction(auth.ActionRead))

	{
		pkgs := v1.Group("/packages")
		pkgs.GET("", packages.ListHandler(svc.Catalog))
		pkgs.GET("/by-key/:key/versions", packages.VersionsHandler(svc.Catalog))
		pkgs.GET("/:id", packages.GetHandler(svc.Catalog))
		pkgs.GET("/:id/publications", packages.HistoryHandler(svc.Publications))
		pkgs.POST("/scan", middleware.RequireAction(auth.ActionScan),
			packages.ScanHandler(svc.Scanner, cfg.Catalog.SourceDirectory))

		uploadChain := []gin.HandlerFunc{middleware.RequireAction(auth.ActionUpload)}
		if upload != nil {
			uploadChain = append(uploadChain, middleware.RateLimitMiddleware(upload))
		}
		uploadChain = append(uploadChain, packages.UploadHandler(svc.Intake, cfg.Catalog.MaxUploadSize))
		pkgs.POST("/upload", uploadChain...)
	}

	{
		pubs := v1.Group("/publications")
		pubs.GET("", publications.ListHandler(svc.Publications))
		pubs.POST("", publications.CreateHandler(svc.Publications))
		pubs.GET("/:id/status", publications.StatusHandler(svc.Publications))
	}

	{
		st := v1.Group("/settings")
		st.GET("", settings.ListHandler(svc.Settings))
		st.GET("/:key", settings.GetHandler(svc.Settings))
		st.PUT("/:key", middleware.RequireAction(auth.ActionManageSettings), settings.UpdateHandler(svc.Settings))
	}

	return router
}

// @Summary      Health check
// @Description  Liveness probe. Fails when the database does not answer.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Checks the database, the staging storage backend and the source directory.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks"
// @Router       /ready [get]
// readinessHandler also probes the staging backend and the source directory so
// a readiness gate fails when scans or uploads would error.
func readinessHandler(db *sql.DB, staging storage.Storage, sourceDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		notReady := func(check, msg string) {
			checks[check] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  msg,
			})
		}

		if err := db.PingContext(c.Request.Context()); err != nil {
			notReady("database", "database not ready")
			return
		}
		checks["database"] = "healthy"

		// a metadata lookup on a key that never exists exercises credentials and
		// connectivity; not found is the healthy answer
		if _, err := staging.GetMetadata(c.Request.Context(), ".readiness-probe"); err != nil && !errors.Is(err, storage.ErrNotFound) {
			notReady("storage", "storage backend not ready")
			return
		}
		checks["storage"] = "healthy"

		if info, err := os.Stat(sourceDir); err != nil || !info.IsDir() {
			notReady("source_directory", "source directory not readable")
			return
		}
		checks["source_directory"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware emits one structured record per request. The handler set up
// by telemetry.SetupLogger decides between JSON and text output.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.GetRequestID(c)),
			slog.String("user_agent", c.Request.UserAgent()),
		}
		if id := middleware.GetIdentity(c); id != nil {
			attrs = append(attrs, slog.String("user_id", id.UserID))
		}
		slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			methods := "GET, POST, PUT, OPTIONS"
			if len(cfg.Security.CORS.AllowedMethods) > 0 {
				methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

