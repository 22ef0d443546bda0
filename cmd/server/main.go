// @title           APK Registry API
// @version         0.1.0
// @description     Catalog of Android application packages with audited publication to deployment environments.
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "JWT issued by `apk-registry token`. Format: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated port (default: 9090), configured with APKR_TELEMETRY_METRICS_PROMETHEUS_PORT. The path is always GET /metrics and is not served by the Gin router.

// Package main is the entry point for the APK registry binary. It dispatches
// the serve, migrate, scan, token and version subcommands with a plain switch
// on os.Args. serve migrates the schema on startup.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apk-registry/apk-registry/internal/api"
	"github.com/apk-registry/apk-registry/internal/auth"
	"github.com/apk-registry/apk-registry/internal/config"
	"github.com/apk-registry/apk-registry/internal/db"
	"github.com/apk-registry/apk-registry/internal/telemetry"
)

const usage = `usage: apk-registry <command>

commands:
  serve                          run the HTTP API (default)
  migrate <up|down>              apply or roll back schema migrations
  scan [dir]                     catalog every .apk in dir (default: catalog.source_directory)
  token <user-id> <email> <role> mint a bearer token (roles: admin, developer, viewer)
  version                        print the version`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run(args []string, out io.Writer) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	if command == "version" {
		fmt.Fprintf(out, "APK Registry v%s\n", api.Version)
		return nil
	}
	if command == "help" || command == "-h" || command == "--help" {
		fmt.Fprintln(out, usage)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(args) < 1 {
			return fmt.Errorf("usage: apk-registry migrate <up|down>")
		}
		return runMigrations(cfg, args[0])
	case "scan":
		dir := cfg.Catalog.SourceDirectory
		if len(args) > 0 {
			dir = args[0]
		}
		return runScan(cfg, dir, out)
	case "token":
		if len(args) != 3 {
			return fmt.Errorf("usage: apk-registry token <user-id> <email> <role>")
		}
		return runToken(args[0], args[1], args[2], cfg.Auth.TokenTTL, out)
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Fails outside development mode when no secret is configured
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(database)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// jobCtx outlives individual requests and is cancelled on shutdown
	jobCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()

	router, bgServices, err := api.NewRouter(jobCtx, cfg, database)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"storage_backend", cfg.Storage.DefaultBackend,
			"source_directory", cfg.Catalog.SourceDirectory,
			"watch", cfg.Catalog.Watch)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// copies are bounded by the copy timeout, so allow in-flight publications to settle
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	stopJobs()
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", v, "dirty", dirty)
	return nil
}

// runScan catalogs dir once and prints the counts as JSON.
func runScan(cfg *config.Config, dir string, out io.Writer) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	_, scanner, _, err := api.NewServices(cfg, database)
	if err != nil {
		return err
	}

	res, err := scanner.Scan(context.Background(), dir)
	if err != nil {
		telemetry.ScansTotal.WithLabelValues("cli", "error").Inc()
		return fmt.Errorf("scan failed: %w", err)
	}
	telemetry.ScansTotal.WithLabelValues("cli", "success").Inc()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// runToken prints a signed bearer token for the given caller.
func runToken(userID, email, roleName string, ttl time.Duration, out io.Writer) error {
	role, err := auth.ParseRole(roleName)
	if err != nil {
		return err
	}
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	token, err := auth.GenerateJWT(userID, email, role, ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
