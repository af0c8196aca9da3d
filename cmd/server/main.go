// @title           Audit Trail API
// @version         1.0.0
// @description     Append-only audit trail with change diffs, compliance tagging, GDPR export and erasure, and retention.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Service API key or JWT: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated port (default 9090, AUDIT_TELEMETRY_METRICS_PROMETHEUS_PORT) at GET /metrics, outside the Gin router.

// Package main is the entry point for the audit trail server binary. Subcommands are
// dispatched by a switch on os.Args:
//
//	serve                      run the HTTP API (default)
//	migrate <up|down>          apply or roll back schema migrations
//	retention                  run one retention pass and exit
//	verify <entry-id>          check the tamper hash of one entry
//	keygen <name> [scopes...]  issue a service API key
//	token <user-id> [scopes...] issue a JWT for an operator
//	version                    print the version
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/api"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/auth"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/config"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/crypto"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/repositories"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/jobs"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/middleware"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/storage"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/telemetry"

	// Import storage backends to register them
	_ "github.com/offiromer/agentspilot-marketing-sub000/internal/storage/azure"
	_ "github.com/offiromer/agentspilot-marketing-sub000/internal/storage/gcs"
	_ "github.com/offiromer/agentspilot-marketing-sub000/internal/storage/local"
	_ "github.com/offiromer/agentspilot-marketing-sub000/internal/storage/s3"
)

const usage = "available commands: serve, migrate, retention, verify, keygen, token, version"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	args := os.Args[min(len(os.Args), 2):]

	if command == "version" {
		fmt.Printf("Audit Trail v%s\n", api.Version)
		return nil
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg, configPath)
	case "migrate":
		if len(args) < 1 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, args[0])
	case "retention":
		return runRetention(cfg)
	case "verify":
		if len(args) < 1 {
			return fmt.Errorf("usage: %s verify <entry-id>", os.Args[0])
		}
		return verifyEntry(cfg, args[0])
	case "keygen":
		if len(args) < 1 {
			return fmt.Errorf("usage: %s keygen <name> [scopes...]", os.Args[0])
		}
		return keygen(cfg, args[0], args[1:])
	case "token":
		if len(args) < 1 {
			return fmt.Errorf("usage: %s token <user-id> [scopes...]", os.Args[0])
		}
		return issueToken(cfg, args[0], args[1:])
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}
}

// components is everything built from the config that more than one command needs.
type components struct {
	db      *sqlx.DB
	svc     *audit.Service
	archive storage.Storage
	redis   *redis.Client
}

func (c *components) close() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.db != nil {
		_ = c.db.Close()
	}
}

// build connects the store, archive, shippers and Redis. With migrate set, pending
// migrations are applied before the service starts.
func build(ctx context.Context, cfg *config.Config, migrate bool) (*components, error) {
	c := &components{}

	var store audit.Store
	if cfg.Audit.Store == "memory" {
		slog.Warn("audit store is in-memory; entries are lost on restart")
		store = audit.NewMemoryStore()
	} else {
		database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.db = database
		slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

		if migrate {
			if err := db.RunMigrations(database.DB, "up"); err != nil {
				c.close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			if v, dirty, err := db.GetMigrationVersion(database.DB); err == nil {
				slog.Info("database schema ready", "version", v, "dirty", dirty)
			}
		}
		store = repositories.NewAuditRepository(database)
	}

	opts := []audit.Option{audit.WithLogger(slog.Default().With("component", "audit"))}

	if cfg.Storage.DefaultBackend != "" {
		backend, err := storage.NewStorage(cfg)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
		}
		c.archive = backend

		archiveCfg := audit.ArchiveConfig{
			Prefix:   cfg.Storage.Prefix,
			URLTTL:   cfg.Storage.SignedURLTTL,
			Compress: cfg.Audit.EnableCompression,
		}
		if cfg.Crypto.ExportPassphrase != "" {
			cipher, err := crypto.DeriveBundleCipher(cfg.Crypto.ExportPassphrase, []byte(cfg.Crypto.ExportSalt), cfg.Crypto.KDFIterations)
			if err != nil {
				c.close()
				return nil, fmt.Errorf("failed to initialize export cipher: %w", err)
			}
			archiveCfg.Sealer = cipher
		}
		opts = append(opts, audit.WithArchive(audit.NewArchive(backend, archiveCfg)))
		slog.Info("archive storage enabled", "backend", cfg.Storage.DefaultBackend, "sealed", archiveCfg.Sealer != nil)
	}

	shippers, err := audit.NewMultiShipper(cfg.Audit.Shippers, cfg.Audit.EnableCompression)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
	}
	if shippers.Len() > 0 {
		opts = append(opts, audit.WithShipper(shippers))
		slog.Info("audit shippers enabled", "count", shippers.Len())
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			_ = shippers.Close()
			c.close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		c.redis = client
	}

	c.svc = audit.Init(store, audit.ConfigFrom(&cfg.Audit), opts...)
	return c, nil
}

func serve(cfg *config.Config, configPath string) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := config.Watch(configPath, func(next *config.Config) {
		telemetry.SetLevel(next.Logging.Level)
	}); err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	}

	authenticator, err := newAuthenticator(cfg)
	if err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	ctx := context.Background()
	c, err := build(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer c.close()

	deps := api.Deps{
		Config:  cfg,
		Audit:   c.svc,
		Archive: c.archive,
		Auth:    authenticator,
		Logger:  slog.Default(),
	}
	if c.db != nil {
		deps.DB = c.db
		telemetry.StartDBStatsCollector(c.db.DB)
	}

	var memLimiter *middleware.RateLimiter
	if rl := cfg.Security.RateLimiting; rl.Enabled {
		if c.redis != nil {
			deps.Limiter = middleware.NewRedisLimiter(c.redis, rl.RequestsPerMinute, rl.Burst)
		} else {
			memLimiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
				RequestsPerMinute: rl.RequestsPerMinute,
				BurstSize:         rl.Burst,
			})
			deps.Limiter = memLimiter
		}
	}

	var lock jobs.Lock
	if c.redis != nil {
		lock = jobs.NewRedisLock(c.redis)
	}
	enforcer := jobs.NewRetentionEnforcer(c.svc, &cfg.Audit.Retention, lock)
	go enforcer.Start(ctx)

	if cfg.Telemetry.Metrics.Enabled {
		go serveMetrics(cfg.Telemetry.Metrics.PrometheusPort)
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"store", cfg.Audit.Store,
			"tls", cfg.Security.TLS.Enabled,
			"api_keys", cfg.Auth.APIKeys.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Drain HTTP first so no ingest request lands after the final flush.
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	enforcer.Stop()
	if memLimiter != nil {
		memLimiter.Stop()
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), cfg.Audit.FlushTimeout)
	defer cancelFlush()
	if err := c.svc.Shutdown(flushCtx); err != nil {
		return fmt.Errorf("final audit flush failed (%d entries pending): %w", c.svc.Pending(), err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// serveMetrics exposes Prometheus on its own port, off the public ingress path.
func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	slog.Info("starting Prometheus metrics server", "addr", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server error", "error", err)
	}
}

func newAuthenticator(cfg *config.Config) (*middleware.Authenticator, error) {
	jwtManager, err := auth.NewJWTManager(&cfg.Auth)
	if err != nil {
		return nil, err
	}
	a := &middleware.Authenticator{JWT: jwtManager}
	if cfg.Auth.APIKeys.Enabled {
		keys, err := auth.NewKeyRing(&cfg.Auth.APIKeys)
		if err != nil {
			return nil, err
		}
		a.Keys = keys
		slog.Info("service API keys loaded", "count", keys.Len())
	}
	return a, nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(context.Background(), cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}

// runRetention performs one pass for cron-driven deployments. The Redis lock still
// applies so a cron job and a serving replica never purge concurrently.
func runRetention(cfg *config.Config) error {
	ctx := context.Background()
	c, err := build(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer c.close()

	var lock jobs.Lock
	if c.redis != nil {
		lock = jobs.NewRedisLock(c.redis)
	}
	report, runErr := jobs.NewRetentionEnforcer(c.svc, &cfg.Audit.Retention, lock).RunOnce(ctx)

	flushCtx, cancel := context.WithTimeout(ctx, cfg.Audit.FlushTimeout)
	defer cancel()
	if err := c.svc.Shutdown(flushCtx); err != nil {
		slog.Error("failed to flush retention audit entry", "error", err)
	}
	if runErr != nil {
		return runErr
	}
	if report == nil {
		fmt.Println("retention skipped: another replica holds the lock")
		return nil
	}
	fmt.Printf("deleted=%d scrubbed=%d archive=%s\n", report.Deleted, report.Scrubbed, report.Archive)
	return nil
}

func verifyEntry(cfg *config.Config, id string) error {
	ctx := context.Background()
	c, err := build(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer c.close()
	defer func() { _ = c.svc.Shutdown(ctx) }()

	entry, err := c.svc.Get(ctx, id)
	if err != nil {
		return err
	}
	result := audit.VerifyEntry(entry)
	fmt.Printf("%s %s %s\n", entry.ID, entry.Action, result)
	if result == audit.HashMismatch {
		return fmt.Errorf("entry %s failed tamper verification", id)
	}
	return nil
}

// keygen prints a new key once and the config entry holding its hash.
func keygen(cfg *config.Config, name string, scopes []string) error {
	if len(scopes) == 0 {
		scopes = []string{string(auth.ScopeAuditWrite)}
	}
	if err := auth.ValidateScopes(scopes); err != nil {
		return err
	}

	key, hash, display, err := auth.GenerateAPIKey(cfg.Auth.APIKeys.Prefix)
	if err != nil {
		return err
	}
	fmt.Printf("API key (shown once): %s\n\n", key)
	fmt.Printf("Add to auth.api_keys.keys:\n")
	fmt.Printf("  - name: %s\n    hash: %q\n    scopes: [%s]\n", name, hash, strings.Join(scopes, ", "))
	fmt.Printf("\nKey prefix for logs: %s\n", display)
	return nil
}

func issueToken(cfg *config.Config, userID string, scopes []string) error {
	if len(scopes) == 0 {
		scopes = []string{string(auth.ScopeAuditRead)}
	}
	if err := auth.ValidateScopes(scopes); err != nil {
		return err
	}

	ttl := time.Hour
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid TOKEN_TTL: %w", err)
		}
		ttl = d
	}

	jwtManager, err := auth.NewJWTManager(&cfg.Auth)
	if err != nil {
		return err
	}
	token, err := jwtManager.Generate(userID, scopes, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
