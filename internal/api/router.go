// Package api wires together all HTTP routes of the audit trail service.
//
// Route grouping:
//   - /health and /ready are unauthenticated probes.
//   - /api/v1/audit/ is the ingest surface used by other services. It accepts an
//     API key or a JWT and requires audit:write (audit:read for the catalog).
//   - /api/v1/admin/audit/ is the operator surface. Reads require audit:read and
//     anything that exports, erases or deletes entries requires audit:admin.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/api/admin"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/api/ingest"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/auth"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/config"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/middleware"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/storage"
)

// Version is reported by /version. Overridden at build time via -ldflags.
var Version = "0.1.0"

// Pinger is satisfied by *sql.DB and *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps holds everything the router needs. DB is nil when the service runs on the
// in-memory store; Archive and Limiter are optional.
type Deps struct {
	Config  *config.Config
	DB      Pinger
	Audit   *audit.Service
	Archive storage.Storage
	Auth    *middleware.Authenticator
	Limiter middleware.Limiter
	Logger  *slog.Logger
}

// NewRouter creates and configures the Gin router
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.AccessLogMiddleware(logger))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(d.Config.Security.TLS.Enabled)))

	router.GET("/health", healthCheckHandler(d.DB))
	router.GET("/ready", readinessHandler(d.DB, d.Archive, d.Audit))
	router.GET("/version", versionHandler())

	api := router.Group("/api/v1")
	if d.Limiter != nil {
		api.Use(middleware.RateLimitMiddleware(d.Limiter))
	}
	api.Use(middleware.AuthMiddleware(d.Auth))
	api.Use(middleware.AuditContextMiddleware())

	ingestHandler := ingest.NewHandler(d.Audit)
	events := api.Group("/audit/events")
	{
		events.POST("", middleware.RequireScope(auth.ScopeAuditWrite), ingestHandler.RecordEvent)
		events.GET("/catalog", middleware.RequireScope(auth.ScopeAuditRead), ingestHandler.Catalog)
	}

	auditHandler := admin.NewAuditHandler(d.Audit)
	statsHandler := admin.NewStatsHandler(d.Audit)

	reads := api.Group("/admin/audit", middleware.RequireScope(auth.ScopeAuditRead))
	{
		reads.GET("/logs", auditHandler.ListLogs)
		reads.GET("/logs/:id", auditHandler.GetLog)
		reads.GET("/stats", statsHandler.GetStats)
	}

	admins := api.Group("/admin/audit", middleware.RequireScope(auth.ScopeAuditAdmin))
	{
		admins.GET("/users/:id/export", auditHandler.ExportUser)
		admins.POST("/users/:id/anonymize", auditHandler.AnonymizeUser)
		admins.GET("/archive/export", auditHandler.ReadArchivedExport)
		admins.POST("/retention", auditHandler.ApplyRetention)
		admins.POST("/flush", auditHandler.Flush)
	}

	return router
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			if err := db.PingContext(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unhealthy",
					"error":  "database connection failed",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and the archive storage backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, pending"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error"
// @Router       /ready [get]
// readinessHandler also probes archive storage so retention and archived exports
// do not fail on a replica that reports ready.
func readinessHandler(db Pinger, archive storage.Storage, svc *audit.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := gin.H{}

		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				checks["database"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "database not ready",
				})
				return
			}
			checks["database"] = "healthy"
		} else {
			checks["database"] = "memory"
		}

		if archive != nil {
			// Exists on an absent sentinel exercises credentials and connectivity
			// without creating state.
			if _, err := archive.Exists(ctx, ".readiness-probe"); err != nil {
				checks["storage"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "storage backend not ready",
				})
				return
			}
			checks["storage"] = "healthy"
		}

		body := gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		}
		if svc != nil {
			body["pending"] = svc.Pending()
		}
		c.JSON(http.StatusOK, body)
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}
