package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/config"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/middleware"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/storage/local"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Test setup helpers
// ---------------------------------------------------------------------------

func newTestService(t *testing.T, opts ...audit.Option) (*audit.Service, *audit.MemoryStore) {
	t.Helper()
	store := audit.NewMemoryStore()
	cfg := audit.DefaultConfig()
	cfg.BatchInterval = time.Hour
	cfg.EnableTamperDetection = true
	svc := audit.New(store, cfg, opts...)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc, store
}

func newAuditRouter(svc *audit.Service) *gin.Engine {
	h := NewAuditHandler(svc)
	r := gin.New()
	r.GET("/logs", h.ListLogs)
	r.GET("/logs/:id", h.GetLog)
	r.GET("/users/:id/export", h.ExportUser)
	r.GET("/archive/export", h.ReadArchivedExport)
	r.POST("/users/:id/anonymize", h.AnonymizeUser)
	r.POST("/retention", h.ApplyRetention)
	r.POST("/flush", h.Flush)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func seed(t *testing.T, svc *audit.Service) {
	t.Helper()
	ctx := context.Background()
	svc.Log(ctx, audit.Input{Action: "USER_LOGIN", EntityType: models.EntityUser, UserID: "u1"})
	svc.Log(ctx, audit.Input{Action: "AGENT_DELETED", EntityType: models.EntityAgent, EntityID: "a1", UserID: "u1",
		Request: &audit.RequestContext{IPAddress: "10.0.0.1"}})
	svc.Log(ctx, audit.Input{Action: "USER_LOGIN", EntityType: models.EntityUser, UserID: "u2"})
	require.NoError(t, svc.Flush(ctx))
}

// ---------------------------------------------------------------------------
// ListLogs / GetLog
// ---------------------------------------------------------------------------

func TestListLogs(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc)
	r := newAuditRouter(svc)

	w := do(r, http.MethodGet, "/logs?user_id=u1&limit=1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res audit.QueryResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.EqualValues(t, 2, res.Total)
	assert.Len(t, res.Data, 1)
	assert.True(t, res.HasMore)

	w = do(r, http.MethodGet, "/logs?severity=critical&entity_type=agent", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.EqualValues(t, 1, res.Total)
	assert.Equal(t, "AGENT_DELETED", res.Data[0].Action)

	w = do(r, http.MethodGet, "/logs?start_date=2000-01-01T00:00:00Z", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListLogs_RecordsAccess(t *testing.T) {
	svc, store := newTestService(t)
	seed(t, svc)

	h := NewAuditHandler(svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, "auditor-3")
		c.Next()
	})
	r.GET("/logs", h.ListLogs)
	r.GET("/logs/:id", h.GetLog)

	w := do(r, http.MethodGet, "/logs?user_id=u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	entries, _ := store.ListByUser(context.Background(), "u2")
	require.Len(t, entries, 1)
	w = do(r, http.MethodGet, "/logs/"+entries[0].ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 2, svc.Pending())
	require.NoError(t, svc.Flush(context.Background()))

	res, err := svc.Query(context.Background(), audit.QueryParams{Actions: []string{"ADMIN_AUDIT_LOG_ACCESSED"}, SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, res.Data, 2)

	search := res.Data[0]
	require.NotNil(t, search.ActorID)
	assert.Equal(t, "auditor-3", *search.ActorID)
	assert.Equal(t, "user_id=u1", search.Details["query"])
	assert.EqualValues(t, 2, search.Details["results"])

	read := res.Data[1]
	require.NotNil(t, read.EntityID)
	assert.Equal(t, entries[0].ID, *read.EntityID)
}

func TestListLogs_InvalidParams(t *testing.T) {
	svc, _ := newTestService(t)
	r := newAuditRouter(svc)

	for _, q := range []string{"sort_by=user_id", "sort_order=sideways", "page=abc", "start_date=yesterday"} {
		w := do(r, http.MethodGet, "/logs?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestGetLog(t *testing.T) {
	svc, store := newTestService(t)
	seed(t, svc)
	r := newAuditRouter(svc)

	entries, _ := store.ListByUser(context.Background(), "u2")
	require.Len(t, entries, 1)

	w := do(r, http.MethodGet, "/logs/"+entries[0].ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Entry        models.AuditLog `json:"entry"`
		Verification string          `json:"verification"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, entries[0].ID, body.Entry.ID)
	assert.Equal(t, audit.HashValid, body.Verification)

	w = do(r, http.MethodGet, "/logs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ---------------------------------------------------------------------------
// ExportUser / AnonymizeUser
// ---------------------------------------------------------------------------

func TestExportUser_IncludesQueuedEntries(t *testing.T) {
	svc, store := newTestService(t)
	seed(t, svc)
	svc.Log(context.Background(), audit.Input{Action: "USER_LOGOUT", EntityType: models.EntityUser, UserID: "u1"})
	r := newAuditRouter(svc)

	w := do(r, http.MethodGet, "/users/u1/export", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var export audit.GDPRExport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &export))
	assert.Equal(t, "u1", export.UserID)
	assert.Equal(t, 3, export.Summary.TotalEntries)
	assert.Equal(t, 2, export.Summary.EntitiesModified["user"])

	// the export itself is recorded
	require.NoError(t, svc.Flush(context.Background()))
	res, total, err := store.Query(context.Background(), audit.Filter{Actions: []string{"DATA_EXPORTED"}, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.NotNil(t, res[0].EntityID)
	assert.Equal(t, "u1", *res[0].EntityID)
}

func TestExportUser_Archive(t *testing.T) {
	t.Run("archive not configured", func(t *testing.T) {
		svc, _ := newTestService(t)
		w := do(newAuditRouter(svc), http.MethodGet, "/users/u1/export?archive=true", "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("archive round trip", func(t *testing.T) {
		backend, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
		require.NoError(t, err)
		svc, _ := newTestService(t, audit.WithArchive(audit.NewArchive(backend, audit.ArchiveConfig{})))
		seed(t, svc)
		r := newAuditRouter(svc)

		w := do(r, http.MethodGet, "/users/u1/export?archive=true", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var body struct {
			Archive audit.ArchiveObject `json:"archive"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.NotEmpty(t, body.Archive.Path)

		w = do(r, http.MethodGet, "/archive/export?path="+body.Archive.Path, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var export audit.GDPRExport
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &export))
		assert.Equal(t, 2, export.Summary.TotalEntries)

		w = do(r, http.MethodGet, "/archive/export?path=audit/exports/missing.json", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = do(r, http.MethodGet, "/archive/export", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAnonymizeUser(t *testing.T) {
	svc, store := newTestService(t)
	seed(t, svc)
	r := newAuditRouter(svc)

	w := do(r, http.MethodPost, "/users/u1/anonymize", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"anonymized": 2}`, w.Body.String())

	left, err := store.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestAnonymizeUser_RecordsOperator(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc)

	h := NewAuditHandler(svc)
	r := gin.New()
	r.POST("/users/:id/anonymize", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, "admin-7")
		c.Next()
	}, h.AnonymizeUser)

	w := do(r, http.MethodPost, "/users/u1/anonymize", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, svc.Flush(context.Background()))

	res, err := svc.Query(context.Background(), audit.QueryParams{Actions: []string{"DATA_ANONYMIZED"}})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	marker := res.Data[0]
	assert.Nil(t, marker.UserID)
	require.NotNil(t, marker.ActorID)
	assert.Equal(t, "admin-7", *marker.ActorID)
}

// ---------------------------------------------------------------------------
// ApplyRetention / Flush
// ---------------------------------------------------------------------------

func TestApplyRetention(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc)
	r := newAuditRouter(svc)

	w := do(r, http.MethodPost, "/retention", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report audit.RetentionReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Zero(t, report.Deleted, "fresh entries are retained")

	w = do(r, http.MethodPost, "/retention", `{"default_days": 30}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/retention", `{"default_days": -1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/retention", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFlush(t *testing.T) {
	svc, store := newTestService(t)
	svc.Log(context.Background(), audit.Input{Action: "USER_LOGIN", EntityType: models.EntityUser, UserID: "u9"})
	require.Equal(t, 1, svc.Pending())

	w := do(newAuditRouter(svc), http.MethodPost, "/flush", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"flushed": true, "pending": 0}`, w.Body.String())
	assert.Equal(t, 1, store.Len())
}
