package audit_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/diff"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// recordingStore remembers every batch handed to InsertBatch.
type recordingStore struct {
	*audit.MemoryStore
	mu      sync.Mutex
	batches [][]*models.AuditLog
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: audit.NewMemoryStore()}
}

func (s *recordingStore) InsertBatch(ctx context.Context, entries []*models.AuditLog) error {
	s.mu.Lock()
	s.batches = append(s.batches, append([]*models.AuditLog(nil), entries...))
	s.mu.Unlock()
	return s.MemoryStore.InsertBatch(ctx, entries)
}

func (s *recordingStore) Batches() [][]*models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]*models.AuditLog(nil), s.batches...)
}

// blockingStore holds InsertBatch until release is closed.
type blockingStore struct {
	*recordingStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingStore() *blockingStore {
	return &blockingStore{
		recordingStore: newRecordingStore(),
		started:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (s *blockingStore) InsertBatch(ctx context.Context, entries []*models.AuditLog) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.recordingStore.InsertBatch(ctx, entries)
}

type failingStore struct {
	*audit.MemoryStore
}

func (failingStore) InsertBatch(context.Context, []*models.AuditLog) error {
	return errors.New("connection refused")
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// tickingClock advances one second per reading.
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func testConfig() audit.Config {
	cfg := audit.DefaultConfig()
	cfg.BatchInterval = time.Hour
	return cfg
}

func newTestService(t *testing.T, store audit.Store, cfg audit.Config, opts ...audit.Option) *audit.Service {
	t.Helper()
	opts = append([]audit.Option{audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	svc := audit.New(store, cfg, opts...)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc
}

func userEvent(action, userID string) audit.Input {
	return audit.Input{Action: action, EntityType: models.EntityUser, UserID: userID}
}

// ---------------------------------------------------------------------------
// Queue and flush
// ---------------------------------------------------------------------------

func TestLog_BatchSizeTriggersSingleInsert(t *testing.T) {
	store := newRecordingStore()
	cfg := testConfig()
	cfg.BatchSize = 3
	svc := newTestService(t, store, cfg)
	ctx := context.Background()

	svc.Log(ctx, userEvent("USER_LOGIN", "u1"))
	svc.Log(ctx, userEvent("USER_LOGIN", "u2"))
	assert.Equal(t, 2, svc.Pending())
	svc.Log(ctx, userEvent("USER_LOGIN", "u3"))
	assert.Equal(t, 0, svc.Pending(), "queue should be handed off synchronously")

	require.Eventually(t, func() bool { return store.Len() == 3 }, time.Second, 5*time.Millisecond)
	batches := store.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)
}

func TestFlush_AtMostOneInFlight(t *testing.T) {
	store := newBlockingStore()
	svc := newTestService(t, store, testConfig())
	ctx := context.Background()

	svc.Log(ctx, userEvent("USER_LOGIN", "u1"))

	done := make(chan error, 1)
	go func() { done <- svc.Flush(ctx) }()
	<-store.started

	svc.Log(ctx, userEvent("USER_LOGOUT", "u1"))
	assert.NoError(t, svc.Flush(ctx), "concurrent flush should be a no-op")
	assert.Equal(t, 1, svc.Pending(), "entry logged during a flush stays queued")

	close(store.release)
	require.NoError(t, <-done)
	require.NoError(t, svc.Flush(ctx))

	batches := store.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, "USER_LOGIN", batches[0][0].Action)
	assert.Equal(t, "USER_LOGOUT", batches[1][0].Action)
}

func TestFlush_ThenAppendKeepsOrder(t *testing.T) {
	store := newRecordingStore()
	svc := newTestService(t, store, testConfig())
	ctx := context.Background()

	svc.Log(ctx, userEvent("AGENT_CREATED", "u1"))
	svc.Log(ctx, userEvent("AGENT_UPDATED", "u1"))
	require.NoError(t, svc.Flush(ctx))
	svc.Log(ctx, userEvent("AGENT_PAUSED", "u1"))
	require.NoError(t, svc.Flush(ctx))

	batches := store.Batches()
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 2)
	assert.Equal(t, "AGENT_CREATED", batches[0][0].Action)
	assert.Equal(t, "AGENT_UPDATED", batches[0][1].Action)
	require.Len(t, batches[1], 1)
	assert.Equal(t, "AGENT_PAUSED", batches[1][0].Action)
}

func TestFlush_EmptyQueueIsNoop(t *testing.T) {
	store := newRecordingStore()
	svc := newTestService(t, store, testConfig())

	require.NoError(t, svc.Flush(context.Background()))
	assert.Empty(t, store.Batches())
}

func TestTicker_FlushesPeriodically(t *testing.T) {
	store := newRecordingStore()
	cfg := testConfig()
	cfg.BatchInterval = 20 * time.Millisecond
	svc := newTestService(t, store, cfg)

	svc.Log(context.Background(), userEvent("USER_LOGIN", "u1"))
	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestShutdown_FlushesRemainder(t *testing.T) {
	store := newRecordingStore()
	svc := audit.New(store, testConfig())

	svc.Log(context.Background(), userEvent("USER_LOGOUT", "u1"))
	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Equal(t, 1, store.Len())
	require.NoError(t, svc.Shutdown(context.Background()), "second shutdown is harmless")
}

func TestLog_DisabledIsNoop(t *testing.T) {
	store := newRecordingStore()
	cfg := testConfig()
	cfg.Enabled = false
	svc := newTestService(t, store, cfg)

	svc.Log(context.Background(), userEvent("USER_LOGIN", "u1"))
	assert.Equal(t, 0, svc.Pending())
}

// ---------------------------------------------------------------------------
// Failure reporting
// ---------------------------------------------------------------------------

func TestFlush_FailureDropsBatchAndReports(t *testing.T) {
	tests := []struct {
		name   string
		silent bool
		level  string
	}{
		{"silent logs warn", true, "level=WARN"},
		{"loud logs error", false, "level=ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs syncBuffer
			cfg := testConfig()
			cfg.Silent = tt.silent
			svc := newTestService(t, failingStore{audit.NewMemoryStore()}, cfg,
				audit.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

			errsBefore := testutil.ToFloat64(telemetry.AuditErrorsTotal.WithLabelValues("flush"))
			droppedBefore := testutil.ToFloat64(telemetry.AuditEntriesDroppedTotal)

			svc.Log(context.Background(), userEvent("USER_LOGIN", "u1"))
			err := svc.Flush(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "connection refused")
			assert.Equal(t, 0, svc.Pending(), "failed batch is not requeued")

			assert.Equal(t, errsBefore+1, testutil.ToFloat64(telemetry.AuditErrorsTotal.WithLabelValues("flush")))
			assert.Equal(t, droppedBefore+1, testutil.ToFloat64(telemetry.AuditEntriesDroppedTotal))
			assert.Contains(t, logs.String(), tt.level)
		})
	}
}

func TestLog_RecoversFromPanic(t *testing.T) {
	svc := newTestService(t, audit.NewMemoryStore(), testConfig(),
		audit.WithClock(func() time.Time { panic("clock broke") }))

	assert.NotPanics(t, func() {
		svc.Log(context.Background(), userEvent("USER_LOGIN", "u1"))
	})
	assert.Equal(t, 0, svc.Pending())
}

// ---------------------------------------------------------------------------
// Entry building
// ---------------------------------------------------------------------------

func TestLog_AgentDeletedEndToEnd(t *testing.T) {
	store := audit.NewMemoryStore()
	svc := newTestService(t, store, testConfig())
	ctx := context.Background()

	before := map[string]any{"name": "Outreach bot", "status": "active"}
	svc.Log(ctx, audit.Input{
		Action:       string(audit.EventAgentDeleted),
		EntityType:   models.EntityAgent,
		EntityID:     "agent-42",
		ResourceName: "Outreach bot",
		UserID:       "u1",
		Changes:      diff.Generate(before, nil),
		Request:      &audit.RequestContext{IPAddress: "::1", UserAgent: "curl/8", SessionID: "sess-1"},
	})
	require.NoError(t, svc.Flush(ctx))

	res, err := svc.Query(ctx, audit.QueryParams{Actions: []string{"AGENT_DELETED"}})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	e := res.Data[0]

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, models.SeverityCritical, e.Severity)
	assert.True(t, e.HasComplianceFlag(models.ComplianceSOC2))
	assert.True(t, e.HasComplianceFlag(models.ComplianceGDPR))
	require.NotNil(t, e.ActorID)
	assert.Equal(t, "u1", *e.ActorID, "actor defaults to user")
	require.NotNil(t, e.IPAddress)
	assert.Equal(t, "127.0.0.1", *e.IPAddress)
	require.NotNil(t, e.SessionID)
	assert.Equal(t, "sess-1", *e.SessionID)
	assert.Contains(t, e.Changes, diff.DeletedKey)
	assert.Equal(t, "Deleted", e.Details["changeSummary"])
	assert.Equal(t, time.UTC, e.CreatedAt.Location())
}

func TestLog_CallerOverridesMetadata(t *testing.T) {
	store := audit.NewMemoryStore()
	svc := newTestService(t, store, testConfig())
	ctx := context.Background()

	svc.Log(ctx, audit.Input{
		Action:          "AGENT_CREATED",
		EntityType:      models.EntityAgent,
		Severity:        models.SeverityWarning,
		ComplianceFlags: []models.ComplianceFlag{models.ComplianceHIPAA},
	})
	svc.Log(ctx, audit.Input{Action: "SOMETHING_NEW", EntityType: models.EntitySystem})
	require.NoError(t, svc.Flush(ctx))

	res, err := svc.Query(ctx, audit.QueryParams{SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	assert.Equal(t, models.SeverityWarning, res.Data[0].Severity)
	assert.Equal(t, []models.ComplianceFlag{models.ComplianceHIPAA}, res.Data[0].ComplianceFlags)
	assert.Equal(t, models.SeverityInfo, res.Data[1].Severity, "unknown events default to info")
	assert.Empty(t, res.Data[1].ComplianceFlags)
}

func TestLog_SystemActorFallback(t *testing.T) {
	store := audit.NewMemoryStore()
	cfg := testConfig()
	cfg.SystemActorID = "00000000-0000-0000-0000-000000000000"
	svc := newTestService(t, store, cfg)
	ctx := context.Background()

	svc.Log(ctx, audit.Input{Action: "SYSTEM_CONFIG_UPDATED", EntityType: models.EntitySystem})
	svc.Log(ctx, userEvent("USER_LOGIN", "u1"))
	require.NoError(t, svc.Flush(ctx))

	res, err := svc.Query(ctx, audit.QueryParams{SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, res.Data, 2)

	sys := res.Data[0]
	require.NotNil(t, sys.UserID)
	assert.Equal(t, cfg.SystemActorID, *sys.UserID)
	assert.Equal(t, cfg.SystemActorID, *sys.ActorID)
	assert.Equal(t, true, sys.Details["system_action"])

	_, marked := res.Data[1].Details["system_action"]
	assert.False(t, marked, "entries with a real user are not system actions")
}

func TestLog_SanitizesChanges(t *testing.T) {
	store := audit.NewMemoryStore()
	svc := newTestService(t, store, testConfig())
	ctx := context.Background()

	svc.Log(ctx, audit.Input{
		Action:     "PLUGIN_TOKEN_REFRESHED",
		EntityType: models.EntityPlugin,
		Changes: diff.Generate(
			map[string]any{"access_token": "old", "scope": "read"},
			map[string]any{"access_token": "new", "scope": "write"},
		),
	})
	require.NoError(t, svc.Flush(ctx))

	res, err := svc.Query(ctx, audit.QueryParams{})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	fc, ok := res.Data[0].Changes["access_token"].(*diff.FieldChange)
	require.True(t, ok)
	assert.Equal(t, diff.Redacted, fc.To)
	assert.Equal(t, diff.Redacted, fc.From)
}

func TestLog_SanitizesNestedValuesAndSummary(t *testing.T) {
	store := audit.NewMemoryStore()
	svc := newTestService(t, store, testConfig())
	ctx := context.Background()

	svc.Log(ctx, audit.Input{
		Action:     "AGENT_UPDATED",
		EntityType: models.EntityAgent,
		EntityID:   "agent-1",
		Changes: diff.Generate(
			map[string]any{"config": nil, "creds": []any{}},
			map[string]any{
				"config": map[string]any{"apiKey": "sk-live-123"},
				"creds":  []any{map[string]any{"password": "hunter2"}},
			},
		),
	})
	require.NoError(t, svc.Flush(ctx))

	res, err := svc.Query(ctx, audit.QueryParams{})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	e := res.Data[0]

	changes, err := json.Marshal(e.Changes)
	require.NoError(t, err)
	assert.NotContains(t, string(changes), "sk-live-123")
	assert.NotContains(t, string(changes), "hunter2")

	summary, _ := e.Details["changeSummary"].(string)
	require.NotEmpty(t, summary)
	assert.NotContains(t, summary, "sk-live-123")
	assert.Contains(t, summary, diff.Redacted)
}

func TestLog_TamperHashRoundTrip(t *testing.T) {
	store := audit.NewMemoryStore()
	cfg := testConfig()
	cfg.EnableTamperDetection = true
	clock := &tickingClock{t: time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)}
	svc := newTestService(t, store, cfg, audit.WithClock(clock.Now))
	ctx := context.Background()

	svc.Log(ctx, audit.Input{
		Action:     "AGENT_UPDATED",
		EntityType: models.EntityAgent,
		EntityID:   "agent-1",
		UserID:     "u1",
		Changes:    diff.Generate(map[string]any{"status": "draft"}, map[string]any{"status": "active"}),
	})
	require.NoError(t, svc.Flush(ctx))

	res, err := svc.Query(ctx, audit.QueryParams{})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	e := res.Data[0]
	require.NotNil(t, e.Hash)
	assert.Equal(t, 0, e.CreatedAt.Nanosecond()%1000, "created_at is truncated to microseconds")

	got, err := svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.HashValid, audit.VerifyEntry(got))
}

// captureShipper keeps every shipped batch.
type captureShipper struct {
	mu      sync.Mutex
	shipped []*models.AuditLog
}

func (s *captureShipper) Ship(_ context.Context, batch []*models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipped = append(s.shipped, batch...)
	return nil
}

func (s *captureShipper) Close() error { return nil }

func TestFlush_ShippedEntriesCarryStoredIDs(t *testing.T) {
	store := audit.NewMemoryStore()
	shipper := &captureShipper{}
	svc := newTestService(t, store, testConfig(), audit.WithShipper(shipper))
	ctx := context.Background()

	svc.Log(ctx, userEvent("USER_LOGIN", "u1"))
	svc.Log(ctx, userEvent("USER_LOGOUT", "u1"))
	require.NoError(t, svc.Flush(ctx))

	shipper.mu.Lock()
	shipped := append([]*models.AuditLog(nil), shipper.shipped...)
	shipper.mu.Unlock()
	require.Len(t, shipped, 2)

	for _, e := range shipped {
		require.NotEmpty(t, e.ID)
		stored, err := svc.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.Action, stored.Action)
	}
	assert.NotEqual(t, shipped[0].ID, shipped[1].ID)
}
