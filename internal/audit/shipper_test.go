package audit_test

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/config"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
)

func shipBatch(actions ...string) []*models.AuditLog {
	batch := make([]*models.AuditLog, 0, len(actions))
	for _, a := range actions {
		batch = append(batch, &models.AuditLog{
			ID:         "id-" + a,
			Action:     a,
			EntityType: models.EntityAgent,
			Severity:   models.SeverityInfo,
			CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		})
	}
	return batch
}

// ---------------------------------------------------------------------------
// MultiShipper
// ---------------------------------------------------------------------------

func TestNewMultiShipper_Empty(t *testing.T) {
	ms, err := audit.NewMultiShipper(nil, false)
	if err != nil {
		t.Fatalf("NewMultiShipper(nil) error: %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ms.Len())
	}
	if err := ms.Ship(context.Background(), shipBatch("A")); err != nil {
		t.Errorf("Ship() on empty multi-shipper = %v, want nil", err)
	}
	if err := ms.Close(); err != nil {
		t.Errorf("Close() on empty multi-shipper = %v, want nil", err)
	}
}

func TestNewMultiShipper_SkipsDisabledAndSyslog(t *testing.T) {
	cfgs := []config.AuditShipperConfig{
		{Enabled: false, Type: "webhook", Webhook: &config.AuditWebhookConfig{URL: "http://example.com"}},
		{Enabled: true, Type: "syslog"},
	}
	ms, err := audit.NewMultiShipper(cfgs, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ms.Len())
	}
}

func TestNewMultiShipper_InvalidConfigs(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AuditShipperConfig
	}{
		{"unknown type", config.AuditShipperConfig{Enabled: true, Type: "foobar"}},
		{"webhook nil config", config.AuditShipperConfig{Enabled: true, Type: "webhook"}},
		{"file nil config", config.AuditShipperConfig{Enabled: true, Type: "file"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := audit.NewMultiShipper([]config.AuditShipperConfig{tt.cfg}, false); err == nil {
				t.Errorf("expected error for %s, got nil", tt.name)
			}
		})
	}
}

func TestMultiShipper_ContinuesAfterShipperError(t *testing.T) {
	srv1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv1.Close()

	var srv2Count atomic.Int32
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		srv2Count.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv2.Close()

	cfgs := []config.AuditShipperConfig{
		{Enabled: true, Type: "webhook", Webhook: &config.AuditWebhookConfig{URL: srv1.URL, TimeoutSecs: 1}},
		{Enabled: true, Type: "webhook", Webhook: &config.AuditWebhookConfig{URL: srv2.URL, TimeoutSecs: 1}},
	}
	ms, err := audit.NewMultiShipper(cfgs, false)
	if err != nil {
		t.Fatalf("NewMultiShipper error: %v", err)
	}
	defer ms.Close()

	if err := ms.Ship(context.Background(), shipBatch("A")); err == nil {
		t.Error("Ship() = nil, want error from first shipper")
	}
	if srv2Count.Load() != 1 {
		t.Errorf("second shipper received %d calls, want 1", srv2Count.Load())
	}
}

// ---------------------------------------------------------------------------
// WebhookShipper
// ---------------------------------------------------------------------------

func TestWebhookShipper_PostsJSONArray(t *testing.T) {
	var received bytes.Buffer
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		gotToken = r.Header.Get("X-Auth-Token")
		received.ReadFrom(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, err := audit.NewWebhookShipper(&config.AuditWebhookConfig{
		URL:         srv.URL,
		TimeoutSecs: 5,
		Headers:     map[string]string{"X-Auth-Token": "secret"},
	})
	if err != nil {
		t.Fatalf("NewWebhookShipper error: %v", err)
	}
	defer ws.Close()

	if err := ws.Ship(context.Background(), shipBatch("AGENT_CREATED", "AGENT_DELETED")); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	var decoded []models.AuditLog
	if err := json.Unmarshal(received.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if len(decoded) != 2 || decoded[1].Action != "AGENT_DELETED" {
		t.Errorf("decoded = %+v", decoded)
	}
	if gotToken != "secret" {
		t.Errorf("X-Auth-Token = %q, want secret", gotToken)
	}
}

func TestWebhookShipper_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&config.AuditWebhookConfig{URL: srv.URL, TimeoutSecs: 5})
	defer ws.Close()

	if err := ws.Ship(context.Background(), shipBatch("A")); err == nil {
		t.Error("Ship() = nil, want error for 500 response")
	}
}

func TestWebhookShipper_RequiresURL(t *testing.T) {
	if _, err := audit.NewWebhookShipper(&config.AuditWebhookConfig{}); err == nil {
		t.Error("expected error for empty url")
	}
}

func TestWebhookShipper_CloseTwice(t *testing.T) {
	ws, err := audit.NewWebhookShipper(&config.AuditWebhookConfig{URL: "http://localhost:0", BatchSize: 10})
	if err != nil {
		t.Fatalf("NewWebhookShipper: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
	ws.Close()
}

func TestWebhookShipper_BatchedBySize(t *testing.T) {
	sizes := make(chan int, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var entries []models.AuditLog
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &entries)
		sizes <- len(entries)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&config.AuditWebhookConfig{
		URL:           srv.URL,
		TimeoutSecs:   5,
		BatchSize:     2,
		FlushInterval: 60,
	})
	defer ws.Close()

	if err := ws.Ship(context.Background(), shipBatch("A", "B")); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	select {
	case n := <-sizes:
		if n != 2 {
			t.Errorf("posted %d entries, want 2", n)
		}
	case <-time.After(3 * time.Second):
		t.Error("timed out waiting for batch to be sent to server")
	}
}

func TestWebhookShipper_BatchFlushOnClose(t *testing.T) {
	done := make(chan struct{}, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&config.AuditWebhookConfig{
		URL:           srv.URL,
		TimeoutSecs:   5,
		BatchSize:     100,
		FlushInterval: 60,
	})

	ws.Ship(context.Background(), shipBatch("flush-on-close"))
	ws.Close()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Error("timed out waiting for close-triggered flush")
	}
}

// ---------------------------------------------------------------------------
// FileShipper
// ---------------------------------------------------------------------------

func TestFileShipper_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	fs, err := audit.NewFileShipper(&config.AuditFileConfig{Path: path}, false)
	if err != nil {
		t.Fatalf("NewFileShipper error: %v", err)
	}
	if err := fs.Ship(context.Background(), shipBatch("A", "B", "C")); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if err := fs.Ship(context.Background(), shipBatch("D")); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var actions []string
	for scanner.Scan() {
		var e models.AuditLog
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		actions = append(actions, e.Action)
	}
	if len(actions) != 4 || actions[0] != "A" || actions[3] != "D" {
		t.Errorf("actions = %v, want [A B C D]", actions)
	}
}

func TestNewFileShipper_InvalidPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodir", "audit.jsonl")
	if _, err := audit.NewFileShipper(&config.AuditFileConfig{Path: path}, false); err == nil {
		t.Error("expected error for path with nonexistent parent, got nil")
	}
}

func prefillOverOneMB(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 1024*1024+1), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestFileShipper_Rotate(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	prefillOverOneMB(t, logPath)

	fs, err := audit.NewFileShipper(&config.AuditFileConfig{Path: logPath, MaxSizeMB: 1, MaxBackups: 2}, false)
	if err != nil {
		t.Fatalf("NewFileShipper: %v", err)
	}
	defer fs.Close()

	if err := fs.Ship(context.Background(), shipBatch("after-rotate")); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	if info, err := os.Stat(logPath); err != nil || info.Size() > 1024 {
		t.Errorf("active file should be fresh after rotation: %v", err)
	}
	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("backup .1 missing after rotation: %v", err)
	}
}

func TestFileShipper_RotateCompressed(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	prefillOverOneMB(t, logPath)

	fs, err := audit.NewFileShipper(&config.AuditFileConfig{Path: logPath, MaxSizeMB: 1, MaxBackups: 3}, true)
	if err != nil {
		t.Fatalf("NewFileShipper: %v", err)
	}
	defer fs.Close()

	if err := fs.Ship(context.Background(), shipBatch("after-rotate")); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	f, err := os.Open(logPath + ".1.gz")
	if err != nil {
		t.Fatalf("compressed backup missing: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	n, _ := io.Copy(io.Discard, zr)
	if n != 1024*1024+1 {
		t.Errorf("decompressed size = %d, want %d", n, 1024*1024+1)
	}
	if _, err := os.Stat(logPath + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should have been removed")
	}
}
