package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/config"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
)

// Shipper forwards persisted batches to an external collector such as a SIEM.
// Ship is called after the batch has been written to the store.
type Shipper interface {
	Ship(ctx context.Context, batch []*models.AuditLog) error
	Close() error
}

// MultiShipper ships to multiple destinations
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper creates a shipper for every enabled config. compress gzips rotated
// files of file shippers.
func NewMultiShipper(configs []config.AuditShipperConfig, compress bool) (*MultiShipper, error) {
	ms := &MultiShipper{}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "syslog":
			slog.Warn("syslog audit shipper is not supported, skipping")
			continue
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File, compress)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			ms.Close()
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}
		ms.shippers = append(ms.shippers, shipper)
	}

	return ms, nil
}

// Len returns the number of active shippers.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends the batch to every shipper and keeps going past failures.
func (ms *MultiShipper) Ship(ctx context.Context, batch []*models.AuditLog) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WebhookShipper posts entries as a JSON array. With BatchSize > 0 entries are
// buffered and posted BatchSize at a time or every FlushInterval.
type WebhookShipper struct {
	url       string
	headers   map[string]string
	timeout   time.Duration
	batchSize int
	interval  time.Duration
	client    *http.Client

	batchCh   chan *models.AuditLog
	batch     []*models.AuditLog
	closeCh   chan struct{}
	closeOnce sync.Once
	done      sync.WaitGroup
}

// NewWebhookShipper creates a new webhook shipper
func NewWebhookShipper(cfg *config.AuditWebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	interval := time.Duration(cfg.FlushInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ws := &WebhookShipper{
		url:       cfg.URL,
		headers:   cfg.Headers,
		timeout:   timeout,
		batchSize: cfg.BatchSize,
		interval:  interval,
		client:    &http.Client{Timeout: timeout},
		batchCh:   make(chan *models.AuditLog, 1000),
		closeCh:   make(chan struct{}),
	}

	if ws.batchSize > 0 {
		ws.done.Add(1)
		go ws.processBatches()
	}
	return ws, nil
}

func (ws *WebhookShipper) processBatches() {
	defer ws.done.Done()

	ticker := time.NewTicker(ws.interval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-ws.batchCh:
			ws.batch = append(ws.batch, entry)
			if len(ws.batch) >= ws.batchSize {
				ws.flushBatch()
			}
		case <-ticker.C:
			ws.flushBatch()
		case <-ws.closeCh:
			for {
				select {
				case entry := <-ws.batchCh:
					ws.batch = append(ws.batch, entry)
				default:
					ws.flushBatch()
					return
				}
			}
		}
	}
}

func (ws *WebhookShipper) flushBatch() {
	if len(ws.batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ws.timeout)
	defer cancel()

	if err := ws.post(ctx, ws.batch); err != nil {
		slog.Warn("audit webhook delivery failed", "url", ws.url, "entries", len(ws.batch), "error", err)
	}
	ws.batch = nil
}

// Ship queues the batch when batching is enabled and posts it directly otherwise.
// Entries that do not fit the queue are posted directly.
func (ws *WebhookShipper) Ship(ctx context.Context, batch []*models.AuditLog) error {
	if len(batch) == 0 {
		return nil
	}
	if ws.batchSize > 0 {
		for i, entry := range batch {
			select {
			case ws.batchCh <- entry:
			default:
				return ws.post(ctx, batch[i:])
			}
		}
		return nil
	}
	return ws.post(ctx, batch)
}

func (ws *WebhookShipper) post(ctx context.Context, entries []*models.AuditLog) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal audit batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes buffered entries and stops the batch goroutine.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	ws.done.Wait()
	return nil
}

// FileShipper appends entries to a file as JSON lines, rotating it past MaxSizeMB.
type FileShipper struct {
	cfg      *config.AuditFileConfig
	compress bool
	file     *os.File
	mu       sync.Mutex
}

// NewFileShipper opens (or creates) the target file. With compress, rotated files are
// gzipped.
func NewFileShipper(cfg *config.AuditFileConfig, compress bool) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileShipper{cfg: cfg, compress: compress, file: file}, nil
}

// Ship writes one line per entry.
func (fs *FileShipper) Ship(_ context.Context, batch []*models.AuditLog) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				return fmt.Errorf("failed to rotate audit log: %w", err)
			}
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range batch {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}
	}
	if _, err := fs.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write audit entries: %w", err)
	}
	return nil
}

func (fs *FileShipper) backupName(n int) string {
	name := fmt.Sprintf("%s.%d", fs.cfg.Path, n)
	if fs.compress {
		name += ".gz"
	}
	return name
}

func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fs.backupName(i), fs.backupName(i+1))
	}

	if fs.compress {
		if err := gzipFile(fs.cfg.Path, fs.backupName(1)); err != nil {
			return err
		}
		if err := os.Remove(fs.cfg.Path); err != nil {
			return err
		}
	} else {
		_ = os.Rename(fs.cfg.Path, fs.backupName(1))
	}

	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(fs.backupName(fs.cfg.MaxBackups + 1))
	}

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		out.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
