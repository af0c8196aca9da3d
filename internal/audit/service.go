// Package audit implements the audit trail: an in-process write-behind queue that
// enriches every recorded action with registry defaults, a sanitized change set and
// request context, then persists entries in bulk through a Store.
//
// Log never fails the caller. Entries are durable only after a successful flush,
// which happens when the queue reaches the batch size, on every batch interval tick,
// and on Shutdown. A batch whose write fails is reported and dropped.
//
// The read and compliance operations (Query, ExportUserData, AnonymizeUserData,
// ApplyRetentionPolicy) return errors to their callers.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/config"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/db/models"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/safego"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/telemetry"
)

// RetentionPolicy sets how long entries are kept, in days.
type RetentionPolicy struct {
	DefaultDays        int `json:"default_days"`
	CriticalEventsDays int `json:"critical_events_days"`
	GDPRMaxDays        int `json:"gdpr_max_days"`
}

// Config controls the service.
type Config struct {
	Enabled               bool
	BatchSize             int
	BatchInterval         time.Duration
	FlushTimeout          time.Duration
	Silent                bool
	Retention             RetentionPolicy
	EnableTamperDetection bool
	EnableCompression     bool
	SystemActorID         string
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		BatchSize:     100,
		BatchInterval: 5 * time.Second,
		FlushTimeout:  30 * time.Second,
		Silent:        true,
		Retention: RetentionPolicy{
			DefaultDays:        365,
			CriticalEventsDays: 2555,
			GDPRMaxDays:        90,
		},
	}
}

// ConfigFrom maps the application config section onto the service config.
func ConfigFrom(c *config.AuditConfig) Config {
	cfg := Config{
		Enabled:       c.Enabled,
		BatchSize:     c.BatchSize,
		BatchInterval: c.BatchInterval,
		FlushTimeout:  c.FlushTimeout,
		Silent:        c.Silent,
		Retention: RetentionPolicy{
			DefaultDays:        c.Retention.DefaultDays,
			CriticalEventsDays: c.Retention.CriticalEventsDays,
			GDPRMaxDays:        c.Retention.GDPRMaxDays,
		},
		EnableTamperDetection: c.EnableTamperDetection,
		EnableCompression:     c.EnableCompression,
		SystemActorID:         c.SystemActorID,
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = d.BatchInterval
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = d.FlushTimeout
	}
	if c.Retention.DefaultDays <= 0 {
		c.Retention.DefaultDays = d.Retention.DefaultDays
	}
	if c.Retention.CriticalEventsDays <= 0 {
		c.Retention.CriticalEventsDays = d.Retention.CriticalEventsDays
	}
	if c.Retention.GDPRMaxDays <= 0 {
		c.Retention.GDPRMaxDays = d.Retention.GDPRMaxDays
	}
	return c
}

// Option customizes a Service.
type Option func(*Service)

// WithShipper forwards every successfully written batch to sh.
func WithShipper(sh Shipper) Option {
	return func(s *Service) { s.shipper = sh }
}

// WithArchive copies expired entries to object storage before retention deletes them.
func WithArchive(a *Archive) Option {
	return func(s *Service) { s.archive = a }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.clock = now }
}

// WithLogger sets the diagnostic logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service is the audit trail. Create it with New and stop it with Shutdown.
type Service struct {
	store   Store
	cfg     Config
	shipper Shipper
	archive *Archive
	logger  *slog.Logger
	clock   func() time.Time

	mu    sync.Mutex
	queue []*models.AuditLog

	// flushMu is held from the queue swap until the batch write returns.
	flushMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates the service and, when enabled, starts the periodic flush.
func New(store Store, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		clock:  time.Now,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cfg.Enabled {
		s.wg.Add(1)
		go s.run()
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Log records an action. It never returns an error and never panics; failures are
// logged and counted. When the append fills a batch the queue is handed to a
// background write immediately.
func (s *Service) Log(ctx context.Context, in Input) {
	if !s.cfg.Enabled {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.report("log", fmt.Errorf("panic: %v", r), "action", in.Action)
		}
	}()

	entry, err := s.buildEntry(in)
	if err != nil {
		s.report("log", err, "action", in.Action)
	}
	if entry == nil {
		return
	}

	s.mu.Lock()
	s.queue = append(s.queue, entry)
	depth := len(s.queue)
	s.mu.Unlock()

	telemetry.AuditEntriesLoggedTotal.WithLabelValues(string(entry.Severity)).Inc()
	telemetry.AuditQueueDepth.Set(float64(depth))

	if depth >= s.cfg.BatchSize {
		if batch, ok := s.takeBatch(false); ok {
			safego.Go("flush", func() {
				wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FlushTimeout)
				defer cancel()
				_ = s.writeBatch(wctx, batch)
			})
		}
	}
}

// Flush writes everything queued so far in one bulk insert. It is a no-op when the
// queue is empty or another flush is in flight. The batch is not requeued on error.
func (s *Service) Flush(ctx context.Context) error {
	batch, ok := s.takeBatch(false)
	if !ok {
		return nil
	}
	return s.writeBatch(ctx, batch)
}

// Pending returns the number of queued, unwritten entries.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Shutdown stops the periodic flush, waits for any in-flight write, flushes what is
// left and closes the shipper. Safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	var err error
	if batch, ok := s.takeBatch(true); ok {
		err = s.writeBatch(ctx, batch)
	}
	if s.shipper != nil {
		if cerr := s.shipper.Close(); cerr != nil {
			s.report("ship", cerr)
		}
	}
	return err
}

// takeBatch acquires the flush lock and swaps the queue out. With wait=false it gives
// up when a flush is already running. On success the caller owns the lock and must
// release it through writeBatch.
func (s *Service) takeBatch(wait bool) ([]*models.AuditLog, bool) {
	if wait {
		s.flushMu.Lock()
	} else if !s.flushMu.TryLock() {
		return nil, false
	}

	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		s.flushMu.Unlock()
		return nil, false
	}
	telemetry.AuditQueueDepth.Set(0)
	return batch, true
}

func (s *Service) writeBatch(ctx context.Context, batch []*models.AuditLog) error {
	defer s.flushMu.Unlock()

	start := time.Now()
	err := s.store.InsertBatch(ctx, batch)
	telemetry.AuditFlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.AuditEntriesDroppedTotal.Add(float64(len(batch)))
		s.report("flush", err, "batch_size", len(batch))
		return fmt.Errorf("flush %d audit entries: %w", len(batch), err)
	}
	telemetry.AuditFlushBatchSize.Observe(float64(len(batch)))
	s.logger.Debug("audit batch flushed", "batch_size", len(batch), "duration", time.Since(start))

	if s.shipper != nil {
		if err := s.shipper.Ship(ctx, batch); err != nil {
			s.report("ship", err, "batch_size", len(batch))
		}
	}
	return nil
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
			_ = s.Flush(ctx)
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) now() time.Time {
	// Postgres keeps microseconds; truncating keeps hashes stable across a round trip.
	return s.clock().UTC().Truncate(time.Microsecond)
}

// report is the single diagnostic path for audit failures.
func (s *Service) report(op string, err error, args ...any) {
	telemetry.AuditErrorsTotal.WithLabelValues(op).Inc()
	attrs := append([]any{"op", op, "error", err}, args...)
	if s.cfg.Silent {
		s.logger.Warn("audit operation failed", attrs...)
		return
	}
	s.logger.Error("audit operation failed", attrs...)
}
