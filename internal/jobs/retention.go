// Package jobs contains background workers that run on a schedule.
// The retention enforcer purges expired audit entries and scrubs stale request
// context. Runs are idempotent: re-running after a crash deletes nothing twice.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit"
	"github.com/offiromer/agentspilot-marketing-sub000/internal/config"
)

const retentionLockKey = "audit:jobs:retention"

// RetentionRunner is implemented by *audit.Service.
type RetentionRunner interface {
	EnforceRetention(ctx context.Context, policy *audit.RetentionPolicy) (*audit.RetentionReport, error)
}

// Lock elects a single replica for a run. Acquire returns false when another holder
// owns key; the lock expires after ttl and is never released explicitly.
type Lock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLock is a SET NX lease shared by all replicas.
type RedisLock struct {
	client redis.UniversalClient
}

// NewRedisLock creates a lock backed by client.
func NewRedisLock(client redis.UniversalClient) *RedisLock {
	return &RedisLock{client: client}
}

// Acquire implements Lock.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// RetentionEnforcer runs retention on a fixed interval.
type RetentionEnforcer struct {
	runner   RetentionRunner
	lock     Lock
	enabled  bool
	interval time.Duration
	logger   *slog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRetentionEnforcer creates an enforcer from the retention config. lock may be nil
// for single-replica deployments.
func NewRetentionEnforcer(runner RetentionRunner, cfg *config.RetentionConfig, lock Lock) *RetentionEnforcer {
	interval := cfg.EnforceInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionEnforcer{
		runner:   runner,
		lock:     lock,
		enabled:  cfg.EnforceEnabled,
		interval: interval,
		logger:   slog.Default().With("job", "retention"),
		stopChan: make(chan struct{}),
	}
}

// Start runs once immediately and then on every tick until ctx is cancelled or Stop
// is called. It blocks; callers run it in a goroutine.
func (e *RetentionEnforcer) Start(ctx context.Context) {
	if !e.enabled {
		e.logger.Info("retention enforcer disabled (audit.retention.enforce_enabled=false)")
		return
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("retention enforcer started", "interval", e.interval)
	e.tick(ctx)

	for {
		select {
		case <-ticker.C:
			e.tick(ctx)
		case <-e.stopChan:
			e.logger.Info("retention enforcer stopped")
			return
		case <-ctx.Done():
			e.logger.Info("retention enforcer context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (e *RetentionEnforcer) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
}

func (e *RetentionEnforcer) tick(ctx context.Context) {
	if _, err := e.RunOnce(ctx); err != nil {
		e.logger.Error("retention run failed", "error", err)
	}
}

// RunOnce applies the configured policy. It returns a nil report without error when
// another replica holds the lock for this interval.
func (e *RetentionEnforcer) RunOnce(ctx context.Context) (*audit.RetentionReport, error) {
	if e.lock != nil {
		// Hold the lease slightly shorter than the interval so the next tick can win it.
		ok, err := e.lock.Acquire(ctx, retentionLockKey, e.interval*9/10)
		if err != nil {
			return nil, fmt.Errorf("acquire retention lock: %w", err)
		}
		if !ok {
			e.logger.Debug("retention run skipped, lock held by another replica")
			return nil, nil
		}
	}

	start := time.Now()
	report, err := e.runner.EnforceRetention(ctx, nil)
	if err != nil {
		return nil, err
	}
	e.logger.Info("retention run completed",
		"deleted", report.Deleted,
		"scrubbed", report.Scrubbed,
		"archive", report.Archive,
		"duration", time.Since(start))
	return report, nil
}
