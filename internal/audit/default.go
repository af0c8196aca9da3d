package audit

import (
	"context"
	"errors"
	"sync"
)

// ErrNotInitialized is returned by the package-level helpers before Init.
var ErrNotInitialized = errors.New("audit trail is not initialized")

var (
	defaultOnce    sync.Once
	defaultService *Service
)

// Init creates the process-wide service on first call and returns it. Later calls
// return the existing service and ignore their arguments.
func Init(store Store, cfg Config, opts ...Option) *Service {
	defaultOnce.Do(func() {
		defaultService = New(store, cfg, opts...)
	})
	return defaultService
}

// Default returns the process-wide service, or nil before Init.
func Default() *Service {
	return defaultService
}

// AuditLog records in on the process-wide service. It is a no-op before Init.
func AuditLog(ctx context.Context, in Input) {
	if s := Default(); s != nil {
		s.Log(ctx, in)
	}
}

// AuditQuery queries the process-wide service.
func AuditQuery(ctx context.Context, p QueryParams) (*QueryResult, error) {
	s := Default()
	if s == nil {
		return nil, ErrNotInitialized
	}
	return s.Query(ctx, p)
}

// AuditFlush flushes the process-wide service. It is a no-op before Init.
func AuditFlush(ctx context.Context) error {
	s := Default()
	if s == nil {
		return nil
	}
	return s.Flush(ctx)
}
