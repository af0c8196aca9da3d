// Package safego launches background work that must not take the process down.
package safego

import (
	"fmt"
	"log/slog"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/telemetry"
)

// Go runs fn in a new goroutine. A panic is recovered, logged with op and counted in
// audit_errors_total{op}.
func Go(op string, fn func()) {
	go func() {
		defer Recover(op)
		fn()
	}()
}

// Recover is the deferred half of Go for goroutines started elsewhere.
func Recover(op string) {
	if r := recover(); r != nil {
		telemetry.AuditErrorsTotal.WithLabelValues(op).Inc()
		slog.Error("recovered panic in background goroutine", "op", op, "panic", fmt.Sprint(r))
	}
}
