package core

import (
	"context"
	"time"

	"mellon/pkg/domain"
)

// Logger captures the minimal structured logging surface the engine needs.
// Arguments are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger returns a logger that discards everything.
func NoopLogger() Logger { return noopLogger{} }

// MetricsRecorder receives one observation per engine operation.
type MetricsRecorder interface {
	ObserveOperation(operation, status string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration) {}

// Tracer opens a span per engine operation. The returned finish function is
// called exactly once with the terminal status.
type Tracer interface {
	StartSpan(ctx context.Context, operation string) (context.Context, func(status string))
}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string) (context.Context, func(string)) {
	return ctx, func(string) {}
}

// AuditEntry records one completed engine operation.
type AuditEntry struct {
	Operation string            `json:"operation"`
	Entity    domain.EntityType `json:"entity"`
	Action    domain.Action     `json:"action,omitempty"`
	EntityID  string            `json:"entity_id,omitempty"`
	Status    string            `json:"status"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
}

// AuditRecorder receives audit entries after each operation completes.
type AuditRecorder interface {
	Record(entry AuditEntry)
}

type noopAudit struct{}

func (noopAudit) Record(AuditEntry) {}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Operation status values recorded by metrics and audit sinks.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusRejected = "rejected"
)
