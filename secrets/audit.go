package secrets

import (
	"context"
	"log/slog"
	"time"
)

type contextKey string

const (
	runIDKey contextKey = "run_id"
	cellKey  contextKey = "cell"
	stageKey contextKey = "stage"
)

// WithAuditScope annotates ctx with the run, cell and stage that are about
// to access secrets. Audit entries created from the context carry these values.
func WithAuditScope(ctx context.Context, runID, cell, stage string) context.Context {
	if runID != "" {
		ctx = context.WithValue(ctx, runIDKey, runID)
	}
	if cell != "" {
		ctx = context.WithValue(ctx, cellKey, cell)
	}
	if stage != "" {
		ctx = context.WithValue(ctx, stageKey, stage)
	}
	return ctx
}

// AuditLogger defines the interface for audit logging of secret access events.
// Implementations must be safe for concurrent use.
type AuditLogger interface {
	// LogAccess records a secret access attempt. The secret value is never passed.
	LogAccess(ctx context.Context, action string, ref SecretRef, success bool, err error)
}

// AuditEntry represents a structured audit log entry for secret access.
type AuditEntry struct {
	// Timestamp when the audit event occurred
	Timestamp time.Time

	// Action performed (e.g., "resolve", "exists", "use")
	Action string

	// SecretRef contains the path and version of the accessed secret
	SecretRef SecretRef

	// Success indicates whether the operation was successful
	Success bool

	// Error contains error details if the operation failed
	Error string

	// Context values extracted from the request context (run_id, cell, stage)
	Context map[string]string
}

// NewAuditEntry creates a new AuditEntry with the current timestamp.
func NewAuditEntry(ctx context.Context, action string, ref SecretRef, success bool, err error) *AuditEntry {
	entry := &AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		SecretRef: ref,
		Success:   success,
		Context:   make(map[string]string),
	}

	if err != nil {
		entry.Error = err.Error()
	}

	if ctx != nil {
		for _, key := range []contextKey{runIDKey, cellKey, stageKey} {
			if v, ok := ctx.Value(key).(string); ok {
				entry.Context[string(key)] = v
			}
		}
	}

	return entry
}

// SlogAuditLogger writes audit entries to a slog.Logger.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates an audit logger. A nil logger uses slog.Default().
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

// LogAccess implements AuditLogger.
func (l *SlogAuditLogger) LogAccess(ctx context.Context, action string, ref SecretRef, success bool, err error) {
	entry := NewAuditEntry(ctx, action, ref, success, err)

	attrs := []any{
		"action", entry.Action,
		"path", entry.SecretRef.Path,
		"success", entry.Success,
	}
	for k, v := range entry.Context {
		attrs = append(attrs, k, v)
	}

	if !success {
		attrs = append(attrs, "error", entry.Error)
		l.logger.WarnContext(ctx, "secret access", attrs...)
		return
	}
	l.logger.DebugContext(ctx, "secret access", attrs...)
}
