package secrets

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

// mockAuditLogger captures audit entries.
type mockAuditLogger struct {
	entries []*AuditEntry
}

func (m *mockAuditLogger) LogAccess(ctx context.Context, action string, ref SecretRef, success bool, err error) {
	m.entries = append(m.entries, NewAuditEntry(ctx, action, ref, success, err))
}

func TestNewAuditEntry(t *testing.T) {
	ref := SecretRef{Path: "registry/password"}
	ctx := WithAuditScope(context.Background(), "run-1", "python-3.11", "push-image")

	t.Run("successful operation", func(t *testing.T) {
		entry := NewAuditEntry(ctx, "resolve", ref, true, nil)

		assert.Equal(t, "resolve", entry.Action)
		assert.Equal(t, ref, entry.SecretRef)
		assert.True(t, entry.Success)
		assert.Empty(t, entry.Error)
		assert.NotZero(t, entry.Timestamp)
		assert.Equal(t, map[string]string{
			"run_id": "run-1",
			"cell":   "python-3.11",
			"stage":  "push-image",
		}, entry.Context)
	})

	t.Run("failed operation", func(t *testing.T) {
		entry := NewAuditEntry(ctx, "resolve", ref, false, errors.New("secret not found"))

		assert.False(t, entry.Success)
		assert.Equal(t, "secret not found", entry.Error)
	})

	t.Run("context without scope", func(t *testing.T) {
		entry := NewAuditEntry(context.Background(), "exists", ref, true, nil)
		assert.Empty(t, entry.Context)
	})
}

func TestSlogAuditLoggerNeverLogsValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	resolver := &fakeResolver{name: "memory", values: map[string]string{"registry/password": "hunter2"}}
	manager := NewManager(&Config{AuditLogger: NewSlogAuditLogger(logger)})
	assert.NoError(t, manager.Register(resolver))

	secret, err := manager.Resolve(context.Background(), SecretRef{Path: "registry/password"})
	assert.NoError(t, err)
	secret.Clear()

	_, err = manager.Resolve(context.Background(), SecretRef{Path: "missing"})
	assert.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "path=registry/password")
	assert.Contains(t, out, "success=false")
	assert.NotContains(t, out, "hunter2")
}
