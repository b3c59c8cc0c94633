package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/pipeline"
)

// recordingSink keeps every event in memory.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.RunEvent
}

func (r *recordingSink) Emit(_ context.Context, event domain.RunEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) Events() []domain.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RunEvent(nil), r.events...)
}

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

func TestNATSSink(t *testing.T) {
	conn := &fakeConn{}
	sink := pipeline.NewNATSSink(conn, "forge.pipeline.events", slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	sink.Emit(context.Background(), domain.RunEvent{
		EventID: "e1",
		Type:    domain.EventGateEvaluated,
		RunID:   "run-1",
		Cell:    "python-3.11",
		Status:  "fail",
		Metadata: map[string]string{
			"gate": "coverage",
		},
	})

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "forge.pipeline.events.gate.evaluated", conn.subjects[0])

	var got domain.RunEvent
	require.NoError(t, json.Unmarshal(conn.payloads[0], &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "coverage", got.Metadata["gate"])
}

func TestNATSSinkPublishErrorIsLogged(t *testing.T) {
	var logs bytes.Buffer
	conn := &fakeConn{err: stderrors.New("nats: connection closed")}
	sink := pipeline.NewNATSSink(conn, "events", slog.New(slog.NewTextHandler(&logs, nil)))

	sink.Emit(context.Background(), domain.RunEvent{Type: domain.EventRunStarted, RunID: "run-1"})
	assert.Contains(t, logs.String(), "failed to publish run event")
	assert.Contains(t, logs.String(), "connection closed")
}

func TestMultiSinkAndSlogSink(t *testing.T) {
	var logs bytes.Buffer
	rec := &recordingSink{}
	sink := pipeline.MultiSink{rec, pipeline.NewSlogSink(slog.New(slog.NewJSONHandler(&logs, nil)))}

	sink.Emit(context.Background(), domain.RunEvent{
		Type: domain.EventStageCompleted, RunID: "run-1", Cell: "default", Stage: "gate", Status: "failed",
	})

	assert.Len(t, rec.Events(), 1)
	var line map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &line))
	assert.Equal(t, "stage.completed", line["msg"])
	assert.Equal(t, "gate", line["stage"])
	assert.Equal(t, "failed", line["status"])
}

func TestEngineMetrics(t *testing.T) {
	h := newHarness(t)
	h.coverage["python-3.11"] = 50

	engine := h.engine()
	_, err := engine.Run(context.Background(), pushMain())
	require.Error(t, err)

	m := engine.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("push", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cells.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cells.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Gates.WithLabelValues("coverage", "fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Gates.WithLabelValues("coverage", "pass")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PushAttempts.WithLabelValues("success")), "the failed cell blocks the push")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveCells))

	path := filepath.Join(t.TempDir(), "forge.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "forge_pipeline_runs_total")
	assert.Contains(t, string(data), "forge_pipeline_stage_duration_seconds")
}
