package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
)

// EventSink receives run events. Implementations must be safe for
// concurrent use; cells emit events in parallel.
type EventSink interface {
	Emit(ctx context.Context, event domain.RunEvent)
}

// SlogSink writes every event as a structured log record.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a SlogSink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

// Emit implements EventSink.
func (s *SlogSink) Emit(ctx context.Context, event domain.RunEvent) {
	attrs := []any{
		"event_id", event.EventID,
		"run_id", event.RunID,
	}
	if event.Cell != "" {
		attrs = append(attrs, "cell", event.Cell)
	}
	if event.Stage != "" {
		attrs = append(attrs, "stage", event.Stage)
	}
	if event.Status != "" {
		attrs = append(attrs, "status", event.Status)
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, k, v)
	}
	s.logger.InfoContext(ctx, string(event.Type), attrs...)
}

// Publisher publishes raw messages. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes every event as JSON to "<subject>.<event type>".
// Publish errors are logged and dropped; events never fail a run.
type NATSSink struct {
	conn    Publisher
	subject string
	logger  *slog.Logger
}

// NewNATSSink creates a NATSSink.
func NewNATSSink(conn Publisher, subject string, logger *slog.Logger) *NATSSink {
	return &NATSSink{conn: conn, subject: subject, logger: logger}
}

// ConnectNATS connects to the NATS server at url.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("forge-pipeline"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

// Emit implements EventSink.
func (s *NATSSink) Emit(ctx context.Context, event domain.RunEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to encode run event", "type", event.Type, "error", err)
		return
	}
	subject := s.subject + "." + string(event.Type)
	if err := s.conn.Publish(subject, data); err != nil {
		s.logger.WarnContext(ctx, "failed to publish run event", "subject", subject, "error", err)
	}
}

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

// Emit implements EventSink.
func (m MultiSink) Emit(ctx context.Context, event domain.RunEvent) {
	for _, s := range m {
		s.Emit(ctx, event)
	}
}
