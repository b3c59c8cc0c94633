// Package domain provides canonical type definitions for forge pipeline entities.
package domain

import "time"

// EventType classifies a RunEvent.
type EventType string

const (
	// EventRunStarted is emitted once when a run begins executing.
	EventRunStarted EventType = "run.started"

	// EventRunCompleted is emitted once when a run reaches a terminal status.
	EventRunCompleted EventType = "run.completed"

	// EventCellStarted is emitted when a matrix cell begins executing.
	EventCellStarted EventType = "cell.started"

	// EventCellCompleted is emitted when a matrix cell finishes, after cleanup.
	EventCellCompleted EventType = "cell.completed"

	// EventStageCompleted is emitted after every stage transition to a terminal stage status.
	EventStageCompleted EventType = "stage.completed"

	// EventGateEvaluated is emitted once per evaluated gate.
	EventGateEvaluated EventType = "gate.evaluated"

	// EventImagePushed is emitted when an image has been pushed under all of its tags.
	EventImagePushed EventType = "image.pushed"
)

// RunEvent represents an event emitted during the pipeline run lifecycle.
// These events are delivered to event sinks (structured logs, NATS) for
// monitoring and notification services. They never carry credential values.
type RunEvent struct {
	// EventID is a unique identifier for this specific event instance.
	EventID string `json:"event_id"`

	// Type classifies the event.
	Type EventType `json:"type"`

	// Timestamp is when this event was generated.
	Timestamp time.Time `json:"timestamp"`

	// RunID references the pipeline run that produced this event.
	RunID string `json:"run_id"`

	// Cell names the matrix cell, if the event is cell scoped.
	Cell string `json:"cell,omitempty"`

	// Stage names the stage, if the event is stage scoped.
	Stage string `json:"stage,omitempty"`

	// Status is the status reached by the run, cell or stage.
	Status string `json:"status,omitempty"`

	// Metadata contains additional event-specific information as key-value pairs.
	// This field is optional and omitted from JSON when empty.
	Metadata map[string]string `json:"metadata,omitempty"`
}
