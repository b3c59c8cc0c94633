// Package domain provides canonical type definitions for forge pipeline entities.
//
// This package is the foundation layer of the pipeline engine: a zero-dependency
// library of data structures with JSON struct tags. Every other package in the
// module imports it, so the run record produced by the scheduler, the summary
// written as an artifact and the events published to sinks share one model.
//
// # Design Principles
//
//   - Zero dependencies (standard library only)
//   - Data structures with only trivial derived accessors
//   - Type-safe enumerations for statuses, trigger kinds and gates
//   - Flat structure with no sub-packages
//
// # Domain Model
//
// A Trigger starts a PipelineRun. The run expands its matrix into one
// MatrixCell per parameter binding; each cell records a StageExecution per
// declared stage, the GateResult of every evaluated gate, the Artifact records
// it published and the ImageTag values computed for its image.
//
//	run := domain.PipelineRun{
//	    ID:      "1b4e28ba-2fa1-11d2-883f-0016d3cca427",
//	    Trigger: domain.Trigger{Kind: domain.TriggerPush, Ref: "refs/heads/main"},
//	    Status:  domain.RunStatusRunning,
//	}
//
// # Status Semantics
//
// A run is failed if any cell failed and succeeded only if every cell
// succeeded. A cancelled run reports RunStatusCancelled regardless of the
// status of individual cells. Stages that were not executed because their run
// condition was false, or because an earlier stage of the same cell failed,
// are StageStatusSkipped.
//
// # Credentials
//
// No entity in this package holds a credential value. Runs, summaries and
// events carry credential names at most.
package domain
