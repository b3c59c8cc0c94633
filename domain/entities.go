// Package domain provides canonical type definitions for forge pipeline entities.
package domain

import (
	"strings"
	"time"
)

const (
	branchRefPrefix = "refs/heads/"
	tagRefPrefix    = "refs/tags/"
	shortCommitLen  = 7
)

// Trigger is the classified external event that starts a pipeline run.
// It constrains which downstream actions (such as a registry push) are permitted.
type Trigger struct {
	// Kind classifies the event (push, pull_request, tag, manual).
	Kind TriggerKind `json:"kind" yaml:"kind"`

	// Ref is the git reference (e.g., "refs/heads/main", "refs/tags/v1.2.3", or a bare branch name).
	Ref string `json:"ref" yaml:"ref"`

	// Commit is the full commit SHA being processed.
	Commit string `json:"commit" yaml:"commit"`

	// PRNumber is the pull request number. Zero for non pull-request triggers.
	PRNumber int `json:"pr_number,omitempty" yaml:"pr_number,omitempty"`

	// Timestamp is when the event occurred. Used for date-stamped image tags.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Branch returns the branch name for branch refs, or "" for tag refs.
func (t Trigger) Branch() string {
	switch {
	case strings.HasPrefix(t.Ref, branchRefPrefix):
		return strings.TrimPrefix(t.Ref, branchRefPrefix)
	case strings.HasPrefix(t.Ref, tagRefPrefix):
		return ""
	case t.Kind == TriggerTag:
		return ""
	default:
		return t.Ref
	}
}

// Tag returns the tag name for tag refs, or "" otherwise.
func (t Trigger) Tag() string {
	if strings.HasPrefix(t.Ref, tagRefPrefix) {
		return strings.TrimPrefix(t.Ref, tagRefPrefix)
	}
	if t.Kind == TriggerTag {
		return t.Ref
	}
	return ""
}

// ShortCommit returns the abbreviated commit SHA.
func (t Trigger) ShortCommit() string {
	if len(t.Commit) <= shortCommitLen {
		return t.Commit
	}
	return t.Commit[:shortCommitLen]
}

// BuildOnly reports whether the trigger may build images but never push them.
func (t Trigger) BuildOnly() bool {
	return t.Kind == TriggerPullRequest
}

// PipelineRun represents a complete execution of the pipeline for one trigger.
// It is created on trigger receipt and mutated only by the stage scheduler.
type PipelineRun struct {
	// ID is the unique identifier for this pipeline run (UUID).
	ID string `json:"id"`

	// Repository is the name of the repository being processed.
	Repository string `json:"repository"`

	// Trigger is the event that started this run.
	Trigger Trigger `json:"trigger"`

	// Matrix holds the declared matrix dimensions (dimension -> values).
	Matrix map[string][]string `json:"matrix,omitempty"`

	// Cells are the concrete parameter bindings executed by this run.
	Cells []*MatrixCell `json:"cells"`

	// Status represents the overall execution status of the run.
	Status RunStatus `json:"status"`

	// StartedAt is when execution began. Nil if not yet started.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when execution finished. Nil if still running.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CreatedAt is when this run record was created.
	CreatedAt time.Time `json:"created_at"`
}

// MatrixCell is one concrete parameter binding of a PipelineRun.
// Each cell executes its own copy of every stage independently of its siblings.
type MatrixCell struct {
	// Name is the stable identifier of the cell (e.g., "python-3.11").
	// It is used as the cell component of artifact keys.
	Name string `json:"name"`

	// Index is the position of the cell in matrix expansion order.
	Index int `json:"index"`

	// Params holds the parameter binding (dimension -> value).
	Params map[string]string `json:"params,omitempty"`

	// Status is the cell's execution status.
	Status RunStatus `json:"status"`

	// Stages records every stage execution in declared order.
	Stages []*StageExecution `json:"stages"`

	// Gates holds the evaluated gate results (empty if the gate stage was not reached).
	Gates []GateResult `json:"gates,omitempty"`

	// Artifacts lists artifacts published for this cell.
	Artifacts []Artifact `json:"artifacts,omitempty"`

	// Tags lists the image tags computed for this cell's build.
	Tags []ImageTag `json:"tags,omitempty"`

	// Pushed reports whether the image was pushed to the registry.
	Pushed bool `json:"pushed"`

	// FailedStage names the stage that failed, if any.
	FailedStage string `json:"failed_stage,omitempty"`

	// FailureCode is the error code of the failure, if any.
	FailureCode string `json:"failure_code,omitempty"`

	// Failure is a human-readable failure reason, if any.
	Failure string `json:"failure,omitempty"`

	// Warnings collects non-fatal problems (missing artifacts, cleanup errors, manifest conflicts).
	Warnings []string `json:"warnings,omitempty"`

	// StartedAt is when the cell began executing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the cell finished, including cleanup.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StageExecution represents one stage run within a matrix cell.
type StageExecution struct {
	// Name is the stage name (e.g., "checkout", "test", "push-image").
	Name string `json:"name"`

	// Position is the declared ordinal of the stage.
	Position int `json:"position"`

	// Status is the stage's execution status.
	Status StageStatus `json:"status"`

	// Reason explains a skip or failure.
	Reason string `json:"reason,omitempty"`

	// StartedAt is when the stage began. Nil if skipped or not reached.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the stage finished.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GateResult is the outcome of one named quality check.
type GateResult struct {
	// Gate names the check.
	Gate GateName `json:"gate"`

	// Policy states whether the gate blocks on failure.
	Policy GatePolicy `json:"policy"`

	// Passed reports whether the check passed.
	Passed bool `json:"passed"`

	// Measured is the numeric outcome (coverage percent, finding count, failure count).
	Measured float64 `json:"measured"`

	// Threshold is the limit the measurement was compared against.
	Threshold float64 `json:"threshold"`

	// Findings counts the individual findings that contributed to the outcome.
	Findings int `json:"findings"`

	// Excluded counts findings ignored by configured exclusions.
	Excluded int `json:"excluded,omitempty"`

	// Detail is a short human-readable explanation.
	Detail string `json:"detail,omitempty"`
}

// Blocking reports whether this result fails the cell.
func (g GateResult) Blocking() bool {
	return !g.Passed && g.Policy == GatePolicyBlocking
}

// Artifact is an immutable, structured output stored under a stable key.
type Artifact struct {
	// Key is the storage key: f(run id, matrix cell, artifact name).
	Key string `json:"key"`

	// Name is the artifact file name (e.g., "coverage.xml").
	Name string `json:"name"`

	// Type categorizes the artifact.
	Type ArtifactType `json:"type"`

	// Size is the artifact size in bytes.
	Size int64 `json:"size"`

	// CreatedAt is when the artifact was written.
	CreatedAt time.Time `json:"created_at"`
}

// ImageTag is a computed image tag. Several tags may reference one built image.
type ImageTag string

// String returns the tag as a string.
func (t ImageTag) String() string {
	return string(t)
}
