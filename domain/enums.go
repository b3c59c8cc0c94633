// Package domain provides canonical type definitions for forge pipeline entities.
package domain

// RunStatus represents the execution status of a pipeline run or one of its matrix cells.
type RunStatus string

const (
	// RunStatusPending indicates execution is queued but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates execution is currently in progress.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates execution completed successfully.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates execution completed with errors.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates execution was cancelled before completion.
	RunStatusCancelled RunStatus = "cancelled"
)

// String returns the string representation of the RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// StageStatus represents the execution status of a single stage within a matrix cell.
type StageStatus string

const (
	// StageStatusPending indicates the stage has not been reached yet.
	StageStatusPending StageStatus = "pending"

	// StageStatusRunning indicates the stage is executing.
	StageStatusRunning StageStatus = "running"

	// StageStatusSkipped indicates the stage's run condition evaluated to false,
	// or the stage was never reached because an earlier stage failed.
	StageStatusSkipped StageStatus = "skipped"

	// StageStatusSucceeded indicates the stage completed successfully.
	StageStatusSucceeded StageStatus = "succeeded"

	// StageStatusFailed indicates the stage failed.
	StageStatusFailed StageStatus = "failed"
)

// String returns the string representation of the StageStatus.
func (s StageStatus) String() string {
	return string(s)
}

// TriggerKind classifies the external event that started a run.
type TriggerKind string

const (
	// TriggerPush is a branch push.
	TriggerPush TriggerKind = "push"

	// TriggerPullRequest is a pull request event. Pull requests are build-only.
	TriggerPullRequest TriggerKind = "pull_request"

	// TriggerTag is a tag push.
	TriggerTag TriggerKind = "tag"

	// TriggerManual is an operator-initiated run.
	TriggerManual TriggerKind = "manual"
)

// String returns the string representation of the TriggerKind.
func (k TriggerKind) String() string {
	return string(k)
}

// Valid reports whether k is one of the known trigger kinds.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerPush, TriggerPullRequest, TriggerTag, TriggerManual:
		return true
	default:
		return false
	}
}

// GateName identifies a quality gate.
type GateName string

const (
	// GateTests checks the test-suite result report.
	GateTests GateName = "tests"

	// GateLint checks the lint report (zero tolerance minus exclusions).
	GateLint GateName = "lint"

	// GateCoverage checks measured line coverage against a minimum.
	GateCoverage GateName = "coverage"

	// GateSecurity checks the security-scan report.
	GateSecurity GateName = "security"
)

// String returns the string representation of the GateName.
func (g GateName) String() string {
	return string(g)
}

// GatePolicy states whether a failing gate blocks the run.
type GatePolicy string

const (
	// GatePolicyBlocking gates fail the cell when they fail.
	GatePolicyBlocking GatePolicy = "blocking"

	// GatePolicyAdvisory gates are recorded but never fail the cell.
	GatePolicyAdvisory GatePolicy = "advisory"
)

// ArtifactType represents the type of a published artifact.
type ArtifactType string

const (
	// ArtifactTypeReport represents structured test, lint or security reports.
	ArtifactTypeReport ArtifactType = "report"

	// ArtifactTypeLog represents raw console output.
	ArtifactTypeLog ArtifactType = "log"

	// ArtifactTypeCoverage represents raw coverage data.
	ArtifactTypeCoverage ArtifactType = "coverage"

	// ArtifactTypeBadge represents derived human-readable summaries.
	ArtifactTypeBadge ArtifactType = "badge"
)

// String returns the string representation of the ArtifactType.
func (t ArtifactType) String() string {
	return string(t)
}
