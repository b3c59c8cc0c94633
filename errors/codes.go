// Package errors is the structured error model of the pipeline engine. Every
// failure carries an ErrorCode, which decides whether it is retried and which
// process exit code it maps to.
package errors

// ErrorCode classifies a failure. Codes are strings so they read well in
// logs and JSON summaries.
type ErrorCode string

// Codes that abort the run before any cell starts.
const (
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"
)

// Codes raised by the stages of a cell.
const (
	// CodeProvisioningFailed covers a missing interpreter, a failed install,
	// an unhealthy service or an unresolvable secret. It is fatal to the cell.
	CodeProvisioningFailed ErrorCode = "PROVISIONING_FAILED"

	// CodeGateFailed is raised when a blocking quality gate fails.
	CodeGateFailed ErrorCode = "GATE_FAILED"

	CodeExecutionFailed ErrorCode = "EXECUTION_FAILED"
	CodeBuildFailed     ErrorCode = "BUILD_FAILED"

	// CodePublishFailed is raised once image push retries are exhausted.
	CodePublishFailed ErrorCode = "PUBLISH_FAILED"

	// CodeCleanupFailed is logged and never changes a cell's outcome.
	CodeCleanupFailed ErrorCode = "CLEANUP_FAILED"

	CodeTimeout   ErrorCode = "TIMEOUT"
	CodeCancelled ErrorCode = "CANCELLED"
)

// Codes raised by supporting layers.
const (
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	CodeNetwork       ErrorCode = "NETWORK_ERROR"
	CodeInternal      ErrorCode = "INTERNAL_ERROR"
	CodeUnknown       ErrorCode = "UNKNOWN"
)

func (c ErrorCode) String() string {
	return string(c)
}

// Retryable reports whether a failure with this code may succeed when repeated.
func (c ErrorCode) Retryable() bool {
	return c == CodeNetwork || c == CodeTimeout || c == CodePublishFailed
}
