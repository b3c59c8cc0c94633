package errors

// Process exit codes returned by the forge-pipeline binary.
const (
	ExitSuccess      = 0
	ExitInternal     = 1
	ExitGateFailure  = 2
	ExitProvisioning = 3
	ExitPublish      = 4
	ExitCancelled    = 5
	ExitInvalidInput = 6
)

// exitPrecedence orders codes when several cells failed for different reasons.
// Lower index wins.
var exitPrecedence = []ErrorCode{
	CodeCancelled,
	CodeProvisioningFailed,
	CodePublishFailed,
	CodeGateFailed,
}

// ExitCode maps an error to a process exit code. A nil error maps to ExitSuccess.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	return ExitCodeFor(CodeOf(err))
}

// ExitCodeFor maps a single error code to a process exit code.
func ExitCodeFor(code ErrorCode) int {
	switch code {
	case "":
		return ExitSuccess
	case CodeGateFailed:
		return ExitGateFailure
	case CodeProvisioningFailed:
		return ExitProvisioning
	case CodePublishFailed:
		return ExitPublish
	case CodeCancelled:
		return ExitCancelled
	case CodeInvalidConfig, CodeInvalidInput:
		return ExitInvalidInput
	default:
		return ExitInternal
	}
}

// MostSevere picks the code that determines the run's exit status
// among the failure codes of individual cells.
func MostSevere(codes []ErrorCode) ErrorCode {
	if len(codes) == 0 {
		return ""
	}
	for _, want := range exitPrecedence {
		for _, c := range codes {
			if c == want {
				return c
			}
		}
	}
	return codes[0]
}
