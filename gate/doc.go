// Package gate runs the test, lint and security tools inside a provisioned
// environment, parses the reports they write, and evaluates quality gates
// over the parsed reports.
//
// Evaluation is a pure function: Evaluate takes parsed Reports and a Policy
// and returns one domain.GateResult per gate, in the fixed order tests, lint,
// coverage, security. The structured reports decide each gate. Exit codes
// only fail a gate whose report cannot be trusted: a test tool exiting with
// anything but 0 or 1, or a linter exiting non-zero with an empty report.
//
//	reports, warnings := gate.Collect(reportsDir)
//	reports.Exits = execution.ExitCodes()
//	results := gate.Evaluate(reports, gate.PolicyFromConfig(cfg.Gates))
//	if failed, ok := gate.FirstFailure(results); ok {
//	    return gate.FailureError(failed)
//	}
//
// The coverage gate passes when the measured percentage is greater than or
// equal to the minimum. The security gate is advisory unless configured as
// blocking: its findings are always recorded but never fail the cell.
package gate
