package gate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/lint"
)

// Order is the fixed evaluation order of the gates.
var Order = []domain.GateName{
	domain.GateTests,
	domain.GateLint,
	domain.GateCoverage,
	domain.GateSecurity,
}

// Policy is the effective policy of every gate.
type Policy struct {
	TestsBlocking bool

	LintBlocking bool
	LintFilter   lint.Filter

	CoverageBlocking bool
	CoverageMinimum  float64

	SecurityBlocking    bool
	SecurityMaxFindings int
}

// PolicyFromConfig builds a Policy from the gates configuration.
func PolicyFromConfig(g config.GatesConfig) Policy {
	tests, lintBlocking, coverage, security := g.Blocking()
	return Policy{
		TestsBlocking: tests,
		LintBlocking:  lintBlocking,
		LintFilter: lint.Filter{
			ExcludePaths: g.Lint.ExcludePaths,
			IgnoreCodes:  g.Lint.IgnoreCodes,
		},
		CoverageBlocking:    coverage,
		CoverageMinimum:     g.CoverageMinimum(),
		SecurityBlocking:    security,
		SecurityMaxFindings: g.Security.MaxFindings,
	}
}

func policyOf(blocking bool) domain.GatePolicy {
	if blocking {
		return domain.GatePolicyBlocking
	}
	return domain.GatePolicyAdvisory
}

// Test tool exit codes that still leave the report authoritative: 0 when
// every test passed and 1 when some failed.
const (
	testsExitPassed = 0
	testsExitFailed = 1
)

// Evaluate computes every gate from the parsed reports and the tool exit
// codes. It is pure: the same reports and policy always produce the same
// results. A missing report fails its gate. The test gate also fails when
// the test tool exits with anything but 0 or 1, and the lint gate when the
// linter exits non-zero without reporting a finding. The security tool's
// exit code is ignored.
func Evaluate(reports *Reports, policy Policy) []domain.GateResult {
	if reports == nil {
		reports = &Reports{}
	}
	return []domain.GateResult{
		evaluateTests(reports.Tests, reports.Exits, policy),
		evaluateLint(reports.Lint, reports.Exits, policy),
		EvaluateCoverage(reports.Coverage, policy.CoverageMinimum, policy.CoverageBlocking),
		evaluateSecurity(reports.Security, policy),
	}
}

func evaluateTests(report *TestReport, exits map[string]int, policy Policy) domain.GateResult {
	result := domain.GateResult{
		Gate:   domain.GateTests,
		Policy: policyOf(policy.TestsBlocking),
	}
	if code, ok := exits[StepTests]; ok && code != testsExitPassed && code != testsExitFailed {
		result.Detail = fmt.Sprintf("test tool exited %d", code)
		return result
	}
	if report == nil {
		result.Detail = "test report missing"
		return result
	}

	broken := report.Broken()
	result.Measured = float64(broken)
	result.Findings = broken
	result.Passed = broken == 0
	result.Detail = fmt.Sprintf("%d tests, %d failures, %d errors, %d skipped",
		report.Tests, report.Failures, report.Errors, report.Skipped)
	return result
}

func evaluateLint(report *LintReport, exits map[string]int, policy Policy) domain.GateResult {
	result := domain.GateResult{
		Gate:   domain.GateLint,
		Policy: policyOf(policy.LintBlocking),
	}
	if report == nil {
		result.Detail = "lint report missing"
		return result
	}
	if code := exits[StepLint]; code != 0 && len(report.Issues) == 0 {
		result.Detail = fmt.Sprintf("linter exited %d without reporting findings", code)
		return result
	}

	kept, excluded := policy.LintFilter.Apply(report.Issues)
	result.Measured = float64(len(kept))
	result.Findings = len(kept)
	result.Excluded = len(excluded)
	result.Passed = len(kept) == 0
	if len(kept) == 0 {
		result.Detail = fmt.Sprintf("no findings (%d excluded)", len(excluded))
	} else {
		result.Detail = fmt.Sprintf("%d findings (%d excluded), first: %s", len(kept), len(excluded), kept[0].String())
	}
	return result
}

// EvaluateCoverage compares measured coverage with minimum. The gate passes
// if and only if measured >= minimum.
func EvaluateCoverage(report *CoverageReport, minimum float64, blocking bool) domain.GateResult {
	result := domain.GateResult{
		Gate:      domain.GateCoverage,
		Policy:    policyOf(blocking),
		Threshold: minimum,
	}
	if report == nil {
		result.Detail = "coverage report missing"
		return result
	}

	result.Measured = report.Percent
	result.Passed = report.Percent >= minimum
	result.Detail = fmt.Sprintf("line coverage %.2f%%, minimum %.2f%%", report.Percent, minimum)
	return result
}

func evaluateSecurity(report *SecurityReport, policy Policy) domain.GateResult {
	result := domain.GateResult{
		Gate:      domain.GateSecurity,
		Policy:    policyOf(policy.SecurityBlocking),
		Threshold: float64(policy.SecurityMaxFindings),
	}
	if report == nil {
		result.Detail = "security report missing"
		return result
	}

	n := len(report.Findings)
	result.Measured = float64(n)
	result.Findings = n
	result.Passed = n <= policy.SecurityMaxFindings
	result.Detail = fmt.Sprintf("%d findings%s", n, severityBreakdown(report.CountBySeverity()))
	return result
}

func severityBreakdown(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", strings.ToLower(k), counts[k]))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// FirstFailure returns the first blocking failure in evaluation order.
func FirstFailure(results []domain.GateResult) (domain.GateResult, bool) {
	for _, name := range Order {
		for _, r := range results {
			if r.Gate == name && r.Blocking() {
				return r, true
			}
		}
	}
	return domain.GateResult{}, false
}

// Failures returns every blocking failure in evaluation order.
func Failures(results []domain.GateResult) []domain.GateResult {
	var failed []domain.GateResult
	for _, name := range Order {
		for _, r := range results {
			if r.Gate == name && r.Blocking() {
				failed = append(failed, r)
			}
		}
	}
	return failed
}

// FailureError describes a failed gate as a GATE_FAILED error carrying the
// measured value and threshold.
func FailureError(result domain.GateResult) error {
	return errors.New(
		errors.CodeGateFailed,
		fmt.Sprintf("%s gate failed: %s", result.Gate, result.Detail),
	).WithContext("gate", string(result.Gate)).
		WithContext("measured", result.Measured).
		WithContext("threshold", result.Threshold)
}
