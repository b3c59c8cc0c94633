package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/lint"
)

func defaultPolicy() Policy {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return PolicyFromConfig(cfg.Gates)
}

func cleanReports(coverage float64) *Reports {
	return &Reports{
		Tests:    &TestReport{Tests: 10},
		Coverage: &CoverageReport{Percent: coverage},
		Lint:     &LintReport{},
		Security: &SecurityReport{},
	}
}

func TestEvaluateCoverage_Boundary(t *testing.T) {
	tests := []struct {
		measured  float64
		threshold float64
		pass      bool
	}{
		{82, 80, true},
		{80, 80, true},
		{79.99, 80, false},
		{80.01, 80, true},
		{75, 80, false},
		{0, 0, true},
		{100, 100, true},
		{99.999, 100, false},
		{9, 10, false},
		{10, 9, true},
	}

	for _, tt := range tests {
		result := EvaluateCoverage(&CoverageReport{Percent: tt.measured}, tt.threshold, true)
		assert.Equal(t, tt.pass, result.Passed, "measured=%v threshold=%v", tt.measured, tt.threshold)
		assert.Equal(t, tt.measured, result.Measured)
		assert.Equal(t, tt.threshold, result.Threshold)
	}
}

func TestEvaluateCoverage_Property(t *testing.T) {
	for m := 0; m <= 1000; m += 7 {
		for th := 0; th <= 1000; th += 11 {
			measured := float64(m) / 10
			threshold := float64(th) / 10
			result := EvaluateCoverage(&CoverageReport{Percent: measured}, threshold, true)
			require.Equal(t, measured >= threshold, result.Passed, "m=%v t=%v", measured, threshold)
		}
	}
}

func TestEvaluate_AllPass(t *testing.T) {
	results := Evaluate(cleanReports(82), defaultPolicy())

	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, Order[i], r.Gate)
		assert.True(t, r.Passed, "%s should pass", r.Gate)
	}
	_, failed := FirstFailure(results)
	assert.False(t, failed)
}

func TestEvaluate_CoverageBelowThreshold(t *testing.T) {
	results := Evaluate(cleanReports(75), defaultPolicy())

	failed, ok := FirstFailure(results)
	require.True(t, ok)
	assert.Equal(t, domain.GateCoverage, failed.Gate)
	assert.Equal(t, 75.0, failed.Measured)
	assert.Equal(t, 80.0, failed.Threshold)

	err := FailureError(failed)
	assert.Equal(t, errors.CodeGateFailed, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "coverage gate failed")
	assert.Contains(t, err.Error(), "measured=75")
	assert.Contains(t, err.Error(), "threshold=80")
}

func TestEvaluate_LintZeroToleranceWithExclusions(t *testing.T) {
	policy := defaultPolicy()
	reports := cleanReports(90)
	reports.Lint = &LintReport{Issues: []lint.Issue{
		lint.NewIssue("E501", lint.SeverityError, "line too long", &lint.SourceLocation{File: "app/views.py", StartLine: 3}),
		lint.NewIssue("F401", lint.SeverityError, "unused", &lint.SourceLocation{File: "app/migrations/0001.py", StartLine: 1}),
	}}

	results := Evaluate(reports, policy)
	assert.False(t, results[1].Passed)
	assert.Equal(t, 2.0, results[1].Measured)

	policy.LintFilter = lint.Filter{IgnoreCodes: []string{"E501"}, ExcludePaths: []string{"*/migrations/*"}}
	results = Evaluate(reports, policy)
	assert.True(t, results[1].Passed)
	assert.Equal(t, 2, results[1].Excluded)
}

func TestEvaluate_SecurityAdvisoryByDefault(t *testing.T) {
	reports := cleanReports(90)
	reports.Security = &SecurityReport{Findings: []SecurityFinding{{TestID: "B105", Severity: "LOW"}}}

	results := Evaluate(reports, defaultPolicy())
	security := results[3]
	assert.False(t, security.Passed)
	assert.Equal(t, domain.GatePolicyAdvisory, security.Policy)
	assert.Equal(t, 1, security.Findings)
	assert.Contains(t, security.Detail, "low=1")
	_, failed := FirstFailure(results)
	assert.False(t, failed, "advisory gates never fail the cell")

	policy := defaultPolicy()
	policy.SecurityBlocking = true
	results = Evaluate(reports, policy)
	failedGate, failed := FirstFailure(results)
	require.True(t, failed)
	assert.Equal(t, domain.GateSecurity, failedGate.Gate)
}

func TestEvaluate_MissingReportsFail(t *testing.T) {
	results := Evaluate(nil, defaultPolicy())
	for _, r := range results {
		assert.False(t, r.Passed)
		assert.Contains(t, r.Detail, "missing")
	}
	failures := Failures(results)
	require.Len(t, failures, 3)
	assert.Equal(t, domain.GateTests, failures[0].Gate)
}

func TestEvaluate_FirstFailureOrder(t *testing.T) {
	reports := cleanReports(10)
	reports.Tests = &TestReport{Tests: 3, Failures: 1}

	failed, ok := FirstFailure(Evaluate(reports, defaultPolicy()))
	require.True(t, ok)
	assert.Equal(t, domain.GateTests, failed.Gate)
}

func TestEvaluate_AdvisoryCoverage(t *testing.T) {
	policy := defaultPolicy()
	policy.CoverageBlocking = false

	_, failed := FirstFailure(Evaluate(cleanReports(50), policy))
	assert.False(t, failed)
}

func TestEvaluate_IsPure(t *testing.T) {
	reports := cleanReports(79.5)
	policy := defaultPolicy()
	assert.Equal(t, Evaluate(reports, policy), Evaluate(reports, policy))
}

func TestEvaluate_TestToolExitCodes(t *testing.T) {
	tests := []struct {
		exit int
		pass bool
	}{
		{0, true},
		{1, true},
		{2, false},
		{4, false},
		{5, false},
		{-1, false},
	}

	for _, tt := range tests {
		reports := cleanReports(90)
		reports.Exits = map[string]int{StepTests: tt.exit}

		result := Evaluate(reports, defaultPolicy())[0]
		assert.Equal(t, domain.GateTests, result.Gate)
		assert.Equal(t, tt.pass, result.Passed, "exit %d", tt.exit)
		if !tt.pass {
			assert.Contains(t, result.Detail, "exited")
		}
	}
}

func TestEvaluate_LintExitWithoutFindings(t *testing.T) {
	reports := cleanReports(90)
	reports.Exits = map[string]int{StepLint: 1}

	results := Evaluate(reports, defaultPolicy())
	failed, ok := FirstFailure(results)
	require.True(t, ok)
	assert.Equal(t, domain.GateLint, failed.Gate)
	assert.Equal(t, "linter exited 1 without reporting findings", failed.Detail)

	// Findings explain the exit, even when all of them are excluded.
	policy := defaultPolicy()
	policy.LintFilter = lint.Filter{IgnoreCodes: []string{"E501"}}
	reports.Lint = &LintReport{Issues: []lint.Issue{
		lint.NewIssue("E501", lint.SeverityError, "line too long", &lint.SourceLocation{File: "app/views.py", StartLine: 3}),
	}}
	assert.True(t, Evaluate(reports, policy)[1].Passed)
}

func TestEvaluate_SecurityExitIgnored(t *testing.T) {
	reports := cleanReports(90)
	reports.Exits = map[string]int{StepTests: 0, StepLint: 0, StepSecurity: 1}

	for _, r := range Evaluate(reports, defaultPolicy()) {
		assert.True(t, r.Passed, "%s: %s", r.Gate, r.Detail)
	}
}
