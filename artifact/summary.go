package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/input-output-hk/catalyst-forge-pipeline/gate"
)

// CoverageSummary renders a short markdown block from a coverage report.
func CoverageSummary(cell string, report *gate.CoverageReport, minimum float64) string {
	result := "pass"
	if report.Percent < minimum {
		result = "fail"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### Coverage: %.2f%%\n\n", report.Percent)
	b.WriteString("| Metric | Value |\n")
	b.WriteString("|---|---|\n")
	if cell != "" {
		fmt.Fprintf(&b, "| Cell | %s |\n", cell)
	}
	fmt.Fprintf(&b, "| Line coverage | %.2f%% |\n", report.Percent)
	fmt.Fprintf(&b, "| Minimum | %.2f%% |\n", minimum)
	if report.Statements > 0 {
		fmt.Fprintf(&b, "| Covered statements | %d of %d |\n", report.Covered, report.Statements)
	}
	fmt.Fprintf(&b, "| Result | %s |\n", result)
	return b.String()
}

// WriteCoverageSummary derives coverage-summary.md from the coverage report in
// dir. An existing summary is left untouched.
func WriteCoverageSummary(dir, cell string, minimum float64) error {
	target := filepath.Join(dir, gate.FileCoverageMD)
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	report, err := gate.CollectCoverage(dir)
	if err != nil {
		return err
	}
	return os.WriteFile(target, []byte(CoverageSummary(cell, report, minimum)), 0o644)
}
