package gate

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/lint"
)

// Report file names written into a cell's report directory.
const (
	FileJUnit          = "junit.xml"
	FileTestHTML       = "pytest_report.html"
	FileCoverageJSON   = "coverage.json"
	FileCoverageXML    = "coverage.xml"
	FileCoverageMD     = "coverage-summary.md"
	FileLint           = "lint-report.txt"
	FileLintSARIF      = "lint-report.sarif"
	FileSecurity       = "security-report.json"
	FileConsoleLog     = "console.log"
	FileDockerfileLint = "dockerfile-lint.txt"
)

// Reports holds the parsed tool outputs of one cell. A nil field means the
// report was missing or unreadable.
type Reports struct {
	Tests    *TestReport
	Coverage *CoverageReport
	Lint     *LintReport
	Security *SecurityReport

	// Exits holds the exit code of each tool that ran, keyed by step name.
	Exits map[string]int
}

// TestReport summarizes a JUnit XML test report.
type TestReport struct {
	Tests    int
	Failures int
	Errors   int
	Skipped  int

	// Failed names the failing or erroring test cases ("classname::name").
	Failed []string
}

// Broken returns the number of failing and erroring tests.
func (r *TestReport) Broken() int {
	return r.Failures + r.Errors
}

// CoverageReport holds measured line coverage.
type CoverageReport struct {
	// Percent is the line-coverage percentage in [0, 100].
	Percent float64

	Covered    int
	Statements int

	// Source is the file the report was read from.
	Source string
}

// LintReport holds the linter findings.
type LintReport struct {
	Issues []lint.Issue
}

// SecurityFinding is one security-scan result.
type SecurityFinding struct {
	TestID     string `json:"test_id"`
	TestName   string `json:"test_name"`
	Severity   string `json:"issue_severity"`
	Confidence string `json:"issue_confidence"`
	Text       string `json:"issue_text"`
	File       string `json:"filename"`
	Line       int    `json:"line_number"`
}

// SecurityReport holds the security-scan findings.
type SecurityReport struct {
	Findings []SecurityFinding
}

// CountBySeverity returns the number of findings per severity.
func (r *SecurityReport) CountBySeverity() map[string]int {
	counts := make(map[string]int)
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}

type junitSuites struct {
	XMLName xml.Name
	Suites  []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Cases    []junitCase  `xml:"testcase"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitCase struct {
	ClassName string    `xml:"classname,attr"`
	Name      string    `xml:"name,attr"`
	Failure   *struct{} `xml:"failure"`
	Error     *struct{} `xml:"error"`
	Skipped   *struct{} `xml:"skipped"`
}

// ParseJUnit parses a JUnit XML report with either a <testsuites> or a
// <testsuite> root element.
func ParseJUnit(r io.Reader) (*TestReport, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read junit report: %w", err)
	}

	var root junitSuites
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse junit report: %w", err)
	}

	suites := root.Suites
	switch root.XMLName.Local {
	case "testsuites":
	case "testsuite":
		var suite junitSuite
		if err := xml.Unmarshal(data, &suite); err != nil {
			return nil, fmt.Errorf("failed to parse junit report: %w", err)
		}
		suites = []junitSuite{suite}
	default:
		return nil, fmt.Errorf("unexpected junit root element <%s>", root.XMLName.Local)
	}

	report := &TestReport{}
	for _, s := range suites {
		addSuite(report, s)
	}
	return report, nil
}

func addSuite(report *TestReport, s junitSuite) {
	for _, nested := range s.Suites {
		addSuite(report, nested)
	}
	if len(s.Cases) == 0 {
		if len(s.Suites) == 0 {
			report.Tests += s.Tests
			report.Failures += s.Failures
			report.Errors += s.Errors
			report.Skipped += s.Skipped
		}
		return
	}
	for _, c := range s.Cases {
		report.Tests++
		switch {
		case c.Failure != nil:
			report.Failures++
			report.Failed = append(report.Failed, caseName(c))
		case c.Error != nil:
			report.Errors++
			report.Failed = append(report.Failed, caseName(c))
		case c.Skipped != nil:
			report.Skipped++
		}
	}
}

func caseName(c junitCase) string {
	if c.ClassName == "" {
		return c.Name
	}
	return c.ClassName + "::" + c.Name
}

// ParseCoverageJSON parses a coverage.py JSON report.
func ParseCoverageJSON(r io.Reader) (*CoverageReport, error) {
	var doc struct {
		Totals *struct {
			CoveredLines   int     `json:"covered_lines"`
			NumStatements  int     `json:"num_statements"`
			PercentCovered float64 `json:"percent_covered"`
		} `json:"totals"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse coverage json: %w", err)
	}
	if doc.Totals == nil {
		return nil, fmt.Errorf("coverage json has no totals")
	}

	t := doc.Totals
	report := &CoverageReport{
		Covered:    t.CoveredLines,
		Statements: t.NumStatements,
		Percent:    t.PercentCovered,
		Source:     FileCoverageJSON,
	}
	if t.NumStatements > 0 {
		report.Percent = percent(t.CoveredLines, t.NumStatements)
	}
	return report, nil
}

// ParseCobertura parses a Cobertura XML coverage report.
func ParseCobertura(r io.Reader) (*CoverageReport, error) {
	var doc struct {
		XMLName      xml.Name `xml:"coverage"`
		LineRate     string   `xml:"line-rate,attr"`
		LinesCovered int      `xml:"lines-covered,attr"`
		LinesValid   int      `xml:"lines-valid,attr"`
	}
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse coverage xml: %w", err)
	}

	report := &CoverageReport{
		Covered:    doc.LinesCovered,
		Statements: doc.LinesValid,
		Source:     FileCoverageXML,
	}
	if doc.LinesValid > 0 {
		report.Percent = percent(doc.LinesCovered, doc.LinesValid)
		return report, nil
	}

	rate, err := strconv.ParseFloat(doc.LineRate, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid coverage line-rate %q: %w", doc.LineRate, err)
	}
	report.Percent = rate * 100
	return report, nil
}

func percent(covered, total int) float64 {
	return float64(covered) * 100 / float64(total)
}

// ParseBandit parses a bandit JSON security report.
func ParseBandit(r io.Reader) (*SecurityReport, error) {
	var doc struct {
		Results []SecurityFinding `json:"results"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse security report: %w", err)
	}
	return &SecurityReport{Findings: doc.Results}, nil
}

// Collect reads every report from dir. Missing or unparsable reports are
// returned as warnings and leave the corresponding field nil.
func Collect(dir string) (*Reports, []string) {
	var (
		reports  Reports
		warnings []string
	)

	warn := func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if err := parseFile(dir, FileJUnit, func(r io.Reader) (err error) {
		reports.Tests, err = ParseJUnit(r)
		return err
	}); err != nil {
		warn("%v", err)
	}

	if cov, errs := collectCoverage(dir); cov != nil {
		reports.Coverage = cov
	} else {
		for _, err := range errs {
			warn("%v", err)
		}
	}

	if err := parseFile(dir, FileLint, func(r io.Reader) error {
		issues, err := lint.ParseFlake8(r)
		if err != nil {
			return err
		}
		reports.Lint = &LintReport{Issues: issues}
		return nil
	}); err != nil {
		warn("%v", err)
	}

	if err := parseFile(dir, FileSecurity, func(r io.Reader) (err error) {
		reports.Security, err = ParseBandit(r)
		return err
	}); err != nil {
		warn("%v", err)
	}

	return &reports, warnings
}

// CollectCoverage reads the coverage report from dir, preferring the
// coverage.py JSON report over the Cobertura XML report.
func CollectCoverage(dir string) (*CoverageReport, error) {
	cov, errs := collectCoverage(dir)
	if cov == nil {
		return nil, errors.Join(errs...)
	}
	return cov, nil
}

func collectCoverage(dir string) (*CoverageReport, []error) {
	var cov *CoverageReport
	jsonErr := parseFile(dir, FileCoverageJSON, func(r io.Reader) (err error) {
		cov, err = ParseCoverageJSON(r)
		return err
	})
	if jsonErr == nil {
		return cov, nil
	}
	xmlErr := parseFile(dir, FileCoverageXML, func(r io.Reader) (err error) {
		cov, err = ParseCobertura(r)
		return err
	})
	if xmlErr == nil {
		return cov, nil
	}
	return nil, []error{jsonErr, xmlErr}
}

func parseFile(dir, name string, parse func(io.Reader) error) error {
	path := filepath.Join(dir, name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("report %s is missing", name)
		}
		return fmt.Errorf("report %s is unreadable: %w", name, err)
	}
	defer f.Close()

	if err := parse(f); err != nil {
		return fmt.Errorf("report %s: %w", name, err)
	}
	return nil
}
