package lint

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Format represents the output format for reporting issues.
type Format int

const (
	// FormatText outputs one issue per line.
	FormatText Format = iota
	// FormatJSON outputs {"issues": [...]}.
	FormatJSON
	// FormatSARIF outputs a SARIF 2.1.0 log for code-scanning upload.
	FormatSARIF
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatJSON:
		return "json"
	case FormatSARIF:
		return "sarif"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "sarif":
		return FormatSARIF, nil
	default:
		return 0, fmt.Errorf("unsupported format: %s", s)
	}
}

// Reporter writes issues in a chosen format.
type Reporter struct {
	writer   io.Writer
	format   Format
	toolName string
}

// NewReporter creates a Reporter. toolName identifies the producing linter
// in SARIF output.
func NewReporter(writer io.Writer, format Format, toolName string) *Reporter {
	if toolName == "" {
		toolName = "forge-lint"
	}
	return &Reporter{writer: writer, format: format, toolName: toolName}
}

// Report writes the issues sorted by location. Structured formats are
// written even when there are no issues.
func (r *Reporter) Report(issues []Issue) error {
	sorted := make([]Issue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareIssuesByLocation(sorted[i], sorted[j])
	})

	switch r.format {
	case FormatText:
		return r.reportText(sorted)
	case FormatJSON:
		return r.encode(struct {
			Issues []Issue `json:"issues"`
		}{Issues: nonNil(sorted)})
	case FormatSARIF:
		return r.encode(r.sarif(sorted))
	default:
		return fmt.Errorf("unsupported format: %s", r.format)
	}
}

func (r *Reporter) reportText(issues []Issue) error {
	for _, issue := range issues {
		if _, err := fmt.Fprintln(r.writer, issue.String()); err != nil {
			return fmt.Errorf("failed to write text output: %w", err)
		}
	}
	return nil
}

func (r *Reporter) encode(v interface{}) error {
	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s output: %w", r.format, err)
	}
	return nil
}

func nonNil(issues []Issue) []Issue {
	if issues == nil {
		return []Issue{}
	}
	return issues
}

const sarifSchema = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name  string      `json:"name"`
	Rules []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	ShortDescription sarifMessage `json:"shortDescription"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations,omitempty"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysical `json:"physicalLocation"`
}

type sarifPhysical struct {
	ArtifactLocation sarifArtifact `json:"artifactLocation"`
	Region           *sarifRegion  `json:"region,omitempty"`
}

type sarifArtifact struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine   int `json:"startLine,omitempty"`
	StartColumn int `json:"startColumn,omitempty"`
	EndLine     int `json:"endLine,omitempty"`
	EndColumn   int `json:"endColumn,omitempty"`
}

func (r *Reporter) sarif(issues []Issue) sarifLog {
	seen := make(map[string]bool)
	rules := []sarifRule{}
	results := make([]sarifResult, 0, len(issues))

	for _, issue := range issues {
		if !seen[issue.Rule] {
			seen[issue.Rule] = true
			rules = append(rules, sarifRule{ID: issue.Rule, ShortDescription: sarifMessage{Text: issue.Message}})
		}

		result := sarifResult{
			RuleID:  issue.Rule,
			Level:   sarifLevel(issue.Severity),
			Message: sarifMessage{Text: issue.Message},
		}
		if loc := issue.Location; loc != nil {
			physical := sarifPhysical{ArtifactLocation: sarifArtifact{URI: normalizePath(loc.File)}}
			if loc.StartLine > 0 {
				physical.Region = &sarifRegion{
					StartLine:   loc.StartLine,
					StartColumn: loc.StartColumn,
					EndLine:     loc.EndLine,
					EndColumn:   loc.EndColumn,
				}
			}
			result.Locations = []sarifLocation{{PhysicalLocation: physical}}
		}
		results = append(results, result)
	}

	return sarifLog{
		Version: "2.1.0",
		Schema:  sarifSchema,
		Runs: []sarifRun{{
			Tool:    sarifTool{Driver: sarifDriver{Name: r.toolName, Rules: rules}},
			Results: results,
		}},
	}
}

// sarifLevel maps severities onto SARIF result levels.
func sarifLevel(s Severity) string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "note"
	}
}
