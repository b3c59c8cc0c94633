// Package lint provides the issue model shared by the lint gate and the
// Dockerfile policy checks, a rule framework for Dockerfiles, a flake8 report
// parser with exclusion filtering, and reporters rendering issues as text,
// JSON or SARIF.
package lint

import (
	"fmt"
	"maps"
)

// Severity ranks an issue. Lower values are more severe.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

var severityNames = [...]string{
	SeverityError:   "error",
	SeverityWarning: "warning",
	SeverityInfo:    "info",
}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "unknown"
	}
	return severityNames[s]
}

// MarshalText renders the severity by name in JSON reports.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SourceLocation is a position in a source file. End positions are optional.
type SourceLocation struct {
	File        string `json:"file"`
	StartLine   int    `json:"start_line"`
	StartColumn int    `json:"start_column"`
	EndLine     int    `json:"end_line,omitempty"`
	EndColumn   int    `json:"end_column,omitempty"`
}

// Issue is one finding of flake8 or of a Dockerfile policy rule.
type Issue struct {
	// Rule is the linter code ("E501") or policy rule name ("non-root-user").
	Rule     string          `json:"rule"`
	Severity Severity        `json:"severity"`
	Message  string          `json:"message"`
	Location *SourceLocation `json:"location,omitempty"`

	Context map[string]interface{} `json:"context,omitempty"`
}

// NewIssue builds an Issue. location may be nil for file-wide findings.
func NewIssue(rule string, severity Severity, message string, location *SourceLocation) Issue {
	return Issue{Rule: rule, Severity: severity, Message: message, Location: location}
}

// String renders the issue as "file:line:col [rule] message".
func (i Issue) String() string {
	if i.Location == nil {
		return fmt.Sprintf("[%s] %s", i.Rule, i.Message)
	}
	l := i.Location
	return fmt.Sprintf("%s:%d:%d [%s] %s", l.File, l.StartLine, l.StartColumn, i.Rule, i.Message)
}

// File returns the file the issue was found in, or "".
func (i Issue) File() string {
	if i.Location == nil {
		return ""
	}
	return i.Location.File
}

// WithContext returns a copy of i with key set in its context.
// The receiver's map is never modified.
func (i Issue) WithContext(key string, value interface{}) Issue {
	ctx := make(map[string]interface{}, len(i.Context)+1)
	maps.Copy(ctx, i.Context)
	ctx[key] = value
	i.Context = ctx
	return i
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}
