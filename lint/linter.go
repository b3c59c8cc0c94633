package lint

import (
	"sort"
)

// Linter runs a fixed set of rules over Dockerfiles.
type Linter struct {
	rules []Rule
}

// NewLinter creates a Linter with the given rules.
func NewLinter(rules ...Rule) *Linter {
	return &Linter{rules: rules}
}

// Rules returns the configured rules.
func (l *Linter) Rules() []Rule {
	return l.rules
}

// Lint applies every rule and returns the issues sorted by location.
func (l *Linter) Lint(df *Dockerfile) []Issue {
	root := NewContext(df)

	var issues []Issue
	for _, rule := range l.rules {
		issues = append(issues, rule.Check(root)...)
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return compareIssuesByLocation(issues[i], issues[j])
	})
	return issues
}

// compareIssuesByLocation orders issues by file, line, column and rule.
func compareIssuesByLocation(a, b Issue) bool {
	if a.Location == nil || b.Location == nil {
		if a.Location == nil && b.Location == nil {
			return a.Rule < b.Rule
		}
		return a.Location == nil
	}
	if a.Location.File != b.Location.File {
		return a.Location.File < b.Location.File
	}
	if a.Location.StartLine != b.Location.StartLine {
		return a.Location.StartLine < b.Location.StartLine
	}
	if a.Location.StartColumn != b.Location.StartColumn {
		return a.Location.StartColumn < b.Location.StartColumn
	}
	return a.Rule < b.Rule
}
