package lint

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// flake8Line matches the default flake8 output format:
// "path:line:col: CODE message".
var flake8Line = regexp.MustCompile(`^(.+?):(\d+):(\d+):\s+([A-Z]+[0-9]+)\s+(.*)$`)

// ParseFlake8 parses a flake8 text report into issues. Lines that are not
// findings (statistics, counts, blank lines) are skipped.
func ParseFlake8(r io.Reader) ([]Issue, error) {
	var issues []Issue

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := flake8Line.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		line, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		code := m[4]

		issues = append(issues, NewIssue(
			code,
			flake8Severity(code),
			m[5],
			&SourceLocation{
				File:        normalizePath(m[1]),
				StartLine:   line,
				StartColumn: col,
			},
		))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read flake8 report: %w", err)
	}
	return issues, nil
}

// flake8Severity maps pyflakes (F) and pycodestyle errors (E) to errors,
// pycodestyle warnings (W) to warnings and everything else to info.
func flake8Severity(code string) Severity {
	switch code[0] {
	case 'F', 'E':
		return SeverityError
	case 'W':
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(p, "./")
}
