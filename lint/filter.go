package lint

import (
	"path"
	"strings"
)

// Filter removes issues matched by configured exclusions.
type Filter struct {
	// ExcludePaths are glob patterns. A pattern matches the whole path or
	// any trailing run of path segments; a pattern ending in "/" matches a
	// directory and everything below it.
	ExcludePaths []string

	// IgnoreCodes are rule codes or code prefixes ("E501", "W").
	IgnoreCodes []string
}

// Apply splits issues into kept and excluded ones, preserving order.
func (f Filter) Apply(issues []Issue) (kept, excluded []Issue) {
	for _, issue := range issues {
		if f.Excludes(issue) {
			excluded = append(excluded, issue)
			continue
		}
		kept = append(kept, issue)
	}
	return kept, excluded
}

// Excludes reports whether issue matches an exclusion.
func (f Filter) Excludes(issue Issue) bool {
	for _, code := range f.IgnoreCodes {
		if code != "" && strings.HasPrefix(issue.Rule, code) {
			return true
		}
	}
	file := normalizePath(issue.File())
	if file == "" {
		return false
	}
	for _, pattern := range f.ExcludePaths {
		if matchPath(pattern, file) {
			return true
		}
	}
	return false
}

func matchPath(pattern, file string) bool {
	pattern = normalizePath(pattern)
	if pattern == "" {
		return false
	}

	if dir, ok := strings.CutSuffix(pattern, "/"); ok {
		return file == dir || strings.HasPrefix(file, dir+"/") || strings.Contains(file, "/"+dir+"/")
	}

	candidate := file
	for {
		if ok, _ := path.Match(pattern, candidate); ok {
			return true
		}
		i := strings.IndexByte(candidate, '/')
		if i < 0 {
			return false
		}
		candidate = candidate[i+1:]
	}
}
