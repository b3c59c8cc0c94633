package environment

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Requirement is one dependency line of a manifest.
type Requirement struct {
	// Name is the normalized package name.
	Name string
	// Spec is the requirement as written, without comments.
	Spec string
	// Source is the manifest the requirement came from.
	Source string
}

// Conflict reports a package declared by more than one manifest with
// different specifiers. The earlier declaration is kept.
type Conflict struct {
	Package       string
	Kept          string
	KeptSource    string
	Ignored       string
	IgnoredSource string
}

// String describes the conflict for warnings.
func (c Conflict) String() string {
	return fmt.Sprintf("dependency %s: kept %q from %s, ignored %q from %s",
		c.Package, c.Kept, c.KeptSource, c.Ignored, c.IgnoredSource)
}

// Manifest is a parsed dependency manifest.
type Manifest struct {
	Path         string
	Requirements []Requirement
	// Options are pip option lines ("--index-url ...", "-c constraints.txt").
	Options []string
}

var (
	nameRe      = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*`)
	separatorRe = regexp.MustCompile(`[-_.]+`)
)

// NormalizeName normalizes a package name so that "Django", "django" and
// "DJANGO" or "zope.interface" and "zope-interface" compare equal.
func NormalizeName(name string) string {
	return separatorRe.ReplaceAllString(strings.ToLower(name), "-")
}

// ParseManifest parses a requirements-style manifest. Comments and blank
// lines are dropped; option lines are kept separately.
func ParseManifest(r io.Reader, path string) (*Manifest, error) {
	m := &Manifest{Path: path}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "-") {
			m.Options = append(m.Options, line)
			continue
		}

		name := nameRe.FindString(line)
		if name == "" {
			return nil, fmt.Errorf("%s:%d: invalid requirement %q", path, lineNo, line)
		}
		m.Requirements = append(m.Requirements, Requirement{
			Name:   NormalizeName(name),
			Spec:   line,
			Source: path,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return m, nil
}

func stripComment(line string) string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "#") {
		return ""
	}
	if i := strings.Index(line, " #"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// Merge combines manifests in order. A package already taken from an earlier
// manifest is never overridden; a later declaration with a different
// specifier is reported as a Conflict.
func Merge(manifests []*Manifest) (*Manifest, []Conflict) {
	merged := &Manifest{Path: "merged"}
	index := make(map[string]Requirement)
	seenOption := make(map[string]bool)

	var conflicts []Conflict
	for _, m := range manifests {
		for _, opt := range m.Options {
			if !seenOption[opt] {
				seenOption[opt] = true
				merged.Options = append(merged.Options, opt)
			}
		}
		for _, req := range m.Requirements {
			kept, ok := index[req.Name]
			if !ok {
				index[req.Name] = req
				merged.Requirements = append(merged.Requirements, req)
				continue
			}
			if normalizeSpec(kept.Spec) != normalizeSpec(req.Spec) {
				conflicts = append(conflicts, Conflict{
					Package:       req.Name,
					Kept:          kept.Spec,
					KeptSource:    kept.Source,
					Ignored:       req.Spec,
					IgnoredSource: req.Source,
				})
			}
		}
	}
	return merged, conflicts
}

func normalizeSpec(spec string) string {
	name := nameRe.FindString(spec)
	rest := strings.Join(strings.Fields(spec[len(name):]), "")
	return NormalizeName(name) + rest
}

// LoadManifests reads the given manifests relative to root, skipping those
// that do not exist.
func LoadManifests(root string, paths []string) ([]*Manifest, error) {
	var manifests []*Manifest
	for _, p := range paths {
		f, err := os.Open(filepath.Join(root, p))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to open manifest %s: %w", p, err)
		}
		m, err := ParseManifest(f, p)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// WriteLock writes the merged manifest as a requirements file.
func WriteLock(path string, m *Manifest) error {
	var b strings.Builder
	for _, opt := range m.Options {
		b.WriteString(opt)
		b.WriteByte('\n')
	}
	for _, req := range m.Requirements {
		fmt.Fprintf(&b, "%s  # from %s\n", req.Spec, req.Source)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
