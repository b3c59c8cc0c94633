// Package image computes image tags from trigger metadata and builds
// multi-platform container images into an OCI layout.
package image

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
)

// LatestTag is applied to pushes to the default branch.
const LatestTag = "latest"

const maxTagLength = 128

var (
	invalidTagChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)
	repeatedDashes  = regexp.MustCompile(`-{2,}`)
)

// TagPolicy holds the repository facts tag computation depends on.
type TagPolicy struct {
	DefaultBranch   string
	TrackedBranches []string
}

// TagPolicyFromConfig extracts the TagPolicy from a configuration.
func TagPolicyFromConfig(cfg *config.Config) TagPolicy {
	return TagPolicy{
		DefaultBranch:   cfg.Repository.DefaultBranch,
		TrackedBranches: cfg.Repository.TrackedBranches,
	}
}

func (p TagPolicy) tracked(branch string) bool {
	if branch == p.DefaultBranch {
		return true
	}
	for _, b := range p.TrackedBranches {
		if b == branch {
			return true
		}
	}
	return false
}

// ComputeTags derives the image tags for a trigger. The result is never empty
// when err is nil and is deterministic for a given trigger and policy.
//
//	push to default branch     latest, <branch>, <branch>-<short sha>-<YYYYMMDD>
//	push to tracked branch     <branch>, <branch>-<short sha>-<YYYYMMDD>
//	push to any other branch   <branch>-<short sha>-<YYYYMMDD>
//	tag vX.Y.Z                 vX.Y.Z, vX.Y, vX
//	any other tag              <tag>
//	pull request               pr-<number>
//
// Manual triggers are tagged like pushes of their ref.
func ComputeTags(t domain.Trigger, p TagPolicy) ([]domain.ImageTag, error) {
	var tags []string

	switch {
	case t.Kind == domain.TriggerPullRequest:
		if t.PRNumber <= 0 {
			return nil, errors.New(errors.CodeInvalidInput, "pull request trigger has no number")
		}
		tags = []string{fmt.Sprintf("pr-%d", t.PRNumber)}

	case t.Tag() != "":
		tags = versionTags(t.Tag())

	default:
		branch := t.Branch()
		if branch == "" {
			return nil, errors.New(errors.CodeInvalidInput, "trigger has no branch or tag")
		}
		if t.Commit == "" {
			return nil, errors.New(errors.CodeInvalidInput, "push trigger has no commit")
		}
		if t.Timestamp.IsZero() {
			return nil, errors.New(errors.CodeInvalidInput, "push trigger has no timestamp")
		}
		if branch == p.DefaultBranch {
			tags = append(tags, LatestTag)
		}
		if p.tracked(branch) {
			tags = append(tags, branch)
		}
		tags = append(tags, fmt.Sprintf("%s-%s-%s", branch, t.ShortCommit(), t.Timestamp.UTC().Format("20060102")))
	}

	return normalize(tags), nil
}

// versionTags expands a strict vX.Y.Z tag into its release line tags.
// Anything else, including pre-releases, yields the tag itself.
func versionTags(tag string) []string {
	if !strings.HasPrefix(tag, "v") {
		return []string{tag}
	}
	v, err := semver.StrictNewVersion(strings.TrimPrefix(tag, "v"))
	if err != nil || v.Prerelease() != "" || v.Metadata() != "" {
		return []string{tag}
	}
	return []string{
		fmt.Sprintf("v%d.%d.%d", v.Major(), v.Minor(), v.Patch()),
		fmt.Sprintf("v%d.%d", v.Major(), v.Minor()),
		fmt.Sprintf("v%d", v.Major()),
	}
}

func normalize(tags []string) []domain.ImageTag {
	seen := make(map[string]bool, len(tags))
	out := make([]domain.ImageTag, 0, len(tags))
	for _, tag := range tags {
		s := SanitizeTag(tag)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, domain.ImageTag(s))
	}
	return out
}

// SanitizeTag maps s onto the OCI tag grammar [A-Za-z0-9_][A-Za-z0-9_.-]{0,127}.
// Invalid runs become a single dash ("feature/login" -> "feature-login").
func SanitizeTag(s string) string {
	s = invalidTagChars.ReplaceAllString(s, "-")
	s = repeatedDashes.ReplaceAllString(s, "-")
	s = strings.TrimLeft(s, ".-")
	if len(s) > maxTagLength {
		s = strings.TrimRight(s[:maxTagLength], ".-")
	}
	return s
}

// Repository returns "<registry>/<namespace>/<name>", skipping empty parts.
func Repository(cfg config.ImageConfig) string {
	var parts []string
	for _, p := range []string{cfg.Registry, cfg.Namespace, cfg.Name} {
		if p = strings.Trim(p, "/"); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// Reference returns the full image reference for tag.
func Reference(cfg config.ImageConfig, tag domain.ImageTag) string {
	return Repository(cfg) + ":" + tag.String()
}
