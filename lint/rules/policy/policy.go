// Package policy provides the Dockerfile build-isolation rules enforced
// before an image is built: a multi-stage build, a non-root runtime user,
// pinned base images and no credentials baked into the image.
package policy

import (
	"fmt"
	"strings"

	"github.com/input-output-hk/catalyst-forge-pipeline/lint"
)

// Rule names.
const (
	MultiStageName     = "multi-stage-build"
	NonRootUserName    = "non-root-user"
	PinnedBaseName     = "pinned-base-image"
	NoInlineSecretName = "no-inline-secret"
)

// Default returns the rules applied when image policy enforcement is enabled.
func Default() []lint.Rule {
	return []lint.Rule{
		MultiStage(),
		NonRootUser(),
		PinnedBase(),
		NoInlineSecret(),
	}
}

// MultiStage requires at least two build stages so that build tooling does
// not end up in the final image.
//
//nolint:ireturn
func MultiStage() lint.Rule {
	return lint.RequireRule(
		MultiStageName,
		"Dockerfile must use a multi-stage build",
		func(ctx *lint.Context) bool {
			return ctx.File != nil && len(ctx.File.Stages) >= 2
		},
	)
}

// NonRootUser requires the final stage to switch to a user other than root.
//
//nolint:ireturn
func NonRootUser() lint.Rule {
	return lint.SimpleRule(
		NonRootUserName,
		"Final stage must run as a non-root user",
		func(ctx *lint.Context) []lint.Issue {
			if ctx.File == nil {
				return nil
			}
			final := ctx.File.FinalStage()
			if final == nil {
				return nil
			}

			var last *lint.Instruction
			for _, in := range final.Instructions {
				if in.Command == "USER" {
					last = in
				}
			}

			switch {
			case last == nil:
				return []lint.Issue{lint.NewIssue(
					NonRootUserName,
					lint.SeverityError,
					"final stage does not set USER and runs as root",
					ctx.File.Location(final.From),
				)}
			case isRootUser(last.Value):
				return []lint.Issue{lint.NewIssue(
					NonRootUserName,
					lint.SeverityError,
					fmt.Sprintf("final stage runs as %q", last.Value),
					ctx.File.Location(last),
				)}
			default:
				return nil
			}
		},
	)
}

func isRootUser(value string) bool {
	user, _, _ := strings.Cut(strings.TrimSpace(value), ":")
	return user == "root" || user == "0"
}

// PinnedBase warns about base images without a tag or digest, or tagged latest.
// References to earlier stages are ignored.
//
//nolint:ireturn
func PinnedBase() lint.Rule {
	return lint.SimpleRule(
		PinnedBaseName,
		"Base images should be pinned to a tag or digest",
		func(ctx *lint.Context) []lint.Issue {
			if ctx.File == nil {
				return nil
			}
			stages := make(map[string]bool)
			var issues []lint.Issue
			for _, stage := range ctx.File.Stages {
				base := stage.Base
				if !stages[strings.ToLower(base)] && base != "scratch" && !pinned(base) {
					issues = append(issues, lint.NewIssue(
						PinnedBaseName,
						lint.SeverityWarning,
						fmt.Sprintf("base image %q is not pinned", base),
						ctx.File.Location(stage.From),
					))
				}
				if stage.Name != "" {
					stages[strings.ToLower(stage.Name)] = true
				}
			}
			return issues
		},
	)
}

func pinned(ref string) bool {
	if strings.Contains(ref, "@") {
		return true
	}
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon <= slash {
		return false
	}
	return ref[colon+1:] != "latest"
}

// NoInlineSecret rejects ENV and ARG instructions that assign values to
// credential-looking names.
//
//nolint:ireturn
func NoInlineSecret() lint.Rule {
	return lint.PatternRule(
		NoInlineSecretName,
		"Credentials must not be baked into the image",
		`(?i)\b[A-Z0-9_]*(PASSWORD|SECRET|TOKEN|API_KEY)[A-Z0-9_]*\s*=\s*\S+`,
		lint.SeverityError,
	)
}
