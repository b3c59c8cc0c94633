package image

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/executor"
	"github.com/input-output-hk/catalyst-forge-pipeline/lint"
	"github.com/input-output-hk/catalyst-forge-pipeline/lint/rules/policy"
)

// LayoutFile is the OCI image layout archive written by Build.
const LayoutFile = "image.oci.tar"

// PolicyReportFile receives the Dockerfile policy findings.
const PolicyReportFile = "dockerfile-lint.txt"

// OCI annotations set on every image.
const (
	AnnotationRevision = "org.opencontainers.image.revision"
	AnnotationSource   = "org.opencontainers.image.source"
	AnnotationCreated  = "org.opencontainers.image.created"
)

// Image is a built, not yet pushed, image.
type Image struct {
	// Repository is "<registry>/<namespace>/<name>".
	Repository string

	// Layout is the OCI layout archive holding the image index.
	Layout string

	// Ref is the tag the root index is stored under inside the layout.
	Ref string

	Tags      []domain.ImageTag
	Platforms []string
}

// BuildRequest describes one image build.
type BuildRequest struct {
	// RepoDir is the repository root, used as the build context.
	RepoDir string

	// OutputDir receives the OCI layout archive.
	OutputDir string

	// ReportsDir receives the Dockerfile policy report. Optional.
	ReportsDir string

	Tags    []domain.ImageTag
	Trigger domain.Trigger
	Source  string
	Console io.Writer
}

// Builder builds images with docker buildx.
type Builder struct {
	exec   executor.Runner
	cfg    config.ImageConfig
	rules  []lint.Rule
	logger *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithRules replaces the Dockerfile policy rules.
func WithRules(rules ...lint.Rule) BuilderOption {
	return func(b *Builder) {
		b.rules = rules
	}
}

// NewBuilder creates a Builder.
func NewBuilder(exec executor.Runner, cfg config.ImageConfig, opts ...BuilderOption) *Builder {
	b := &Builder{
		exec:   exec,
		cfg:    cfg,
		rules:  policy.Default(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CheckPolicy lints the Dockerfile against the image policy. Issues of error
// severity fail the check; all issues are returned.
func (b *Builder) CheckPolicy(repoDir string) ([]lint.Issue, error) {
	path := filepath.Join(repoDir, b.cfg.Dockerfile)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeBuildFailed, "failed to read Dockerfile",
			map[string]interface{}{"path": b.cfg.Dockerfile})
	}
	defer f.Close()

	df, err := lint.ParseDockerfile(f, b.cfg.Dockerfile)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeBuildFailed, "failed to parse Dockerfile")
	}

	issues := lint.NewLinter(b.rules...).Lint(df)
	if lint.HasErrors(issues) {
		msgs := make([]string, 0, len(issues))
		for _, i := range issues {
			if i.Severity == lint.SeverityError {
				msgs = append(msgs, i.Message)
			}
		}
		return issues, errors.Newf(errors.CodeBuildFailed, "Dockerfile violates image policy: %s", strings.Join(msgs, "; "))
	}
	return issues, nil
}

// Build builds the image for every configured platform into an OCI layout
// archive under req.OutputDir.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*Image, error) {
	if len(req.Tags) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "image build requires at least one tag")
	}

	if b.cfg.EnforcePolicy {
		issues, err := b.CheckPolicy(req.RepoDir)
		if req.ReportsDir != "" && len(issues) > 0 {
			if werr := writePolicyReport(filepath.Join(req.ReportsDir, PolicyReportFile), issues); werr != nil {
				b.logger.WarnContext(ctx, "failed to write Dockerfile policy report", "error", werr)
			}
		}
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeBuildFailed, "failed to create image output directory")
	}

	img := &Image{
		Repository: Repository(b.cfg),
		Layout:     filepath.Join(req.OutputDir, LayoutFile),
		Ref:        req.Tags[0].String(),
		Tags:       req.Tags,
		Platforms:  b.cfg.Platforms,
	}

	var opts []executor.Option
	if req.Console != nil {
		opts = append(opts, executor.WithOutput(req.Console))
	}

	cmd := executor.Command{
		Program: "docker",
		Args:    b.buildArgs(img, req),
		Dir:     req.RepoDir,
	}
	b.logger.InfoContext(ctx, "building image",
		"repository", img.Repository, "platforms", strings.Join(img.Platforms, ","), "tags", len(img.Tags))

	if _, err := b.exec.Run(ctx, cmd, opts...); err != nil {
		_ = os.Remove(img.Layout)
		if errors.CodeOf(err) == errors.CodeCancelled {
			return nil, errors.Wrap(err, errors.CodeCancelled, "image build cancelled")
		}
		return nil, errors.WrapWithContext(err, errors.CodeBuildFailed, "image build failed",
			map[string]interface{}{"repository": img.Repository, "exit_code": executor.ExitCodeOf(err)})
	}
	return img, nil
}

func (b *Builder) buildArgs(img *Image, req BuildRequest) []string {
	args := []string{
		"buildx", "build",
		"--file", filepath.Join(req.RepoDir, b.cfg.Dockerfile),
		"--platform", strings.Join(b.cfg.Platforms, ","),
		"--output", fmt.Sprintf("type=oci,dest=%s,name=%s:%s", img.Layout, img.Repository, img.Ref),
	}

	keys := make([]string, 0, len(b.cfg.BuildArgs))
	for k := range b.cfg.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", k+"="+b.cfg.BuildArgs[k])
	}

	if req.Trigger.Commit != "" {
		args = append(args, "--label", AnnotationRevision+"="+req.Trigger.Commit)
	}
	if req.Source != "" {
		args = append(args, "--label", AnnotationSource+"="+req.Source)
	}
	if !req.Trigger.Timestamp.IsZero() {
		args = append(args, "--label", AnnotationCreated+"="+req.Trigger.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
	}

	return append(args, req.RepoDir)
}

func writePolicyReport(path string, issues []lint.Issue) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return lint.NewReporter(f, lint.FormatText, "forge-pipeline").Report(issues)
}

// Remove deletes the image's OCI layout archive.
func (img *Image) Remove() error {
	if err := os.Remove(img.Layout); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
