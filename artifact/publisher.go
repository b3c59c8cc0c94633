package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/gate"
)

// ExpectedReports are published for every cell. A missing file is recorded as
// a warning.
var ExpectedReports = []string{
	gate.FileTestHTML,
	gate.FileJUnit,
	gate.FileCoverageXML,
	gate.FileCoverageJSON,
	gate.FileCoverageMD,
	gate.FileLint,
	gate.FileSecurity,
}

// OptionalReports are published when present.
var OptionalReports = []string{
	gate.FileConsoleLog,
	gate.FileLintSARIF,
	gate.FileDockerfileLint,
}

// TypeOf classifies an artifact by file name.
func TypeOf(name string) domain.ArtifactType {
	switch {
	case name == gate.FileConsoleLog:
		return domain.ArtifactTypeLog
	case name == gate.FileCoverageMD:
		return domain.ArtifactTypeBadge
	case strings.HasPrefix(name, "coverage"):
		return domain.ArtifactTypeCoverage
	default:
		return domain.ArtifactTypeReport
	}
}

// PublishResult lists what was published and what went wrong.
type PublishResult struct {
	Artifacts []domain.Artifact
	Warnings  []string
}

func (r *PublishResult) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Publisher copies a cell's report directory into a Store.
type Publisher struct {
	store           Store
	logger          *slog.Logger
	now             func() time.Time
	coverageMinimum float64
	retention       time.Duration
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		p.now = now
	}
}

// WithCoverageMinimum sets the threshold shown in the coverage summary.
func WithCoverageMinimum(minimum float64) PublisherOption {
	return func(p *Publisher) {
		p.coverageMinimum = minimum
	}
}

// WithRetention sets how long Sweep keeps artifacts. Zero keeps them forever.
func WithRetention(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.retention = d
	}
}

// NewPublisher creates a Publisher writing to store.
func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Store returns the underlying store.
func (p *Publisher) Store() Store {
	return p.store
}

// Publish uploads the reports found in dir under the cell's key prefix.
//
// Publish never fails. Missing reports and storage errors are returned as
// warnings so that publishing cannot change the outcome of a run.
func (p *Publisher) Publish(ctx context.Context, runID, cell, dir string) *PublishResult {
	result := &PublishResult{}
	logger := p.logger.With("run_id", runID, "cell", cell)

	if err := WriteCoverageSummary(dir, cell, p.coverageMinimum); err != nil {
		logger.DebugContext(ctx, "coverage summary not generated", "error", err)
	}

	for _, name := range ExpectedReports {
		if err := p.publishFile(ctx, runID, cell, dir, name, result); err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				result.warn("expected artifact %s was not produced for cell %s", name, cell)
				continue
			}
			result.warn("failed to publish %s for cell %s: %v", name, cell, err)
		}
	}
	for _, name := range OptionalReports {
		if err := p.publishFile(ctx, runID, cell, dir, name, result); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			result.warn("failed to publish %s for cell %s: %v", name, cell, err)
		}
	}

	for _, w := range result.Warnings {
		logger.WarnContext(ctx, "artifact warning", "warning", w)
	}
	logger.InfoContext(ctx, "artifacts published", "count", len(result.Artifacts), "warnings", len(result.Warnings))
	return result
}

func (p *Publisher) publishFile(ctx context.Context, runID, cell, dir, name string, result *PublishResult) error {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	key := Key(runID, cell, name)
	if err := p.store.Put(ctx, key, f, info.Size()); err != nil {
		return err
	}
	result.Artifacts = append(result.Artifacts, domain.Artifact{
		Key:       key,
		Name:      name,
		Type:      TypeOf(name),
		Size:      info.Size(),
		CreatedAt: p.now().UTC(),
	})
	return nil
}

// PublishSummary writes v as the run's JSON summary.
func (p *Publisher) PublishSummary(ctx context.Context, runID string, v interface{}) (*domain.Artifact, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode run summary: %w", err)
	}
	data = append(data, '\n')

	key := SummaryKey(runID)
	if err := p.store.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, err
	}
	return &domain.Artifact{
		Key:       key,
		Name:      SummaryName,
		Type:      domain.ArtifactTypeReport,
		Size:      int64(len(data)),
		CreatedAt: p.now().UTC(),
	}, nil
}

// SweepResult reports the outcome of a retention sweep.
type SweepResult struct {
	Deleted []string
	Failed  map[string]error
}

// Sweep deletes every artifact older than the retention period relative to now.
func (p *Publisher) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	result := &SweepResult{Failed: make(map[string]error)}
	if p.retention <= 0 {
		return result, nil
	}

	objects, err := p.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	cutoff := now.Add(-p.retention)
	for _, obj := range objects {
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := p.store.Delete(ctx, obj.Key); err != nil {
			result.Failed[obj.Key] = err
			continue
		}
		result.Deleted = append(result.Deleted, obj.Key)
	}

	p.logger.InfoContext(ctx, "artifact retention sweep completed",
		"deleted", len(result.Deleted), "failed", len(result.Failed), "cutoff", cutoff)
	return result, nil
}
