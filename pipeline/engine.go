package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/input-output-hk/catalyst-forge-pipeline/artifact"
	"github.com/input-output-hk/catalyst-forge-pipeline/cleanup"
	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/environment"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/executor"
	"github.com/input-output-hk/catalyst-forge-pipeline/gate"
	"github.com/input-output-hk/catalyst-forge-pipeline/git"
	"github.com/input-output-hk/catalyst-forge-pipeline/image"
	"github.com/input-output-hk/catalyst-forge-pipeline/registry"
	"github.com/input-output-hk/catalyst-forge-pipeline/secrets"
)

// Finalizer stages run after the standard stages on every path.
const (
	StagePublishArtifacts = "publish-artifacts"
	StageCleanup          = "cleanup"
)

// CheckoutFunc fetches the repository. git.Checkout is the default.
type CheckoutFunc func(ctx context.Context, opts git.CheckoutOptions) (*git.CheckoutResult, error)

// Credentials resolves named credentials. *secrets.Broker satisfies it.
type Credentials interface {
	Resolve(ctx context.Context, name string) (*secrets.Handle, error)
}

// Deps are the engine's external collaborators.
type Deps struct {
	// Exec runs interpreter, tool and build commands. Required.
	Exec executor.Runner

	// Credentials is the credential broker. Required.
	Credentials Credentials

	// Store receives the published artifacts. Required.
	Store artifact.Store

	// Docker runs service containers. Required only when a service is configured.
	Docker environment.ContainerAPI

	// BuildCache prunes the builder cache during cleanup. Optional.
	BuildCache cleanup.BuildCacheAPI

	// Checkout defaults to git.Checkout.
	Checkout CheckoutFunc

	// Pusher defaults to the ORAS pusher.
	Pusher registry.Pusher

	// Health defaults to a HealthChecker with real sleeps.
	Health *environment.HealthChecker
}

// Engine is the stage scheduler. It executes a run's matrix cells
// concurrently, each through the fixed stage sequence, and is safe for
// sequential reuse across runs.
type Engine struct {
	cfg        *config.Config
	deps       Deps
	conditions map[string]*Condition

	provisioner *environment.Provisioner
	tests       *gate.Runner
	policy      gate.Policy
	publisher   *artifact.Publisher
	builder     *image.Builder
	registry    *registry.Publisher
	tagPolicy   image.TagPolicy

	logger       *slog.Logger
	sink         EventSink
	metrics      *Metrics
	now          func() time.Time
	newID        func() string
	registryOpts []registry.Option
	cleanupWait  time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEventSink sets the sink receiving run events. Defaults to a SlogSink.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRunIDs sets the run id generator. Defaults to random UUIDs.
func WithRunIDs(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// WithRegistryOptions passes options to the registry publisher.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(e *Engine) {
		e.registryOpts = append(e.registryOpts, opts...)
	}
}

// WithCleanupTimeout bounds each cell's cleanup.
func WithCleanupTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.cleanupWait = d
	}
}

// NewEngine creates an Engine for a validated configuration.
func NewEngine(cfg *config.Config, deps Deps, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "configuration is required")
	}
	if deps.Exec == nil || deps.Credentials == nil || deps.Store == nil {
		return nil, errors.New(errors.CodeInvalidInput, "executor, credentials and artifact store are required")
	}

	conditions, err := compileConditions(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Image.BuildCell != "" && PrimaryCell(ExpandMatrix(cfg.Matrix), cfg.Image.BuildCell) < 0 {
		return nil, errors.Newf(errors.CodeInvalidConfig, "image.build_cell %q matches no matrix cell", cfg.Image.BuildCell)
	}

	e := &Engine{
		cfg:         cfg,
		deps:        deps,
		conditions:  conditions,
		logger:      slog.Default(),
		now:         time.Now,
		newID:       uuid.NewString,
		cleanupWait: cleanup.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sink == nil {
		e.sink = NewSlogSink(e.logger)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics()
	}
	if e.deps.Checkout == nil {
		e.deps.Checkout = git.Checkout
	}

	provOpts := []environment.Option{environment.WithLogger(e.logger)}
	if deps.Docker != nil {
		provOpts = append(provOpts, environment.WithDocker(deps.Docker))
	}
	if deps.Health != nil {
		provOpts = append(provOpts, environment.WithHealthChecker(deps.Health))
	}
	e.provisioner = environment.NewProvisioner(deps.Exec, cfg.Environment, provOpts...)

	e.tests = gate.NewRunner(deps.Exec, gate.CommandsFromConfig(cfg.Gates), gate.WithLogger(e.logger))
	e.policy = gate.PolicyFromConfig(cfg.Gates)

	e.publisher = artifact.NewPublisher(deps.Store,
		artifact.WithLogger(e.logger),
		artifact.WithClock(e.now),
		artifact.WithCoverageMinimum(cfg.Gates.CoverageMinimum()),
		artifact.WithRetention(cfg.Artifacts.Retention),
	)

	e.builder = image.NewBuilder(deps.Exec, cfg.Image, image.WithLogger(e.logger))
	e.tagPolicy = image.TagPolicyFromConfig(cfg)

	regOpts := []registry.Option{
		registry.WithLogger(e.logger),
		registry.WithAttemptHook(func(_ int, err error) { e.metrics.observePush(err) }),
	}
	if deps.Pusher != nil {
		regOpts = append(regOpts, registry.WithPusher(deps.Pusher))
	}
	regOpts = append(regOpts, e.registryOpts...)
	e.registry = registry.NewPublisher(deps.Credentials, cfg.Credentials, cfg.Registry, regOpts...)

	return e, nil
}

// Metrics returns the engine's metrics collectors.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Publisher returns the artifact publisher.
func (e *Engine) Publisher() *artifact.Publisher {
	return e.publisher
}

// Run executes one pipeline run for trigger and returns its final state.
// The returned error is nil when every cell succeeded; otherwise its code is
// the most severe failure among the cells. The run is returned in both cases.
func (e *Engine) Run(ctx context.Context, trigger domain.Trigger) (*domain.PipelineRun, error) {
	if err := validateTrigger(trigger); err != nil {
		return nil, err
	}

	created := e.now()
	run := &domain.PipelineRun{
		ID:         e.newID(),
		Repository: e.cfg.Repository.Name,
		Trigger:    trigger,
		Matrix:     e.cfg.Matrix,
		Cells:      ExpandMatrix(e.cfg.Matrix),
		Status:     domain.RunStatusPending,
		CreatedAt:  created,
	}
	primary := PrimaryCell(run.Cells, e.cfg.Image.BuildCell)
	logger := e.logger.With("run_id", run.ID)

	started := e.now()
	run.StartedAt = &started
	run.Status = domain.RunStatusRunning
	e.emit(ctx, domain.RunEvent{Type: domain.EventRunStarted, RunID: run.ID, Status: string(run.Status),
		Metadata: map[string]string{"trigger": trigger.Kind.String(), "ref": trigger.Ref, "commit": trigger.Commit}})
	logger.InfoContext(ctx, "pipeline run started",
		"trigger", trigger.Kind, "ref", trigger.Ref, "commit", trigger.ShortCommit(), "cells", len(run.Cells))

	barrier := newGateBarrier(run.Cells)
	cells := make([]*cellRun, 0, len(run.Cells))
	for i, cell := range run.Cells {
		cells = append(cells, e.newCellRun(run, cell, i == primary, barrier, logger))
	}
	// The primary cell waits on the gates of every other cell before it
	// builds, so it is scheduled last: the others never wait on it for a slot.
	if primary >= 0 {
		p := cells[primary]
		cells = append(append(cells[:primary:primary], cells[primary+1:]...), p)
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, c := range cells {
		g.Go(func() error {
			c.execute(ctx)
			return nil
		})
	}
	_ = g.Wait()

	e.finish(ctx, run, logger)
	return run, RunError(run)
}

func validateTrigger(t domain.Trigger) error {
	if !t.Kind.Valid() {
		return errors.Newf(errors.CodeInvalidInput, "unknown trigger kind %q", t.Kind)
	}
	if t.Kind == domain.TriggerPullRequest && t.PRNumber <= 0 {
		return errors.New(errors.CodeInvalidInput, "pull request trigger requires a pull request number")
	}
	if t.Ref == "" {
		return errors.New(errors.CodeInvalidInput, "trigger ref is required")
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, run *domain.PipelineRun, logger *slog.Logger) {
	run.Status = domain.RunStatusSucceeded
	for _, c := range run.Cells {
		switch c.Status {
		case domain.RunStatusCancelled:
			run.Status = domain.RunStatusCancelled
		case domain.RunStatusFailed:
			if run.Status != domain.RunStatusCancelled {
				run.Status = domain.RunStatusFailed
			}
		}
	}
	completed := e.now()
	run.CompletedAt = &completed

	// The run directory is empty once every cell has cleaned up.
	_ = os.Remove(filepath.Join(e.cfg.Workdir, run.ID))

	summary := Summarize(run)
	if _, err := e.publisher.PublishSummary(context.WithoutCancel(ctx), run.ID, summary); err != nil {
		logger.WarnContext(ctx, "failed to publish run summary", "error", err)
	}

	e.metrics.Runs.WithLabelValues(run.Trigger.Kind.String(), string(run.Status)).Inc()
	e.emit(ctx, domain.RunEvent{Type: domain.EventRunCompleted, RunID: run.ID, Status: string(run.Status),
		Metadata: map[string]string{"exit_code": strconv.Itoa(summary.ExitCode)}})
	logger.InfoContext(ctx, "pipeline run completed",
		"status", run.Status, "exit_code", summary.ExitCode, "duration", completed.Sub(*run.StartedAt))
}

func (e *Engine) emit(ctx context.Context, event domain.RunEvent) {
	event.EventID = uuid.NewString()
	event.Timestamp = e.now()
	e.sink.Emit(context.WithoutCancel(ctx), event)
}
