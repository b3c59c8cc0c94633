package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-pipeline/cleanup"
	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/environment"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/gate"
	"github.com/input-output-hk/catalyst-forge-pipeline/git"
	"github.com/input-output-hk/catalyst-forge-pipeline/image"
)

// Cell work directory layout.
const (
	srcDir     = "src"
	reportsDir = "reports"
	imageDir   = "image"
)

// cellRun is the state of one matrix cell while it executes. It is owned by
// a single goroutine.
type cellRun struct {
	e       *Engine
	run     *domain.PipelineRun
	cell    *domain.MatrixCell
	primary bool
	logger  *slog.Logger

	// dirErr is set when the cell directory would leave the run directory.
	dirErr     error
	dir        string
	repoDir    string
	reportsDir string
	imageDir   string

	console     io.Writer
	consoleFile *os.File

	env     *environment.Environment
	tools   *gate.Execution
	img     *image.Image
	cleanup *cleanup.Manager
	barrier *gateBarrier
	condEnv ConditionEnv
}

type stage struct {
	name string

	// run returns a non-empty skip reason when the stage decided not to act.
	run func(ctx context.Context) (string, error)
}

func (e *Engine) newCellRun(run *domain.PipelineRun, cell *domain.MatrixCell, primary bool, barrier *gateBarrier, logger *slog.Logger) *cellRun {
	runDir := filepath.Join(e.cfg.Workdir, run.ID)
	dir := filepath.Join(runDir, cell.Name)
	logger = logger.With("cell", cell.Name)

	var dirErr error
	if !isChildDir(runDir, dir) {
		dirErr = errors.New(errors.CodeInvalidConfig, "cell name does not form a directory inside the run directory").
			WithContext("cell", cell.Name)
	}
	return &cellRun{
		e:          e,
		run:        run,
		cell:       cell,
		primary:    primary,
		logger:     logger,
		dirErr:     dirErr,
		dir:        dir,
		repoDir:    filepath.Join(dir, srcDir),
		reportsDir: filepath.Join(dir, reportsDir),
		imageDir:   filepath.Join(dir, imageDir),
		console:    io.Discard,
		cleanup:    cleanup.NewManager(cleanup.WithLogger(logger), cleanup.WithTimeout(e.cleanupWait)),
		barrier:    barrier,
		condEnv:    NewConditionEnv(run.Trigger, e.cfg.Repository.DefaultBranch, cell, primary),
	}
}

// isChildDir reports whether dir is a direct child of root.
func isChildDir(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.ContainsRune(rel, filepath.Separator)
}

func (c *cellRun) stages() []stage {
	return []stage{
		{config.StageCheckout, c.checkout},
		{config.StageProvision, c.provision},
		{config.StageTest, c.test},
		{config.StageGate, c.gate},
		{config.StageBuildImage, c.buildImage},
		{config.StagePushImage, c.pushImage},
	}
}

// execute runs every stage of the cell, then the finalizers.
func (c *cellRun) execute(ctx context.Context) {
	e := c.e
	started := e.now()
	c.cell.StartedAt = &started
	c.cell.Status = domain.RunStatusRunning

	stages := c.stages()
	names := make([]string, 0, len(stages)+2)
	for _, st := range stages {
		names = append(names, st.name)
	}
	names = append(names, StagePublishArtifacts, StageCleanup)
	c.cell.Stages = make([]*domain.StageExecution, len(names))
	for i, name := range names {
		c.cell.Stages[i] = &domain.StageExecution{Name: name, Position: i, Status: domain.StageStatusPending}
	}

	e.metrics.ActiveCells.Inc()
	defer e.metrics.ActiveCells.Dec()
	e.emit(ctx, domain.RunEvent{Type: domain.EventCellStarted, RunID: c.run.ID, Cell: c.cell.Name,
		Status: string(c.cell.Status), Metadata: map[string]string{"primary": strconv.FormatBool(c.primary)}})

	// A cell that stops before its gate stage still releases the barrier.
	defer c.barrier.settle(c.cell.Name, false)

	if c.dirErr == nil {
		c.cleanup.Register(cleanup.TaskRemoveWorkdir, cleanup.RemoveAll(c.dir))
		c.openConsole()
	}

	for i, st := range stages {
		c.step(ctx, c.cell.Stages[i], st)
		if st.name == config.StageGate {
			c.barrier.settle(c.cell.Name, !c.halted())
		}
	}

	c.publishArtifacts(ctx, c.cell.Stages[len(stages)])
	c.runCleanup(ctx, c.cell.Stages[len(stages)+1])

	if c.cell.Status == domain.RunStatusRunning {
		c.cell.Status = domain.RunStatusSucceeded
	}
	completed := e.now()
	c.cell.CompletedAt = &completed

	e.metrics.Cells.WithLabelValues(string(c.cell.Status)).Inc()
	e.emit(ctx, domain.RunEvent{Type: domain.EventCellCompleted, RunID: c.run.ID, Cell: c.cell.Name,
		Status: string(c.cell.Status)})
	c.logger.InfoContext(ctx, "cell completed", "status", c.cell.Status, "failed_stage", c.cell.FailedStage)
}

func (c *cellRun) openConsole() {
	if err := os.MkdirAll(c.reportsDir, 0o755); err != nil {
		c.warn("console log unavailable: %v", err)
		return
	}
	f, err := os.Create(filepath.Join(c.reportsDir, gate.FileConsoleLog))
	if err != nil {
		c.warn("console log unavailable: %v", err)
		return
	}
	c.consoleFile = f
	c.console = f
}

func (c *cellRun) closeConsole() {
	if c.consoleFile == nil {
		return
	}
	if err := c.consoleFile.Close(); err != nil {
		c.warn("console log incomplete: %v", err)
	}
	c.consoleFile = nil
	c.console = io.Discard
}

func (c *cellRun) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.cell.Warnings = append(c.cell.Warnings, msg)
	c.logger.Warn(msg)
}

func (c *cellRun) halted() bool {
	return c.cell.Status != domain.RunStatusRunning
}

// step decides whether a stage runs and records its outcome.
func (c *cellRun) step(ctx context.Context, exec *domain.StageExecution, st stage) {
	if c.halted() {
		reason := fmt.Sprintf("not reached: %s failed", c.cell.FailedStage)
		if c.cell.Status == domain.RunStatusCancelled {
			reason = "run cancelled"
		}
		c.skip(ctx, exec, reason)
		return
	}
	if err := ctx.Err(); err != nil {
		c.skip(ctx, exec, "run cancelled")
		c.failCell(exec.Name, errors.Wrap(err, errors.CodeCancelled, "run cancelled"))
		return
	}

	sc := c.e.cfg.Stage(st.name)
	if !sc.IsEnabled() {
		c.skip(ctx, exec, "disabled")
		return
	}
	cond := c.e.conditions[st.name]
	c.condEnv.Cell = newCellEnv(c.cell, c.primary)
	ok, err := cond.Eval(c.condEnv)
	if err != nil {
		c.fail(ctx, exec, err, 0)
		return
	}
	if !ok {
		c.skip(ctx, exec, "condition not met: "+cond.String())
		return
	}

	c.runStage(ctx, exec, st, sc)
}

func (c *cellRun) runStage(ctx context.Context, exec *domain.StageExecution, st stage, sc config.StageConfig) {
	started := c.e.now()
	exec.StartedAt = &started
	exec.Status = domain.StageStatusRunning
	c.logger.InfoContext(ctx, "stage started", "stage", st.name)
	fmt.Fprintf(c.console, "==> %s\n", st.name)

	stageCtx := ctx
	if sc.Timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, sc.Timeout)
		defer cancel()
	}

	reason, err := st.run(stageCtx)
	duration := c.e.now().Sub(started)

	switch {
	case err != nil && ctx.Err() != nil:
		if errors.CodeOf(err) != errors.CodeCancelled {
			err = errors.Wrap(err, errors.CodeCancelled, "run cancelled")
		}
	case err != nil && stageCtx.Err() != nil:
		err = errors.WrapWithContext(err, errors.CodeTimeout, "stage timed out",
			map[string]interface{}{"stage": st.name, "timeout": sc.Timeout.String()})
	}

	switch {
	case err != nil:
		c.fail(ctx, exec, err, duration)
	case reason != "":
		c.finishStage(ctx, exec, domain.StageStatusSkipped, reason, duration)
	default:
		c.finishStage(ctx, exec, domain.StageStatusSucceeded, "", duration)
	}
}

func (c *cellRun) skip(ctx context.Context, exec *domain.StageExecution, reason string) {
	c.finishStage(ctx, exec, domain.StageStatusSkipped, reason, 0)
}

func (c *cellRun) fail(ctx context.Context, exec *domain.StageExecution, err error, d time.Duration) {
	c.finishStage(ctx, exec, domain.StageStatusFailed, err.Error(), d)
	c.failCell(exec.Name, err)
	c.logger.ErrorContext(ctx, "stage failed", "stage", exec.Name, "code", errors.CodeOf(err), "error", err)
	fmt.Fprintf(c.console, "stage %s failed: %v\n", exec.Name, err)
}

func (c *cellRun) failCell(stage string, err error) {
	if c.halted() {
		return
	}
	code := errors.CodeOf(err)
	c.cell.FailedStage = stage
	c.cell.FailureCode = string(code)
	c.cell.Failure = err.Error()
	if code == errors.CodeCancelled {
		c.cell.Status = domain.RunStatusCancelled
	} else {
		c.cell.Status = domain.RunStatusFailed
	}
}

func (c *cellRun) finishStage(ctx context.Context, exec *domain.StageExecution, status domain.StageStatus, reason string, d time.Duration) {
	completed := c.e.now()
	exec.Status = status
	exec.Reason = reason
	exec.CompletedAt = &completed

	c.e.metrics.observeStage(exec.Name, string(status), d)
	meta := map[string]string{}
	if reason != "" {
		meta["reason"] = reason
	}
	c.e.emit(ctx, domain.RunEvent{Type: domain.EventStageCompleted, RunID: c.run.ID, Cell: c.cell.Name,
		Stage: exec.Name, Status: string(status), Metadata: meta})
}

func (c *cellRun) checkout(ctx context.Context) (string, error) {
	if c.dirErr != nil {
		return "", c.dirErr
	}
	e := c.e
	opts := git.CheckoutOptions{
		URL:    e.cfg.Repository.URL,
		Ref:    c.run.Trigger.Ref,
		Commit: c.run.Trigger.Commit,
		Dir:    c.repoDir,
		Depth:  e.cfg.Repository.CloneDepth,

		TokenHosts: e.cfg.Repository.TokenHosts,
	}

	if requiresToken(opts.URL) {
		token, err := e.deps.Credentials.Resolve(ctx, e.cfg.Credentials.SourceControl)
		if err != nil {
			return "", err
		}
		defer token.Clear()
		opts.Token = token
	}

	res, err := e.deps.Checkout(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(err, errors.CodeCancelled, "checkout cancelled")
		}
		return "", errors.WrapWithContext(err, errors.CodeProvisioningFailed, "checkout failed",
			map[string]interface{}{"ref": opts.Ref})
	}
	c.logger.InfoContext(ctx, "repository checked out", "commit", res.Commit)
	return "", nil
}

// requiresToken reports whether cloning url needs the source-control
// credential. Local paths and file URLs do not.
func requiresToken(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (c *cellRun) provision(ctx context.Context) (string, error) {
	env, err := c.e.provisioner.Provision(ctx, environment.Request{
		RunID:   c.run.ID,
		Cell:    c.cell.Name,
		Params:  c.cell.Params,
		RepoDir: c.repoDir,
		WorkDir: c.dir,
		Console: c.console,
	})
	if env != nil {
		c.env = env
		c.cleanup.Register(cleanup.TaskReleaseEnvironment, cleanup.Release(env))
		for _, conflict := range env.Conflicts {
			c.warn("dependency conflict: %s", conflict)
		}
	}
	return "", err
}

func (c *cellRun) test(ctx context.Context) (string, error) {
	if c.env == nil {
		return "", errors.New(errors.CodeInternal, "no provisioned environment")
	}
	tools, err := c.e.tests.Run(ctx, c.env, c.repoDir, c.reportsDir, c.console)
	c.tools = tools
	return "", err
}

func (c *cellRun) gate(ctx context.Context) (string, error) {
	e := c.e
	reports, warnings := gate.Collect(c.reportsDir)
	for _, w := range warnings {
		c.warn("%s", w)
	}
	reports.Exits = c.tools.ExitCodes()

	results := gate.Evaluate(reports, e.policy)
	c.cell.Gates = results
	for _, r := range results {
		e.metrics.observeGate(string(r.Gate), r.Passed)
		e.emit(ctx, domain.RunEvent{Type: domain.EventGateEvaluated, RunID: c.run.ID, Cell: c.cell.Name,
			Stage: config.StageGate, Status: passFail(r.Passed), Metadata: map[string]string{
				"gate":      string(r.Gate),
				"policy":    string(r.Policy),
				"measured":  strconv.FormatFloat(r.Measured, 'f', -1, 64),
				"threshold": strconv.FormatFloat(r.Threshold, 'f', -1, 64),
			}})
		if !r.Passed && !r.Blocking() {
			c.warn("advisory gate %s failed: %s", r.Gate, r.Detail)
		}
	}

	if err := gate.WriteLintSARIF(c.reportsDir, reports, e.policy); err != nil {
		c.warn("failed to write SARIF lint report: %v", err)
	}

	if failed, ok := gate.FirstFailure(results); ok {
		return "", gate.FailureError(failed)
	}
	return "", nil
}

func passFail(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}

func (c *cellRun) buildImage(ctx context.Context) (string, error) {
	if c.primary {
		failed, err := c.barrier.wait(ctx, c.cell.Name)
		if err != nil {
			return "", errors.Wrap(err, errors.CodeCancelled, "stopped waiting for other cells")
		}
		if len(failed) > 0 {
			return "not built: cell " + strings.Join(failed, ", ") + " failed", nil
		}
	}

	e := c.e
	tags, err := image.ComputeTags(c.run.Trigger, e.tagPolicy)
	if err != nil {
		return "", err
	}
	c.cell.Tags = tags

	if e.cfg.Image.PruneCache && e.deps.BuildCache != nil {
		c.cleanup.Register(cleanup.TaskPruneBuildCache, cleanup.PruneBuildCache(e.deps.BuildCache, c.logger))
	}

	img, err := e.builder.Build(ctx, image.BuildRequest{
		RepoDir:    c.repoDir,
		OutputDir:  c.imageDir,
		ReportsDir: c.reportsDir,
		Tags:       tags,
		Trigger:    c.run.Trigger,
		Source:     e.cfg.Repository.URL,
		Console:    c.console,
	})
	if err != nil {
		return "", err
	}
	c.img = img
	c.cleanup.Register(cleanup.TaskRemoveImage, cleanup.Remove(img))
	return "", nil
}

func (c *cellRun) pushImage(ctx context.Context) (string, error) {
	if c.img == nil {
		return "no image was built", nil
	}
	res, err := c.e.registry.Push(ctx, c.img, c.run.Trigger)
	if err != nil {
		return "", err
	}
	if !res.Pushed() {
		return res.Reason, nil
	}
	c.cell.Pushed = true
	c.e.emit(ctx, domain.RunEvent{Type: domain.EventImagePushed, RunID: c.run.ID, Cell: c.cell.Name,
		Stage: config.StagePushImage, Status: string(res.Status), Metadata: map[string]string{
			"repository": c.img.Repository,
			"digest":     res.Digest.String(),
			"attempts":   strconv.Itoa(res.Attempts),
		}})
	return "", nil
}

// publishArtifacts publishes the cell's reports and console log. It runs on
// every path and never fails the cell.
func (c *cellRun) publishArtifacts(ctx context.Context, exec *domain.StageExecution) {
	started := c.e.now()
	exec.StartedAt = &started
	exec.Status = domain.StageStatusRunning
	c.closeConsole()
	if c.dirErr != nil {
		c.finishStage(ctx, exec, domain.StageStatusSkipped, "no cell directory", 0)
		return
	}

	res := c.e.publisher.Publish(context.WithoutCancel(ctx), c.run.ID, c.cell.Name, c.reportsDir)
	c.cell.Artifacts = res.Artifacts
	for _, w := range res.Warnings {
		c.warn("%s", w)
	}
	c.finishStage(ctx, exec, domain.StageStatusSucceeded, "", c.e.now().Sub(started))
}

// runCleanup releases every resource the cell acquired. Failures are
// warnings and never change the cell's status.
func (c *cellRun) runCleanup(ctx context.Context, exec *domain.StageExecution) {
	started := c.e.now()
	exec.StartedAt = &started
	exec.Status = domain.StageStatusRunning

	report := c.cleanup.Run(ctx)
	for _, w := range report.Warnings() {
		c.warn("%s", w)
	}

	status, reason := domain.StageStatusSucceeded, ""
	if len(report.Failures) > 0 {
		status = domain.StageStatusFailed
		reason = fmt.Sprintf("%d of %d cleanup tasks failed", len(report.Failures), len(report.Ran))
	}
	c.finishStage(ctx, exec, status, reason, c.e.now().Sub(started))
}
