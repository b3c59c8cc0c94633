package gate

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/executor"
	"github.com/input-output-hk/catalyst-forge-pipeline/lint"
)

// CommandEnv turns an argument vector into a command bound to a provisioned
// environment (interpreter path, environment variables).
type CommandEnv interface {
	Command(argv []string, dir string) executor.Command
}

// Commands are the tool invocations producing the reports. "{reports}" in
// any argument expands to the report directory.
type Commands struct {
	Tests    []string
	Lint     []string
	Security []string
}

// CommandsFromConfig returns the configured tool invocations.
func CommandsFromConfig(g config.GatesConfig) Commands {
	return Commands{
		Tests:    g.Tests.Command,
		Lint:     g.Lint.Command,
		Security: g.Security.Command,
	}
}

// Step names, in execution order.
const (
	StepTests    = "tests"
	StepLint     = "lint"
	StepSecurity = "security"
)

// Step records one tool invocation.
type Step struct {
	Name     string
	ExitCode int
	Duration time.Duration
}

// Execution records the tool invocations of one cell.
type Execution struct {
	Steps []Step
}

// ExitCodes returns the exit code of every step that ran.
func (e *Execution) ExitCodes() map[string]int {
	if e == nil {
		return nil
	}
	codes := make(map[string]int, len(e.Steps))
	for _, s := range e.Steps {
		codes[s.Name] = s.ExitCode
	}
	return codes
}

// Runner executes the test, lint and security tools.
type Runner struct {
	exec     executor.Runner
	commands Commands
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a Runner.
func NewRunner(exec executor.Runner, commands Commands, opts ...RunnerOption) *Runner {
	r := &Runner{
		exec:     exec,
		commands: commands,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every configured tool in repoDir, writing reports to
// reportsDir and tool output to console. Non-zero tool exits are recorded
// in the Execution and judged by Evaluate. An error is returned only when a
// tool cannot be started or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, env CommandEnv, repoDir, reportsDir string, console io.Writer) (*Execution, error) {
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeExecutionFailed, "failed to create report directory",
			map[string]interface{}{"dir": reportsDir})
	}

	steps := []struct {
		name string
		argv []string
	}{
		{StepTests, r.commands.Tests},
		{StepLint, r.commands.Lint},
		{StepSecurity, r.commands.Security},
	}

	exec := &Execution{}
	for _, s := range steps {
		if len(s.argv) == 0 {
			continue
		}
		cmd := env.Command(expand(s.argv, reportsDir), repoDir)

		opts := []executor.Option{}
		if console != nil {
			opts = append(opts, executor.WithOutput(console))
		}
		res, err := r.exec.Run(ctx, cmd, opts...)

		step := Step{Name: s.name, ExitCode: executor.ExitCodeOf(err)}
		if res != nil {
			step.Duration = res.Duration
		}
		exec.Steps = append(exec.Steps, step)

		if err == nil {
			continue
		}
		var exitErr *executor.ExitError
		if stderrors.As(err, &exitErr) {
			r.logger.InfoContext(ctx, "tool exited non-zero",
				"step", s.name, "exit_code", exitErr.ExitCode)
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return exec, errors.Wrap(ctxErr, errors.CodeCancelled, "test run cancelled")
		}
		return exec, errors.WrapWithContext(err, errors.CodeExecutionFailed, "failed to run "+s.name,
			map[string]interface{}{"command": cmd.Program})
	}
	return exec, nil
}

func expand(argv []string, reportsDir string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = strings.ReplaceAll(a, config.ReportsPlaceholder, reportsDir)
	}
	return out
}

// WriteLintSARIF renders the lint findings that survive the policy's
// exclusions as SARIF into the report directory.
func WriteLintSARIF(reportsDir string, reports *Reports, policy Policy) error {
	if reports == nil || reports.Lint == nil {
		return nil
	}
	kept, _ := policy.LintFilter.Apply(reports.Lint.Issues)

	f, err := os.Create(filepath.Join(reportsDir, FileLintSARIF))
	if err != nil {
		return err
	}
	if err := lint.NewReporter(f, lint.FormatSARIF, "flake8").Report(kept); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
