// Package executor runs external programs for pipeline stages: interpreter
// probes, dependency installs, test tools and image builds. It captures
// output, tees it to a console log, reports exit codes and retries when
// asked to.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// Command describes one program invocation.
type Command struct {
	// Program is the executable name or path.
	Program string

	// Args are passed to the program verbatim (no shell interpretation).
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is merged over the current process environment. Values are never logged.
	Env map[string]string

	// Stdin is an optional input stream.
	Stdin io.Reader
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	return strings.TrimSpace(c.Program + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of an execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Attempts int
}

// Runner executes commands. Stages depend on this interface so tests can
// substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd Command, opts ...Option) (*Result, error)
}

// ExitError reports a non-zero exit status.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates the program does not exist on PATH.
var ErrNotFound = errors.New("executable not found")

// ExitCodeOf returns the exit code carried by err, 0 for nil, -1 otherwise.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode
	}
	return -1
}

// Options configures command execution behavior.
type Options struct {
	// MaxRetries is the number of additional attempts after a failure.
	MaxRetries int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
	// RetryOn decides whether a failure is retried. Nil retries every failure.
	RetryOn func(error) bool

	// Output receives a copy of stdout and stderr (e.g., the cell console log).
	Output io.Writer

	// AllowExitCodes lists non-zero exit codes that are not failures.
	AllowExitCodes []int
}

// Option is a function that modifies Options.
type Option func(*Options)

// WithRetry configures retry behavior.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = maxRetries
		o.RetryDelay = delay
	}
}

// WithRetryCondition sets a custom retry condition.
func WithRetryCondition(fn func(error) bool) Option {
	return func(o *Options) {
		o.RetryOn = fn
	}
}

// WithOutput tees stdout and stderr to w.
func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		o.Output = w
	}
}

// WithAllowedExitCodes treats the given exit codes as success. Test and scan
// tools exit non-zero when they find problems while still writing reports.
func WithAllowedExitCodes(codes ...int) Option {
	return func(o *Options) {
		o.AllowExitCodes = append(o.AllowExitCodes, codes...)
	}
}

// CommandRunner implements Runner on top of os/exec.
type CommandRunner struct {
	logger   *slog.Logger
	defaults []Option
}

// RunnerOption configures a CommandRunner.
type RunnerOption func(*CommandRunner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *CommandRunner) {
		r.logger = logger
	}
}

// WithDefaults sets options applied to every command before per-call options.
func WithDefaults(opts ...Option) RunnerOption {
	return func(r *CommandRunner) {
		r.defaults = append(r.defaults, opts...)
	}
}

// New creates a CommandRunner.
func New(opts ...RunnerOption) *CommandRunner {
	r := &CommandRunner{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes cmd, retrying per the options. The returned Result describes
// the last attempt and is non-nil whenever the process started.
func (r *CommandRunner) Run(ctx context.Context, cmd Command, opts ...Option) (*Result, error) {
	options := &Options{RetryDelay: time.Second}
	for _, opt := range r.defaults {
		opt(options)
	}
	for _, opt := range opts {
		opt(options)
	}

	maxAttempts := options.MaxRetries + 1
	var (
		result *Result
		err    error
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = r.runOnce(ctx, cmd, options)
		if result != nil {
			result.Attempts = attempt
		}
		if err == nil || attempt == maxAttempts {
			break
		}
		if options.RetryOn != nil && !options.RetryOn(err) {
			break
		}
		if errors.Is(err, ErrNotFound) {
			break
		}

		r.logger.WarnContext(ctx, "command failed, retrying",
			"command", cmd.Program, "attempt", attempt, "max_attempts", maxAttempts, "error", err)

		select {
		case <-ctx.Done():
			return result, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(options.RetryDelay):
		}
	}

	return result, err
}

func (r *CommandRunner) runOnce(ctx context.Context, cmd Command, options *Options) (*Result, error) {
	if _, err := exec.LookPath(cmd.Program); err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Program, ErrNotFound)
	}

	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = os.Environ()
		for k, v := range cmd.Env {
			c.Env = append(c.Env, k+"="+v)
		}
	}
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	var stdout, stderr bytes.Buffer
	if options.Output != nil {
		c.Stdout = io.MultiWriter(&stdout, options.Output)
		c.Stderr = io.MultiWriter(&stderr, options.Output)
	} else {
		c.Stdout = &stdout
		c.Stderr = &stderr
	}

	r.logger.DebugContext(ctx, "running command",
		"command", cmd.String(), "dir", cmd.Dir, "env_keys", envKeys(cmd.Env))

	start := time.Now()
	runErr := c.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("%s: %w", cmd.Program, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		for _, allowed := range options.AllowExitCodes {
			if allowed == result.ExitCode {
				return result, nil
			}
		}
		return result, &ExitError{
			Command:  cmd.String(),
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      runErr,
		}
	}

	result.ExitCode = -1
	return result, fmt.Errorf("%s: %w", cmd.Program, runErr)
}

func envKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
