// Package cleanup releases the resources a matrix cell acquired, on every
// exit path.
//
// Tasks are registered as resources are acquired and run in reverse order of
// registration. A Manager runs its tasks at most once, regardless of how many
// times Run is called or from how many goroutines. Every task runs even when
// an earlier task fails, and failures are reported as warnings rather than
// changing the outcome of the cell.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
)

// DefaultTimeout bounds a full cleanup run.
const DefaultTimeout = 2 * time.Minute

// Func releases one resource.
type Func func(ctx context.Context) error

type task struct {
	name string
	fn   Func
}

// Failure records a task that returned an error.
type Failure struct {
	Task string
	Err  error
}

// Report is the outcome of Run.
type Report struct {
	// Ran lists the tasks in execution order.
	Ran []string

	Failures []Failure
}

// Warnings renders the failures as human-readable warnings.
func (r *Report) Warnings() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, fmt.Sprintf("cleanup task %s failed: %v", f.Task, f.Err))
	}
	return out
}

// Err joins the failures into a single CLEANUP_FAILED error, or returns nil.
func (r *Report) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.Task, f.Err))
	}
	return errors.Wrap(errors.Join(errs...), errors.CodeCleanupFailed, "cleanup incomplete")
}

// Manager holds the cleanup tasks of one cell.
type Manager struct {
	mu      sync.Mutex
	tasks   []task
	once    sync.Once
	report  *Report
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithTimeout bounds a full cleanup run. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a task. Tasks registered after Run has started are ignored.
func (m *Manager) Register(name string, fn Func) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.report != nil {
		m.logger.Warn("cleanup task registered after cleanup ran", "task", name)
		return
	}
	m.tasks = append(m.tasks, task{name: name, fn: fn})
}

// Len returns the number of registered tasks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Run executes every task in reverse registration order, exactly once. The
// context's values are kept but its cancellation is not, so a cancelled run
// still releases its resources. Later calls return the first report.
func (m *Manager) Run(ctx context.Context) *Report {
	m.once.Do(func() {
		m.mu.Lock()
		tasks := m.tasks
		m.tasks = nil
		m.report = &Report{}
		m.mu.Unlock()

		runCtx := context.WithoutCancel(ctx)
		if m.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, m.timeout)
			defer cancel()
		}

		for i := len(tasks) - 1; i >= 0; i-- {
			t := tasks[i]
			err := m.runTask(runCtx, t)
			m.report.Ran = append(m.report.Ran, t.name)
			if err != nil {
				m.report.Failures = append(m.report.Failures, Failure{Task: t.name, Err: err})
				m.logger.WarnContext(ctx, "cleanup task failed",
					"task", t.name,
					"code", errors.CodeCleanupFailed,
					"error", err)
				continue
			}
			m.logger.DebugContext(ctx, "cleanup task completed", "task", t.name)
		}
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report
}

// runTask runs one task, converting a panic into an error so the remaining
// tasks still run.
func (m *Manager) runTask(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.fn(ctx)
}
