// Package executortest provides a scripted executor.Runner for tests of
// packages that run external commands.
package executortest

import (
	"context"
	"sync"

	"github.com/input-output-hk/catalyst-forge-pipeline/executor"
)

// Runner is an executor.Runner whose Handler decides the outcome of each
// call. Every command is recorded in Calls.
type Runner struct {
	Handler func(ctx context.Context, cmd executor.Command) (*executor.Result, error)

	mu    sync.Mutex
	calls []executor.Command
}

// Run implements executor.Runner.
func (f *Runner) Run(ctx context.Context, cmd executor.Command, _ ...executor.Option) (*executor.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if f.Handler != nil {
		return f.Handler(ctx, cmd)
	}
	return &executor.Result{Attempts: 1}, nil
}

// Calls returns a copy of the recorded commands.
func (f *Runner) Calls() []executor.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Command(nil), f.calls...)
}
