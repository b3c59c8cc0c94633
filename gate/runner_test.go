package gate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/executor"
	"github.com/input-output-hk/catalyst-forge-pipeline/executor/executortest"
)

type fakeEnv struct {
	python string
}

func (e fakeEnv) Command(argv []string, dir string) executor.Command {
	program := argv[0]
	if program == "python" {
		program = e.python
	}
	return executor.Command{Program: program, Args: argv[1:], Dir: dir, Env: map[string]string{"VIRTUAL_ENV": "/venv"}}
}

func TestRunner_Run(t *testing.T) {
	reportsDir := filepath.Join(t.TempDir(), "reports")
	fake := &executortest.Runner{Handler: func(_ context.Context, cmd executor.Command) (*executor.Result, error) {
		if cmd.Args[1] == "pytest" {
			return &executor.Result{ExitCode: 1}, &executor.ExitError{Command: cmd.String(), ExitCode: 1}
		}
		return &executor.Result{}, nil
	}}

	runner := NewRunner(fake, Commands{
		Tests:    []string{"python", "-m", "pytest", "--junitxml={reports}/junit.xml"},
		Lint:     []string{"python", "-m", "flake8", "--output-file={reports}/lint-report.txt"},
		Security: nil,
	})

	exec, err := runner.Run(context.Background(), fakeEnv{python: "/venv/bin/python"}, "/src", reportsDir, &bytes.Buffer{})
	require.NoError(t, err, "non-zero exits are recorded, not returned")

	require.Len(t, exec.Steps, 2)
	assert.Equal(t, "tests", exec.Steps[0].Name)
	assert.Equal(t, 1, exec.Steps[0].ExitCode)
	assert.Equal(t, 0, exec.Steps[1].ExitCode)
	assert.Equal(t, map[string]int{StepTests: 1, StepLint: 0}, exec.ExitCodes())

	var skipped *Execution
	assert.Nil(t, skipped.ExitCodes())

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/venv/bin/python", calls[0].Program)
	assert.Equal(t, "/src", calls[0].Dir)
	assert.Equal(t, "--junitxml="+reportsDir+"/junit.xml", calls[0].Args[2])

	_, statErr := os.Stat(reportsDir)
	assert.NoError(t, statErr)
}

func TestRunner_ToolMissing(t *testing.T) {
	fake := &executortest.Runner{Handler: func(_ context.Context, cmd executor.Command) (*executor.Result, error) {
		return nil, executor.ErrNotFound
	}}
	runner := NewRunner(fake, Commands{Tests: []string{"pytest"}, Lint: []string{"flake8"}})

	_, err := runner.Run(context.Background(), fakeEnv{}, t.TempDir(), t.TempDir(), nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeExecutionFailed, errors.CodeOf(err))
	assert.Len(t, fake.Calls(), 1, "stops at the first tool that cannot start")
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &executortest.Runner{Handler: func(ctx context.Context, cmd executor.Command) (*executor.Result, error) {
		cancel()
		return nil, ctx.Err()
	}}
	runner := NewRunner(fake, Commands{Tests: []string{"pytest"}})

	_, err := runner.Run(ctx, fakeEnv{}, t.TempDir(), t.TempDir(), nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeCancelled, errors.CodeOf(err))
}

func TestWriteLintSARIF(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, FileLint, "a.py:1:1: E501 long\nb.py:2:1: F401 unused\n")
	reports, _ := Collect(dir)

	policy := defaultPolicy()
	policy.LintFilter.IgnoreCodes = []string{"E501"}
	require.NoError(t, WriteLintSARIF(dir, reports, policy))

	data, err := os.ReadFile(filepath.Join(dir, FileLintSARIF))
	require.NoError(t, err)
	assert.Contains(t, string(data), "F401")
	assert.NotContains(t, string(data), "E501")

	assert.NoError(t, WriteLintSARIF(dir, &Reports{}, policy))
}
