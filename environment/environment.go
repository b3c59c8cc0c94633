package environment

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/docker/docker/api/types/container"

	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/executor"
)

// Environment is the isolated execution environment of one matrix cell.
type Environment struct {
	// Cell is the matrix cell this environment belongs to.
	Cell string

	// Dir is the environment root (the virtual environment).
	Dir string

	// Interpreter is the probed base interpreter ("python3.11").
	Interpreter string

	// Version is the interpreter's reported version.
	Version string

	// Python is the interpreter inside the environment.
	Python string

	// Vars are passed to every command run in the environment.
	Vars map[string]string

	// Requirements are the merged dependencies installed into the environment.
	Requirements []Requirement

	// Conflicts lists manifest conflicts found while merging.
	Conflicts []Conflict

	// ContainerID is the service container, if one was started.
	ContainerID string

	docker      ContainerAPI
	releaseOnce sync.Once
	releaseErr  error
}

// BinDir returns the directory holding the environment's executables.
func (e *Environment) BinDir() string {
	return filepath.Join(e.Dir, "bin")
}

// Command binds argv to the environment. "python" and the base interpreter
// name resolve to the environment's interpreter; tools installed in the
// environment resolve to their installed path.
func (e *Environment) Command(argv []string, dir string) executor.Command {
	cmd := executor.Command{Dir: dir, Env: e.env()}
	if len(argv) == 0 {
		return cmd
	}

	program := argv[0]
	switch {
	case program == "python" || program == "python3" || program == e.Interpreter:
		if e.Python != "" {
			program = e.Python
		}
	case filepath.Base(program) == program && e.Dir != "":
		installed := filepath.Join(e.BinDir(), program)
		if info, err := os.Stat(installed); err == nil && !info.IsDir() {
			program = installed
		}
	}

	cmd.Program = program
	cmd.Args = append([]string(nil), argv[1:]...)
	return cmd
}

func (e *Environment) env() map[string]string {
	env := make(map[string]string, len(e.Vars)+2)
	for k, v := range e.Vars {
		env[k] = v
	}
	if e.Dir != "" {
		env["VIRTUAL_ENV"] = e.Dir
	}
	env["PYTHONDONTWRITEBYTECODE"] = "1"
	return env
}

// Release removes the service container and the environment directory.
// It is safe to call more than once; only the first call does work.
func (e *Environment) Release(ctx context.Context) error {
	e.releaseOnce.Do(func() {
		var errs []error
		if e.ContainerID != "" && e.docker != nil {
			if err := e.docker.ContainerRemove(ctx, e.ContainerID, container.RemoveOptions{
				Force:         true,
				RemoveVolumes: true,
			}); err != nil {
				errs = append(errs, err)
			}
		}
		if e.Dir != "" {
			if err := os.RemoveAll(e.Dir); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			e.releaseErr = errors.WrapWithContext(err, errors.CodeCleanupFailed, "failed to release environment",
				map[string]interface{}{"cell": e.Cell})
		}
	})
	return e.releaseErr
}
