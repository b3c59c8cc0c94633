package environment_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-pipeline/environment"
)

func TestEnvironmentCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "flake8"), []byte("#!/bin/sh\n"), 0o755))

	env := &environment.Environment{
		Dir:         dir,
		Interpreter: "python3.11",
		Python:      filepath.Join(dir, "bin", "python"),
		Vars:        map[string]string{"APP_ENV": "test"},
	}

	tests := []struct {
		name    string
		argv    []string
		program string
	}{
		{"python", []string{"python", "-m", "pytest"}, env.Python},
		{"base interpreter", []string{"python3.11", "-V"}, env.Python},
		{"installed tool", []string{"flake8", "."}, filepath.Join(dir, "bin", "flake8")},
		{"system tool", []string{"git", "status"}, "git"},
		{"absolute path", []string{"/usr/bin/env", "true"}, "/usr/bin/env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := env.Command(tt.argv, "/repo")
			assert.Equal(t, tt.program, cmd.Program)
			assert.Equal(t, tt.argv[1:], cmd.Args)
			assert.Equal(t, "/repo", cmd.Dir)
			assert.Equal(t, "test", cmd.Env["APP_ENV"])
			assert.Equal(t, dir, cmd.Env["VIRTUAL_ENV"])
		})
	}
}

func TestEnvironmentReleaseRemovesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "env")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))

	env := &environment.Environment{Cell: "python-3.11", Dir: dir}
	require.NoError(t, env.Release(context.Background()))
	assert.NoDirExists(t, dir)
}
