package image_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/executor"
	"github.com/input-output-hk/catalyst-forge-pipeline/executor/executortest"
	"github.com/input-output-hk/catalyst-forge-pipeline/image"
)

const goodDockerfile = `FROM python:3.11-slim AS build
WORKDIR /src
COPY . .
RUN pip wheel -w /wheels -r requirements.txt

FROM python:3.11-slim
COPY --from=build /wheels /wheels
RUN pip install /wheels/*
USER app
CMD ["gunicorn", "app.wsgi"]
`

const rootDockerfile = `FROM python:3.11
COPY . /app
CMD ["python", "manage.py", "runserver"]
`

func imageConfig() config.ImageConfig {
	return config.ImageConfig{
		Registry:      "ghcr.io",
		Namespace:     "acme",
		Name:          "messaging-app",
		Platforms:     []string{"linux/amd64", "linux/arm64"},
		Dockerfile:    "Dockerfile",
		BuildArgs:     map[string]string{"PYTHON_VERSION": "3.11", "APP_ENV": "prod"},
		EnforcePolicy: true,
	}
}

func repoWith(t *testing.T, dockerfile string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0o644))
	return dir
}

func TestBuild(t *testing.T) {
	repo := repoWith(t, goodDockerfile)
	out := t.TempDir()
	runner := &executortest.Runner{}

	b := image.NewBuilder(runner, imageConfig())
	img, err := b.Build(context.Background(), image.BuildRequest{
		RepoDir:   repo,
		OutputDir: out,
		Tags:      []domain.ImageTag{"latest", "main"},
		Trigger:   domain.Trigger{Kind: domain.TriggerPush, Ref: "main", Commit: commit, Timestamp: eventTime},
	})
	require.NoError(t, err)

	assert.Equal(t, "ghcr.io/acme/messaging-app", img.Repository)
	assert.Equal(t, filepath.Join(out, image.LayoutFile), img.Layout)
	assert.Equal(t, "latest", img.Ref)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "docker", calls[0].Program)
	args := strings.Join(calls[0].Args, " ")
	assert.True(t, strings.HasPrefix(args, "buildx build"))
	assert.Contains(t, args, "--platform linux/amd64,linux/arm64")
	assert.Contains(t, args, "type=oci,dest="+img.Layout+",name=ghcr.io/acme/messaging-app:latest")
	assert.Contains(t, args, "--build-arg APP_ENV=prod --build-arg PYTHON_VERSION=3.11")
	assert.Contains(t, args, image.AnnotationRevision+"="+commit)
	assert.Equal(t, repo, calls[0].Args[len(calls[0].Args)-1])
}

func TestBuildRejectsPolicyViolations(t *testing.T) {
	repo := repoWith(t, rootDockerfile)
	reports := t.TempDir()
	runner := &executortest.Runner{}

	b := image.NewBuilder(runner, imageConfig())
	_, err := b.Build(context.Background(), image.BuildRequest{
		RepoDir:    repo,
		OutputDir:  t.TempDir(),
		ReportsDir: reports,
		Tags:       []domain.ImageTag{"pr-7"},
	})

	require.Error(t, err)
	assert.Equal(t, errors.CodeBuildFailed, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "multi-stage")
	assert.Empty(t, runner.Calls())

	report, err := os.ReadFile(filepath.Join(reports, image.PolicyReportFile))
	require.NoError(t, err)
	assert.Contains(t, string(report), "non-root-user")
}

func TestBuildWithoutPolicy(t *testing.T) {
	cfg := imageConfig()
	cfg.EnforcePolicy = false
	runner := &executortest.Runner{}

	_, err := image.NewBuilder(runner, cfg).Build(context.Background(), image.BuildRequest{
		RepoDir:   repoWith(t, rootDockerfile),
		OutputDir: t.TempDir(),
		Tags:      []domain.ImageTag{"pr-7"},
	})
	require.NoError(t, err)
	assert.Len(t, runner.Calls(), 1)
}

func TestBuildFailure(t *testing.T) {
	runner := &executortest.Runner{
		Handler: func(_ context.Context, cmd executor.Command) (*executor.Result, error) {
			return nil, &executor.ExitError{Command: cmd.String(), ExitCode: 1, Stderr: "failed to solve"}
		},
	}

	_, err := image.NewBuilder(runner, imageConfig()).Build(context.Background(), image.BuildRequest{
		RepoDir:   repoWith(t, goodDockerfile),
		OutputDir: t.TempDir(),
		Tags:      []domain.ImageTag{"main"},
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeBuildFailed, errors.CodeOf(err))
}

func TestBuildRequiresTags(t *testing.T) {
	_, err := image.NewBuilder(&executortest.Runner{}, imageConfig()).Build(context.Background(), image.BuildRequest{
		RepoDir: t.TempDir(),
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))
}

func TestImageRemove(t *testing.T) {
	dir := t.TempDir()
	img := &image.Image{Layout: filepath.Join(dir, image.LayoutFile)}
	require.NoError(t, os.WriteFile(img.Layout, []byte("tar"), 0o644))

	require.NoError(t, img.Remove())
	assert.NoFileExists(t, img.Layout)
	require.NoError(t, img.Remove())
}
