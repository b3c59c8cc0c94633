package lint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multiStage = `# syntax=docker/dockerfile:1
ARG PYTHON_VERSION=3.11

FROM --platform=$BUILDPLATFORM python:${PYTHON_VERSION}-slim AS builder
WORKDIR /src
COPY requirements.txt .
RUN pip install --prefix=/install \
      -r requirements.txt

FROM python:3.11-slim
COPY --from=builder /install /usr/local
USER app
CMD ["gunicorn", "app.wsgi"]
`

func TestParseDockerfile(t *testing.T) {
	df, err := ParseDockerfile(strings.NewReader(multiStage), "Dockerfile")
	require.NoError(t, err)

	require.Len(t, df.GlobalArgs, 1)
	require.Len(t, df.Stages, 2)

	builder := df.Stages[0]
	assert.Equal(t, "builder", builder.Name)
	assert.Equal(t, "python:${PYTHON_VERSION}-slim", builder.Base)
	assert.Equal(t, "$BUILDPLATFORM", builder.Platform)
	require.Len(t, builder.Instructions, 3)

	run := builder.Instructions[2]
	assert.Equal(t, "RUN", run.Command)
	assert.Equal(t, 7, run.Line)
	assert.Equal(t, []string{"pip", "install", "--prefix=/install", "-r", "requirements.txt"}, run.Args)

	final := df.FinalStage()
	assert.Equal(t, 1, final.Index)
	assert.Equal(t, "python:3.11-slim", final.Base)
	assert.Equal(t, "USER", final.Instructions[1].Command)
}

func TestParseDockerfile_Errors(t *testing.T) {
	_, err := ParseDockerfile(strings.NewReader("RUN echo hi\n"), "Dockerfile")
	assert.ErrorContains(t, err, "before the first FROM")

	_, err = ParseDockerfile(strings.NewReader("FROM --platform=linux/amd64\n"), "Dockerfile")
	assert.ErrorContains(t, err, "without a base image")
}

func TestContextWalkAll(t *testing.T) {
	df, err := ParseDockerfile(strings.NewReader(multiStage), "Dockerfile")
	require.NoError(t, err)

	var files, stages, instructions int
	require.NoError(t, NewContext(df).WalkAll(func(ctx *Context) error {
		switch {
		case ctx.IsFileLevel():
			files++
		case ctx.IsStageLevel():
			stages++
		default:
			instructions++
		}
		return nil
	}))

	assert.Equal(t, 1, files)
	assert.Equal(t, 2, stages)
	assert.Equal(t, 6, instructions)
}

func TestLinterWithBuilders(t *testing.T) {
	df, err := ParseDockerfile(strings.NewReader(multiStage), "Dockerfile")
	require.NoError(t, err)

	linter := NewLinter(
		InstructionRule("no-cmd", "CMD is not allowed", "cmd", func(ctx *Context, in *Instruction) []Issue {
			return []Issue{NewIssue("no-cmd", SeverityWarning, "found CMD", ctx.Location())}
		}),
		PatternRule("no-pip-prefix", "pip --prefix is not allowed", `--prefix=`, SeverityError),
		RequireRule("has-healthcheck", "HEALTHCHECK is required", func(ctx *Context) bool {
			return HasInstruction(ctx, "HEALTHCHECK")
		}),
	)

	issues := linter.Lint(df)
	require.Len(t, issues, 3)
	assert.Equal(t, "has-healthcheck", issues[0].Rule)
	assert.Equal(t, "no-pip-prefix", issues[1].Rule)
	assert.Equal(t, 7, issues[1].Location.StartLine)
	assert.Equal(t, "no-cmd", issues[2].Rule)
	assert.True(t, HasErrors(issues))
}

func TestPatternRulePanicsOnInvalidPattern(t *testing.T) {
	assert.Panics(t, func() {
		PatternRule("bad", "bad", "(", SeverityError)
	})
}
