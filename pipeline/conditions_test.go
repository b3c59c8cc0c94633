package pipeline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/pipeline"
)

func conditionEnv(t domain.Trigger, primary bool) pipeline.ConditionEnv {
	cell := &domain.MatrixCell{Name: "python-3.11", Index: 1, Params: map[string]string{"python": "3.11"}}
	return pipeline.NewConditionEnv(t, "main", cell, primary)
}

func TestConditionEval(t *testing.T) {
	ts := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	push := domain.Trigger{Kind: domain.TriggerPush, Ref: "refs/heads/main", Commit: commit, Timestamp: ts}
	feature := domain.Trigger{Kind: domain.TriggerPush, Ref: "feature/login", Commit: commit, Timestamp: ts}
	pr := domain.Trigger{Kind: domain.TriggerPullRequest, Ref: "refs/pull/42/head", PRNumber: 42, Timestamp: ts}
	tag := domain.Trigger{Kind: domain.TriggerTag, Ref: "refs/tags/v2.1.0", Commit: commit, Timestamp: ts}

	tests := []struct {
		name    string
		source  string
		trigger domain.Trigger
		primary bool
		want    bool
	}{
		{"empty always runs", "", pr, false, true},
		{"default push on main", pipeline.DefaultConditions[config.StagePushImage], push, true, true},
		{"default push skips pull requests", pipeline.DefaultConditions[config.StagePushImage], pr, true, false},
		{"default push skips secondary cells", pipeline.DefaultConditions[config.StagePushImage], push, false, false},
		{"default build on primary", pipeline.DefaultConditions[config.StageBuildImage], pr, true, true},
		{"default branch", "trigger.default_branch", push, false, true},
		{"feature branch", "trigger.default_branch", feature, false, false},
		{"branch name", `trigger.branch == "feature/login"`, feature, false, true},
		{"tag prefix", `trigger.tag startsWith "v2."`, tag, false, true},
		{"pull request number", "trigger.pr_number > 40", pr, false, true},
		{"kind", `trigger.kind == "tag"`, tag, false, true},
		{"cell params", `cell.params["python"] == "3.11"`, push, false, true},
		{"cell index", "cell.index == 0", push, false, false},
		{"cell name", `cell.name contains "3.11"`, push, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := pipeline.CompileCondition(tt.source)
			require.NoError(t, err)

			got, err := cond.Eval(conditionEnv(tt.trigger, tt.primary))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionSeesCellProgress(t *testing.T) {
	ts := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	push := domain.Trigger{Kind: domain.TriggerPush, Ref: "refs/heads/main", Commit: commit, Timestamp: ts}
	cell := &domain.MatrixCell{
		Name:   "default",
		Status: domain.RunStatusRunning,
		Stages: []*domain.StageExecution{
			{Name: "test", Status: domain.StageStatusSucceeded},
			{Name: "gate", Status: domain.StageStatusSkipped},
			{Name: "build-image", Status: domain.StageStatusPending},
		},
	}
	env := pipeline.NewConditionEnv(push, "main", cell, true)
	assert.Equal(t, map[string]string{"test": "succeeded", "gate": "skipped"}, env.Cell.Stages)

	tests := []struct {
		source string
		want   bool
	}{
		{`cell.status == "running"`, true},
		{`cell.stages["test"] == "succeeded"`, true},
		{`cell.stages["gate"] == "succeeded"`, false},
		{`"build-image" in cell.stages`, false},
	}
	for _, tt := range tests {
		cond, err := pipeline.CompileCondition(tt.source)
		require.NoError(t, err, tt.source)
		got, err := cond.Eval(env)
		require.NoError(t, err, tt.source)
		assert.Equal(t, tt.want, got, tt.source)
	}
}

func TestCompileConditionRejectsInvalidSource(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"syntax error", "trigger.kind ==="},
		{"unknown field", "trigger.branchname == 'main'"},
		{"unknown root", "env.CI"},
		{"not boolean", "trigger.pr_number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pipeline.CompileCondition(tt.source)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidConfig, errors.CodeOf(err))
		})
	}
}

func TestConditionString(t *testing.T) {
	cond, err := pipeline.CompileCondition("")
	require.NoError(t, err)
	assert.Equal(t, "true", cond.String())

	cond, err = pipeline.CompileCondition("cell.primary")
	require.NoError(t, err)
	assert.Equal(t, "cell.primary", cond.String())
}
