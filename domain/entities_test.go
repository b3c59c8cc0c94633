package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTriggerRefs(t *testing.T) {
	tests := []struct {
		name       string
		trigger    Trigger
		wantBranch string
		wantTag    string
	}{
		{
			name:       "full branch ref",
			trigger:    Trigger{Kind: TriggerPush, Ref: "refs/heads/feature/login"},
			wantBranch: "feature/login",
		},
		{
			name:       "bare branch",
			trigger:    Trigger{Kind: TriggerManual, Ref: "develop"},
			wantBranch: "develop",
		},
		{
			name:    "full tag ref",
			trigger: Trigger{Kind: TriggerTag, Ref: "refs/tags/v2.1.0"},
			wantTag: "v2.1.0",
		},
		{
			name:    "bare tag",
			trigger: Trigger{Kind: TriggerTag, Ref: "v1.0.0"},
			wantTag: "v1.0.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantBranch, tt.trigger.Branch())
			assert.Equal(t, tt.wantTag, tt.trigger.Tag())
		})
	}
}

func TestTriggerShortCommit(t *testing.T) {
	assert.Equal(t, "abc", Trigger{Commit: "abc"}.ShortCommit())
	assert.Equal(t, "0123456", Trigger{Commit: "0123456789abcdef"}.ShortCommit())
}

func TestTriggerBuildOnly(t *testing.T) {
	assert.True(t, Trigger{Kind: TriggerPullRequest}.BuildOnly())
	assert.False(t, Trigger{Kind: TriggerPush}.BuildOnly())
	assert.False(t, Trigger{Kind: TriggerTag}.BuildOnly())
}

func TestTriggerKindValid(t *testing.T) {
	assert.True(t, TriggerManual.Valid())
	assert.False(t, TriggerKind("schedule").Valid())
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunStatusPending.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusCancelled.Terminal())
}
