package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRegister(t *testing.T) {
	m := NewManager(nil)

	assert.Error(t, m.Register(nil))
	assert.Error(t, m.Register(&fakeResolver{name: ""}), "empty names are rejected")
	require.NoError(t, m.Register(&fakeResolver{name: "env"}))
	assert.Error(t, m.Register(&fakeResolver{name: "env"}))
	require.NoError(t, m.Register(&fakeResolver{name: "aws"}))

	assert.Equal(t, []string{"env", "aws"}, m.Providers())
}

func TestManagerChainOrder(t *testing.T) {
	audit := &mockAuditLogger{}
	env := &fakeResolver{name: "env", values: map[string]string{"registry/password": "from-env"}}
	aws := &fakeResolver{name: "aws", values: map[string]string{
		"registry/password": "from-aws",
		"scm/token":         "token",
	}}

	m := NewManager(&Config{AutoClear: true, AuditLogger: audit})
	require.NoError(t, m.Register(env))
	require.NoError(t, m.Register(aws))

	secret, err := m.Resolve(context.Background(), SecretRef{Path: "registry/password"})
	require.NoError(t, err)
	assert.Equal(t, "from-env", string(secret.Value))
	assert.True(t, secret.AutoClear)

	secret, err = m.Resolve(context.Background(), SecretRef{Path: "scm/token"})
	require.NoError(t, err)
	assert.Equal(t, "token", string(secret.Value))
	assert.Equal(t, 1, env.resolves)
	assert.Equal(t, 1, aws.resolves, "aws only serves what env lacks")

	_, err = m.Resolve(context.Background(), SecretRef{Path: "missing"})
	require.Error(t, err)
	assert.True(t, IsSecretNotFound(err))

	require.Len(t, audit.entries, 3)
	assert.True(t, audit.entries[0].Success)
	assert.False(t, audit.entries[2].Success)
}

func TestManagerProviderErrorStopsChain(t *testing.T) {
	broken := &fakeResolver{name: "aws", existErr: errors.New("throttled")}
	fallback := &fakeResolver{name: "env", values: map[string]string{"a": "1"}}

	m := NewManager(nil)
	require.NoError(t, m.Register(broken))
	require.NoError(t, m.Register(fallback))

	_, err := m.Resolve(context.Background(), SecretRef{Path: "a"})
	require.Error(t, err)
	assert.True(t, IsProviderError(err))
	assert.Zero(t, fallback.resolves)

	ok, err := m.Exists(context.Background(), SecretRef{Path: "a"})
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestManagerExistsAndClose(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Register(&fakeResolver{name: "memory", values: map[string]string{"a": "1"}}))

	ok, err := m.Exists(context.Background(), SecretRef{Path: "a"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Exists(context.Background(), SecretRef{Path: "b"})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, m.HealthCheck(context.Background()))
	require.NoError(t, m.Close())
	assert.Empty(t, m.Providers())

	_, err = m.Exists(context.Background(), SecretRef{Path: "a"})
	assert.Error(t, err)
}

func TestManagerEmpty(t *testing.T) {
	_, err := NewManager(nil).Resolve(context.Background(), SecretRef{Path: "a"})
	assert.Error(t, err)
}
