package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-pipeline/secrets"
)

// mockSecretsManagerClient implements SecretsManagerAPI for testing.
type mockSecretsManagerClient struct {
	getSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)
	describeSecretFunc func(ctx context.Context, params *secretsmanager.DescribeSecretInput) (*secretsmanager.DescribeSecretOutput, error)
}

func (m *mockSecretsManagerClient) GetSecretValue(
	ctx context.Context,
	params *secretsmanager.GetSecretValueInput,
	_ ...func(*secretsmanager.Options),
) (*secretsmanager.GetSecretValueOutput, error) {
	if m.getSecretValueFunc != nil {
		return m.getSecretValueFunc(ctx, params)
	}
	return nil, errors.New("GetSecretValue not implemented")
}

func (m *mockSecretsManagerClient) DescribeSecret(
	ctx context.Context,
	params *secretsmanager.DescribeSecretInput,
	_ ...func(*secretsmanager.Options),
) (*secretsmanager.DescribeSecretOutput, error) {
	if m.describeSecretFunc != nil {
		return m.describeSecretFunc(ctx, params)
	}
	return nil, errors.New("DescribeSecret not implemented")
}

func TestProvider_Resolve(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name      string
		ref       secrets.SecretRef
		output    *secretsmanager.GetSecretValueOutput
		err       error
		wantValue []byte
		wantErr   error
		check     func(t *testing.T, in *secretsmanager.GetSecretValueInput)
	}{
		{
			name:      "string secret",
			ref:       secrets.SecretRef{Path: "registry/password"},
			output:    &secretsmanager.GetSecretValueOutput{SecretString: aws.String("pw"), CreatedDate: &created},
			wantValue: []byte("pw"),
		},
		{
			name:      "binary secret by stage",
			ref:       secrets.SecretRef{Path: "scm/token", Version: "AWSPREVIOUS"},
			output:    &secretsmanager.GetSecretValueOutput{SecretBinary: []byte{1, 2}},
			wantValue: []byte{1, 2},
			check: func(t *testing.T, in *secretsmanager.GetSecretValueInput) {
				assert.Equal(t, "AWSPREVIOUS", aws.ToString(in.VersionStage))
				assert.Nil(t, in.VersionId)
			},
		},
		{
			name:    "version id",
			ref:     secrets.SecretRef{Path: "scm/token", Version: "abc-123"},
			output:  &secretsmanager.GetSecretValueOutput{SecretString: aws.String("t")},
			check: func(t *testing.T, in *secretsmanager.GetSecretValueInput) {
				assert.Equal(t, "abc-123", aws.ToString(in.VersionId))
			},
			wantValue: []byte("t"),
		},
		{
			name:    "not found",
			ref:     secrets.SecretRef{Path: "missing"},
			err:     &types.ResourceNotFoundException{Message: aws.String("nope")},
			wantErr: secrets.ErrSecretNotFound,
		},
		{
			name:    "access denied",
			ref:     secrets.SecretRef{Path: "locked"},
			err:     &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "Access denied"},
			wantErr: secrets.ErrAccessDenied,
		},
		{
			name:    "empty value",
			ref:     secrets.SecretRef{Path: "empty"},
			output:  &secretsmanager.GetSecretValueOutput{},
			wantErr: secrets.ErrProviderError,
		},
		{
			name:    "empty path",
			ref:     secrets.SecretRef{},
			wantErr: secrets.ErrInvalidRef,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockSecretsManagerClient{
				getSecretValueFunc: func(_ context.Context, in *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
					if tt.check != nil {
						tt.check(t, in)
					}
					return tt.output, tt.err
				},
			}

			secret, err := NewWithClient(client).Resolve(context.Background(), tt.ref)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantValue, secret.Value)
		})
	}
}

func TestProvider_Exists(t *testing.T) {
	deleted := time.Now()

	tests := []struct {
		name    string
		output  *secretsmanager.DescribeSecretOutput
		err     error
		want    bool
		wantErr bool
	}{
		{name: "exists", output: &secretsmanager.DescribeSecretOutput{}, want: true},
		{name: "scheduled for deletion", output: &secretsmanager.DescribeSecretOutput{DeletedDate: &deleted}, want: false},
		{name: "not found", err: &types.ResourceNotFoundException{}, want: false},
		{name: "throttled", err: &smithy.GenericAPIError{Code: "ThrottlingException"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockSecretsManagerClient{
				describeSecretFunc: func(context.Context, *secretsmanager.DescribeSecretInput) (*secretsmanager.DescribeSecretOutput, error) {
					return tt.output, tt.err
				},
			}

			got, err := NewWithClient(client).Exists(context.Background(), secrets.SecretRef{Path: "x"})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, secrets.IsProviderError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProvider_HealthCheck(t *testing.T) {
	healthy := &mockSecretsManagerClient{
		describeSecretFunc: func(context.Context, *secretsmanager.DescribeSecretInput) (*secretsmanager.DescribeSecretOutput, error) {
			return nil, &types.ResourceNotFoundException{}
		},
	}
	assert.NoError(t, NewWithClient(healthy).HealthCheck(context.Background()))

	broken := &mockSecretsManagerClient{
		describeSecretFunc: func(context.Context, *secretsmanager.DescribeSecretInput) (*secretsmanager.DescribeSecretOutput, error) {
			return nil, errors.New("dial tcp: no route to host")
		},
	}
	assert.Error(t, NewWithClient(broken).HealthCheck(context.Background()))
}
