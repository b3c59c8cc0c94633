// Package aws provides an AWS Secrets Manager provider for the pipeline's
// credential broker.
//
//	provider, err := aws.New(ctx, aws.WithRegion("eu-central-1"))
//	if err != nil {
//	    return err
//	}
//	_ = manager.Register(provider)
//
// Versions are passed through as either a version stage (AWSCURRENT,
// AWSPREVIOUS, AWSPENDING) or a version ID. Errors are mapped onto the
// secrets package sentinels.
package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"

	"github.com/input-output-hk/catalyst-forge-pipeline/secrets"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used by the provider.
type SecretsManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
	DescribeSecret(
		ctx context.Context,
		params *secretsmanager.DescribeSecretInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.DescribeSecretOutput, error)
}

// Provider resolves secrets from AWS Secrets Manager.
// It is safe for concurrent use.
type Provider struct {
	client SecretsManagerAPI
}

// Config holds the configuration for the provider.
type Config struct {
	// Region overrides the SDK's default region resolution.
	Region string
	// MaxRetries overrides the SDK retry attempts when positive.
	MaxRetries int
	// Endpoint overrides the service endpoint (e.g., a LocalStack URL).
	Endpoint string
}

// Option configures the provider.
type Option func(*Config)

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(c *Config) {
		c.Region = region
	}
}

// WithMaxRetries sets the SDK's maximum retry attempts.
func WithMaxRetries(maxRetries int) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
	}
}

// WithEndpoint sets a custom service endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// New creates a provider using the SDK's default credential chain.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.MaxRetries > 0 {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(cfg.MaxRetries))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewWithClient(client), nil
}

// NewWithClient creates a provider over an existing client.
func NewWithClient(client SecretsManagerAPI) *Provider {
	return &Provider{client: client}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "aws"
}

// HealthCheck describes a secret that should not exist; ResourceNotFound
// proves the client is configured and reachable.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String("forge-pipeline-health-check"),
	})
	if err == nil {
		return nil
	}
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return nil
	}
	return fmt.Errorf("health check failed: %w", err)
}

// Close is a no-op; SDK clients hold no resources that need releasing.
func (p *Provider) Close() error {
	return nil
}

// Resolve fetches the secret value (string or binary).
func (p *Provider) Resolve(ctx context.Context, ref secrets.SecretRef) (*secrets.Secret, error) {
	if ref.Path == "" {
		return nil, fmt.Errorf("secret reference path cannot be empty: %w", secrets.ErrInvalidRef)
	}

	input := &secretsmanager.GetSecretValueInput{SecretId: aws.String(ref.Path)}
	switch ref.Version {
	case "":
	case "AWSCURRENT", "AWSPREVIOUS", "AWSPENDING":
		input.VersionStage = aws.String(ref.Version)
	default:
		input.VersionId = aws.String(ref.Version)
	}

	output, err := p.client.GetSecretValue(ctx, input)
	if err != nil {
		return nil, mapError(ref, err)
	}

	var value []byte
	switch {
	case output.SecretString != nil:
		value = []byte(*output.SecretString)
	case output.SecretBinary != nil:
		value = output.SecretBinary
	default:
		return nil, fmt.Errorf("secret %q has no value: %w", ref.Path, secrets.ErrProviderError)
	}

	secret := &secrets.Secret{
		Value:   value,
		Version: ref.Version,
	}
	if output.CreatedDate != nil {
		secret.CreatedAt = *output.CreatedDate
	}
	return secret, nil
}

// Exists checks for the secret using DescribeSecret, which never returns the value.
// Secrets scheduled for deletion count as missing.
func (p *Provider) Exists(ctx context.Context, ref secrets.SecretRef) (bool, error) {
	if ref.Path == "" {
		return false, fmt.Errorf("secret reference path cannot be empty: %w", secrets.ErrInvalidRef)
	}

	out, err := p.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(ref.Path),
	})
	if err != nil {
		mapped := mapError(ref, err)
		if errors.Is(mapped, secrets.ErrSecretNotFound) {
			return false, nil
		}
		return false, mapped
	}
	if out != nil && out.DeletedDate != nil {
		return false, nil
	}
	return true, nil
}

// mapError maps SDK errors onto the secrets sentinels.
func mapError(ref secrets.SecretRef, err error) error {
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return fmt.Errorf("secret %q: %w", ref.Path, secrets.ErrSecretNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException":
			return fmt.Errorf("secret %q: %w", ref.Path, secrets.ErrSecretNotFound)
		case "AccessDeniedException", "UnrecognizedClientException":
			return fmt.Errorf("secret %q: %w", ref.Path, secrets.ErrAccessDenied)
		case "InvalidRequestException":
			if strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "marked deleted") {
				return fmt.Errorf("secret %q is scheduled for deletion: %w", ref.Path, secrets.ErrSecretNotFound)
			}
		}
	}

	return secrets.WrapProviderError("aws", ref, err, "secrets manager request failed")
}
