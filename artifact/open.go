package artifact

import (
	"context"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/secrets"
)

// Credentials resolves named credentials. *secrets.Broker satisfies it.
type Credentials interface {
	Resolve(ctx context.Context, name string) (*secrets.Handle, error)
}

// Open builds the Store selected by cfg.Backend. The minio backend resolves
// its access keys through creds.
func Open(ctx context.Context, cfg config.ArtifactsConfig, names config.CredentialsConfig, creds Credentials) (Store, error) {
	switch cfg.Backend {
	case config.BackendLocal, "":
		return NewLocalStore(cfg.Root)

	case config.BackendS3:
		client, err := NewS3Client(ctx, S3Options{Region: cfg.Region, Endpoint: cfg.Endpoint})
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, cfg.Bucket, cfg.Root), nil

	case config.BackendMinIO:
		opts := MinIOOptions{
			Endpoint: cfg.Endpoint,
			Bucket:   cfg.Bucket,
			Prefix:   cfg.Root,
			Region:   cfg.Region,
			UseSSL:   cfg.UseSSL,
		}
		if names.ArtifactAccessKey != "" {
			if creds == nil {
				return nil, errors.New(errors.CodeProvisioningFailed, "artifact credentials configured without a credential broker")
			}
			var err error
			if opts.AccessKey, err = reveal(ctx, creds, names.ArtifactAccessKey); err != nil {
				return nil, err
			}
			if opts.SecretKey, err = reveal(ctx, creds, names.ArtifactSecretKey); err != nil {
				return nil, err
			}
		}
		return NewMinIOStore(opts)

	default:
		return nil, errors.Newf(errors.CodeInvalidConfig, "unsupported artifact backend %q", cfg.Backend)
	}
}

// reveal copies a credential out of its handle. The MinIO client keeps its
// static credentials for the life of the store.
func reveal(ctx context.Context, creds Credentials, name string) (string, error) {
	h, err := creds.Resolve(ctx, name)
	if err != nil {
		return "", err
	}
	defer h.Clear()

	var value string
	if err := h.Use(ctx, func(b []byte) error {
		value = string(b)
		return nil
	}); err != nil {
		return "", errors.WrapWithContext(err, errors.CodeProvisioningFailed, "failed to read credential",
			map[string]interface{}{"credential": name})
	}
	return value, nil
}
