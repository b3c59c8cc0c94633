// Package registry pushes built images to a container registry under every
// computed tag.
//
// Registry credentials are resolved through the credential broker immediately
// before each push attempt and cleared as soon as the attempt returns. Every
// attempt uses a fresh authentication session, so no token outlives the
// attempt that obtained it.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/image"
	"github.com/input-output-hk/catalyst-forge-pipeline/registry/internal/oras"
	"github.com/input-output-hk/catalyst-forge-pipeline/secrets"
)

// Credential is a registry login. It never renders its password. The byte
// slices belong to the credential broker and are zeroed once the push
// attempt returns, so a Pusher must not keep them.
type Credential struct {
	Username []byte
	Password []byte
}

// String implements fmt.Stringer.
func (c Credential) String() string {
	return fmt.Sprintf("%s:%s", c.Username, secrets.Redacted)
}

// GoString implements fmt.GoStringer.
func (c Credential) GoString() string {
	return c.String()
}

// LogValue implements slog.LogValuer.
func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

// PushRequest is one push attempt.
type PushRequest struct {
	// Layout is the OCI layout archive holding the image.
	Layout string

	// Ref is the image's tag inside the layout.
	Ref string

	// Repository is "<registry>/<namespace>/<name>".
	Repository string

	Tags       []string
	Credential Credential
	PlainHTTP  bool
}

// Pusher performs a single push attempt and returns the manifest digest.
type Pusher interface {
	Push(ctx context.Context, req PushRequest) (digest.Digest, error)
}

// Credentials resolves named credentials. *secrets.Broker satisfies it.
type Credentials interface {
	Resolve(ctx context.Context, name string) (*secrets.Handle, error)
}

// Result reports the outcome of Publisher.Push.
type Result struct {
	// Status is succeeded, skipped or failed.
	Status domain.StageStatus

	// Reason explains a skip or failure.
	Reason string

	Digest   digest.Digest
	Tags     []domain.ImageTag
	Attempts int
}

// Pushed reports whether the image reached the registry.
func (r *Result) Pushed() bool {
	return r.Status == domain.StageStatusSucceeded
}

// Publisher pushes images with bounded retries.
type Publisher struct {
	pusher       Pusher
	creds        Credentials
	usernameName string
	passwordName string
	cfg          config.RegistryConfig
	logger       *slog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
	onAttempt    func(attempt int, err error)
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithPusher replaces the ORAS pusher.
func WithPusher(pusher Pusher) Option {
	return func(p *Publisher) {
		p.pusher = pusher
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Publisher) {
		p.sleep = sleep
	}
}

// WithAttemptHook is called after every push attempt.
func WithAttemptHook(fn func(attempt int, err error)) Option {
	return func(p *Publisher) {
		p.onAttempt = fn
	}
}

// NewPublisher creates a Publisher. names supplies the logical names of the
// registry username and password.
func NewPublisher(creds Credentials, names config.CredentialsConfig, cfg config.RegistryConfig, opts ...Option) *Publisher {
	p := &Publisher{
		pusher:       &orasPusher{},
		creds:        creds,
		usernameName: names.RegistryUsername,
		passwordName: names.RegistryPassword,
		cfg:          cfg,
		logger:       slog.Default(),
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff returns the delay before retry number attempt (1-based): the base
// delay doubled per attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Push publishes img under every tag. Build-only triggers are skipped, never
// failed. Exhausting the retry budget returns a PUBLISH_FAILED error.
func (p *Publisher) Push(ctx context.Context, img *image.Image, trigger domain.Trigger) (*Result, error) {
	if trigger.BuildOnly() {
		p.logger.InfoContext(ctx, "push skipped for build-only trigger", "kind", trigger.Kind)
		return &Result{
			Status: domain.StageStatusSkipped,
			Reason: fmt.Sprintf("%s triggers are build-only", trigger.Kind),
			Tags:   img.Tags,
		}, nil
	}
	if len(img.Tags) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "image has no tags")
	}

	tags := make([]string, len(img.Tags))
	for i, t := range img.Tags {
		tags[i] = t.String()
	}

	maxAttempts := p.cfg.MaxRetries + 1
	result := &Result{Tags: img.Tags}
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		pushed, err := p.attempt(ctx, img, tags)
		if p.onAttempt != nil {
			p.onAttempt(attempt, err)
		}
		if err == nil {
			result.Status = domain.StageStatusSucceeded
			result.Digest = pushed
			p.logger.InfoContext(ctx, "image pushed",
				"repository", img.Repository, "digest", pushed.String(), "tags", tags, "attempts", attempt)
			return result, nil
		}

		switch errors.CodeOf(err) {
		case errors.CodeCancelled, errors.CodeProvisioningFailed:
			result.Status = domain.StageStatusFailed
			result.Reason = err.Error()
			return result, err
		}

		lastErr = err
		p.logger.WarnContext(ctx, "image push failed",
			"repository", img.Repository, "attempt", attempt, "max_attempts", maxAttempts, "error", err)

		if attempt < maxAttempts {
			if err := p.sleep(ctx, Backoff(attempt, p.cfg.RetryDelay, p.cfg.MaxRetryDelay)); err != nil {
				result.Status = domain.StageStatusFailed
				result.Reason = "push cancelled"
				return result, errors.Wrap(err, errors.CodeCancelled, "image push cancelled")
			}
		}
	}

	result.Status = domain.StageStatusFailed
	result.Reason = lastErr.Error()
	return result, errors.WrapWithContext(lastErr, errors.CodePublishFailed, "image push failed",
		map[string]interface{}{
			"repository": img.Repository,
			"attempts":   maxAttempts,
		})
}

// attempt resolves the registry credentials, pushes once and clears the
// credentials before returning.
func (p *Publisher) attempt(ctx context.Context, img *image.Image, tags []string) (digest.Digest, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, errors.CodeCancelled, "image push cancelled")
	}

	username, err := p.creds.Resolve(ctx, p.usernameName)
	if err != nil {
		return "", err
	}
	defer username.Clear()

	password, err := p.creds.Resolve(ctx, p.passwordName)
	if err != nil {
		return "", err
	}
	defer password.Clear()

	var pushed digest.Digest
	err = username.Use(ctx, func(user []byte) error {
		return password.Use(ctx, func(pass []byte) error {
			var pushErr error
			pushed, pushErr = p.pusher.Push(ctx, PushRequest{
				Layout:     img.Layout,
				Ref:        img.Ref,
				Repository: img.Repository,
				Tags:       tags,
				Credential: Credential{Username: user, Password: pass},
				PlainHTTP:  p.cfg.PlainHTTP,
			})
			return pushErr
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(err, errors.CodeCancelled, "image push cancelled")
		}
		return "", err
	}
	if err := pushed.Validate(); err != nil {
		return "", fmt.Errorf("registry reported digest %q: %w", pushed, err)
	}
	return pushed, nil
}

// orasPusher pushes OCI layout archives with ORAS.
type orasPusher struct{}

func (orasPusher) Push(ctx context.Context, req PushRequest) (digest.Digest, error) {
	layout, err := oras.OpenLayout(ctx, req.Layout)
	if err != nil {
		return "", err
	}

	repo, err := oras.NewRepository(req.Repository, oras.AuthOptions{
		Username:  req.Credential.Username,
		Password:  req.Credential.Password,
		PlainHTTP: req.PlainHTTP,
	})
	if err != nil {
		return "", err
	}

	root, err := oras.PushGraph(ctx, layout, req.Ref, repo, req.Tags)
	if err != nil {
		return "", err
	}
	return root.Digest, nil
}
