package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
	"github.com/input-output-hk/catalyst-forge-pipeline/domain"
	"github.com/input-output-hk/catalyst-forge-pipeline/errors"
	"github.com/input-output-hk/catalyst-forge-pipeline/image"
	"github.com/input-output-hk/catalyst-forge-pipeline/secrets"
	"github.com/input-output-hk/catalyst-forge-pipeline/secrets/providers/memory"
)

type fakePusher struct {
	mu       sync.Mutex
	requests []PushRequest
	// logins holds "user:password" as seen during each push.
	logins []string
	errs   []error
	digest digest.Digest
}

var imageDigest = digest.FromString("forge-pipeline image manifest")

func (f *fakePusher) Push(ctx context.Context, req PushRequest) (digest.Digest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.requests)
	f.requests = append(f.requests, req)
	f.logins = append(f.logins, string(req.Credential.Username)+":"+string(req.Credential.Password))
	if n < len(f.errs) && f.errs[n] != nil {
		return "", f.errs[n]
	}
	if f.digest != "" {
		return f.digest, nil
	}
	return imageDigest, nil
}

func newBroker(t *testing.T, values map[string]string) *secrets.Broker {
	t.Helper()
	return secrets.NewBroker(memory.FromMap(values), nil)
}

func names() config.CredentialsConfig {
	return config.CredentialsConfig{
		RegistryUsername: "registry-username",
		RegistryPassword: "registry-password",
	}
}

func registryConfig() config.RegistryConfig {
	return config.RegistryConfig{
		MaxRetries:    3,
		RetryDelay:    time.Second,
		MaxRetryDelay: 3 * time.Second,
	}
}

func testImage() *image.Image {
	return &image.Image{
		Repository: "registry.example.com/team/app",
		Layout:     "/tmp/image.oci.tar",
		Ref:        "latest",
		Tags:       []domain.ImageTag{"latest", "main-3f2a9c1-20261020"},
	}
}

func pushTrigger() domain.Trigger {
	return domain.Trigger{Kind: domain.TriggerPush, Ref: "refs/heads/main", Commit: "3f2a9c1d"}
}

type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestPush(t *testing.T) {
	pusher := &fakePusher{}
	broker := newBroker(t, map[string]string{
		"registry-username": "robot",
		"registry-password": "s3cret",
	})
	p := NewPublisher(broker, names(), registryConfig(), WithPusher(pusher))

	res, err := p.Push(context.Background(), testImage(), pushTrigger())
	require.NoError(t, err)
	assert.True(t, res.Pushed())
	assert.Equal(t, imageDigest, res.Digest)
	assert.Equal(t, 1, res.Attempts)

	require.Len(t, pusher.requests, 1)
	req := pusher.requests[0]
	assert.Equal(t, []string{"robot:s3cret"}, pusher.logins)
	assert.Equal(t, []string{"latest", "main-3f2a9c1-20261020"}, req.Tags)
	assert.Equal(t, "registry.example.com/team/app", req.Repository)
}

func TestPushBuildOnlyTrigger(t *testing.T) {
	pusher := &fakePusher{}
	p := NewPublisher(newBroker(t, nil), names(), registryConfig(), WithPusher(pusher))

	trigger := domain.Trigger{Kind: domain.TriggerPullRequest, Ref: "feature", PRNumber: 42}
	res, err := p.Push(context.Background(), testImage(), trigger)
	require.NoError(t, err)
	assert.Equal(t, domain.StageStatusSkipped, res.Status)
	assert.False(t, res.Pushed())
	assert.Empty(t, pusher.requests)
}

func TestPushRetries(t *testing.T) {
	pusher := &fakePusher{errs: []error{
		stderrors.New("connection reset"),
		stderrors.New("502 bad gateway"),
	}}
	sleeper := &recordingSleep{}
	var attempts []int

	p := NewPublisher(
		newBroker(t, map[string]string{"registry-username": "u", "registry-password": "p"}),
		names(), registryConfig(),
		WithPusher(pusher),
		WithSleep(sleeper.sleep),
		WithAttemptHook(func(n int, err error) { attempts = append(attempts, n) }),
	)

	res, err := p.Push(context.Background(), testImage(), pushTrigger())
	require.NoError(t, err)
	assert.True(t, res.Pushed())
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)

	// Every attempt resolved the credentials afresh.
	assert.Equal(t, []string{"u:p", "u:p", "u:p"}, pusher.logins)
}

func TestPushExhausted(t *testing.T) {
	fail := stderrors.New("registry unavailable")
	pusher := &fakePusher{errs: []error{fail, fail, fail, fail}}
	sleeper := &recordingSleep{}

	p := NewPublisher(
		newBroker(t, map[string]string{"registry-username": "u", "registry-password": "p"}),
		names(), registryConfig(),
		WithPusher(pusher),
		WithSleep(sleeper.sleep),
	)

	res, err := p.Push(context.Background(), testImage(), pushTrigger())
	require.Error(t, err)
	assert.Equal(t, errors.CodePublishFailed, errors.CodeOf(err))
	assert.Equal(t, errors.ExitPublish, errors.ExitCode(err))
	assert.ErrorIs(t, err, fail)

	assert.Equal(t, domain.StageStatusFailed, res.Status)
	assert.Equal(t, 4, res.Attempts)
	assert.Len(t, pusher.requests, 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, sleeper.delays)
}

func TestPushRejectsMalformedDigest(t *testing.T) {
	pusher := &fakePusher{digest: "sha256:abc"}
	p := NewPublisher(
		newBroker(t, map[string]string{"registry-username": "u", "registry-password": "p"}),
		names(), registryConfig(),
		WithPusher(pusher),
		WithSleep((&recordingSleep{}).sleep),
	)

	res, err := p.Push(context.Background(), testImage(), pushTrigger())
	require.Error(t, err)
	assert.Equal(t, errors.CodePublishFailed, errors.CodeOf(err))
	assert.Empty(t, res.Digest)
	assert.Len(t, pusher.requests, 4)
}

func TestPushMissingCredential(t *testing.T) {
	pusher := &fakePusher{}
	p := NewPublisher(
		newBroker(t, map[string]string{"registry-username": "u"}),
		names(), registryConfig(),
		WithPusher(pusher),
	)

	res, err := p.Push(context.Background(), testImage(), pushTrigger())
	require.Error(t, err)
	assert.Equal(t, errors.CodeProvisioningFailed, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "registry-password")
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, pusher.requests)
}

func TestPushCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pusher := &fakePusher{errs: []error{stderrors.New("timeout")}}

	p := NewPublisher(
		newBroker(t, map[string]string{"registry-username": "u", "registry-password": "p"}),
		names(), registryConfig(),
		WithPusher(pusher),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)

	_, err := p.Push(ctx, testImage(), pushTrigger())
	require.Error(t, err)
	assert.Equal(t, errors.CodeCancelled, errors.CodeOf(err))
	assert.Len(t, pusher.requests, 1)
}

func TestPushRequiresTags(t *testing.T) {
	p := NewPublisher(newBroker(t, nil), names(), registryConfig(), WithPusher(&fakePusher{}))
	img := testImage()
	img.Tags = nil

	_, err := p.Push(context.Background(), img, pushTrigger())
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.attempt, time.Second, 10*time.Second))
		})
	}
	assert.Equal(t, 16*time.Second, Backoff(5, time.Second, 0))
}

func TestPushZeroesCredentialBytes(t *testing.T) {
	pusher := &fakePusher{}
	broker := newBroker(t, map[string]string{
		"registry-username": "robot",
		"registry-password": "s3cret",
	})
	p := NewPublisher(broker, names(), registryConfig(), WithPusher(pusher))

	_, err := p.Push(context.Background(), testImage(), pushTrigger())
	require.NoError(t, err)

	require.Len(t, pusher.requests, 1)
	cred := pusher.requests[0].Credential
	assert.Equal(t, make([]byte, len("s3cret")), cred.Password)
	assert.Equal(t, make([]byte, len("robot")), cred.Username)
}

func TestCredentialRedacted(t *testing.T) {
	c := Credential{Username: []byte("robot"), Password: []byte("s3cret")}
	for _, s := range []string{c.String(), fmt.Sprintf("%v", c), fmt.Sprintf("%#v", c), c.LogValue().String()} {
		assert.NotContains(t, s, "s3cret")
		assert.Contains(t, s, "robot")
	}
}
