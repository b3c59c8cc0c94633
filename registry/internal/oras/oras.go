// Package oras wraps the ORAS library for pushing OCI image layouts to a
// registry. It isolates the ORAS dependency in an internal package.
package oras

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/oci"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/errcode"
)

// ErrUnauthorized is returned when the registry rejects the credentials.
var ErrUnauthorized = errors.New("registry rejected credentials")

// AuthOptions configures authentication and transport for a repository.
type AuthOptions struct {
	// Username and Password are sent to the repository's registry only.
	// They are read when a request needs them, so the caller may zero them
	// once it is done with the repository.
	Username []byte
	Password []byte

	// PlainHTTP talks to the registry over HTTP instead of HTTPS.
	PlainHTTP bool

	// Transport overrides the HTTP transport.
	Transport http.RoundTripper
}

// NewRepository creates a remote repository with a fresh auth client. The
// token cache belongs to the returned repository only, so dropping the
// repository drops every token obtained with the credentials.
func NewRepository(repository string, opts AuthOptions) (*remote.Repository, error) {
	repo, err := remote.NewRepository(repository)
	if err != nil {
		return nil, fmt.Errorf("invalid repository %q: %w", repository, err)
	}
	repo.PlainHTTP = opts.PlainHTTP

	transport := opts.Transport
	if transport == nil {
		transport = newDefaultTransport()
	}

	client := &auth.Client{
		Client: &http.Client{Transport: transport},
		Cache:  auth.NewCache(),
	}
	if len(opts.Username) > 0 || len(opts.Password) > 0 {
		client.Credential = credentialFunc(repo.Reference.Registry, opts.Username, opts.Password)
	}
	client.SetUserAgent("forge-pipeline")
	repo.Client = client

	return repo, nil
}

// credentialFunc answers for registry only and builds the ORAS credential
// at request time.
func credentialFunc(registry string, username, password []byte) auth.CredentialFunc {
	if registry == "docker.io" {
		registry = "registry-1.docker.io"
	}
	return func(_ context.Context, hostport string) (auth.Credential, error) {
		if hostport != registry {
			return auth.EmptyCredential, nil
		}
		return auth.Credential{Username: string(username), Password: string(password)}, nil
	}
}

func newDefaultTransport() http.RoundTripper {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// OpenLayout opens an OCI image layout archive for reading.
func OpenLayout(ctx context.Context, path string) (*oci.ReadOnlyStore, error) {
	store, err := oci.NewFromTar(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image layout %s: %w", path, err)
	}
	return store, nil
}

// ResolveRoot finds the image index stored under ref in src. When ref is not
// found and src carries exactly one tag, that tag is used.
func ResolveRoot(ctx context.Context, src oras.ReadOnlyTarget, ref string) (ocispec.Descriptor, error) {
	desc, err := src.Resolve(ctx, ref)
	if err == nil {
		return desc, nil
	}

	lister, ok := src.(interface {
		Tags(ctx context.Context, last string, fn func(tags []string) error) error
	})
	if !ok {
		return ocispec.Descriptor{}, fmt.Errorf("image %q not found in layout: %w", ref, err)
	}
	var tags []string
	if lerr := lister.Tags(ctx, "", func(page []string) error {
		tags = append(tags, page...)
		return nil
	}); lerr != nil || len(tags) != 1 {
		return ocispec.Descriptor{}, fmt.Errorf("image %q not found in layout: %w", ref, err)
	}
	return src.Resolve(ctx, tags[0])
}

// PushGraph copies the graph rooted at srcRef from src to dst and tags the
// root with every tag. It returns the root descriptor.
func PushGraph(ctx context.Context, src oras.ReadOnlyTarget, srcRef string, dst oras.Target, tags []string) (ocispec.Descriptor, error) {
	if len(tags) == 0 {
		return ocispec.Descriptor{}, fmt.Errorf("at least one tag is required")
	}

	root, err := ResolveRoot(ctx, src, srcRef)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	if err := oras.CopyGraph(ctx, src, dst, root, oras.DefaultCopyGraphOptions); err != nil {
		return ocispec.Descriptor{}, MapError("push", srcRef, err)
	}

	for _, tag := range tags {
		if _, err := oras.Tag(ctx, dst, root.Digest.String(), tag); err != nil {
			return ocispec.Descriptor{}, MapError("tag", tag, err)
		}
	}
	return root, nil
}

// MapError classifies ORAS errors. Authentication failures wrap
// ErrUnauthorized.
func MapError(op, ref string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, auth.ErrBasicCredentialNotFound) {
		return fmt.Errorf("%s %s: %w: %w", op, ref, ErrUnauthorized, err)
	}

	var resp *errcode.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s %s: %w: %w", op, ref, ErrUnauthorized, err)
		}
	}

	return fmt.Errorf("%s %s: %w", op, strings.TrimSpace(ref), err)
}
