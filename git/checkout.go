package git

import (
	"context"
	"fmt"
	"os"

	"github.com/input-output-hk/catalyst-forge-pipeline/git/internal/auth"
	"github.com/input-output-hk/catalyst-forge-pipeline/secrets"
)

// CheckoutOptions describes the revision a run builds.
type CheckoutOptions struct {
	// URL is the remote repository URL or local path.
	URL string

	// Ref is the branch name or full reference to fetch (e.g., "main",
	// "refs/tags/v2.1.0", "refs/pull/42/head"). Empty fetches HEAD.
	Ref string

	// Commit is the commit to check out. Empty checks out the tip of Ref.
	Commit string

	// Dir is the destination directory. It must be empty or absent.
	Dir string

	// Depth limits history when > 0. A commit outside the fetched depth
	// fails to resolve.
	Depth int

	// Token is the source-control credential. It is used only for https
	// remotes whose host matches TokenHosts, and only during the clone.
	Token *secrets.Handle

	// TokenHosts restricts which hosts receive the token. Empty allows all.
	TokenHosts []string
}

// CheckoutResult describes the checked-out working tree.
type CheckoutResult struct {
	Dir    string
	Ref    string
	Commit string
}

// Checkout clones opts.URL into opts.Dir and checks out the requested commit.
// The credential handle is consumed inside the clone and cleared afterwards.
func Checkout(ctx context.Context, opts CheckoutOptions) (*CheckoutResult, error) {
	if opts.URL == "" {
		return nil, WrapError(ErrInvalidRef, "repository URL cannot be empty")
	}
	if opts.Dir == "" {
		return nil, WrapError(ErrInvalidRef, "checkout directory cannot be empty")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkout directory: %w", err)
	}

	ref := normalizeRef(opts.Ref)
	cloneOpts := &Options{
		Dir:           opts.Dir,
		ShallowDepth:  opts.Depth,
		ReferenceName: ref,
	}

	repo, err := cloneWithToken(ctx, opts, cloneOpts)
	if err != nil {
		return nil, err
	}

	var commit string
	if opts.Commit != "" {
		commit, err = repo.CheckoutCommit(ctx, opts.Commit)
	} else {
		commit, err = repo.Head(ctx)
	}
	if err != nil {
		return nil, err
	}

	return &CheckoutResult{Dir: opts.Dir, Ref: ref, Commit: commit}, nil
}

func cloneWithToken(ctx context.Context, opts CheckoutOptions, cloneOpts *Options) (*Repo, error) {
	if opts.Token == nil {
		return Clone(ctx, opts.URL, cloneOpts)
	}
	defer opts.Token.Clear()

	var repo *Repo
	err := opts.Token.Use(ctx, func(value []byte) error {
		basic, err := auth.TokenAuth(opts.URL, string(value), opts.TokenHosts)
		if err != nil {
			return err
		}
		if basic != nil {
			cloneOpts.Auth = basic
			defer func() {
				basic.Password = ""
				cloneOpts.Auth = nil
			}()
		}

		var cloneErr error
		repo, cloneErr = Clone(ctx, opts.URL, cloneOpts)
		return cloneErr
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}
