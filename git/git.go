package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/input-output-hk/catalyst-forge-pipeline/git/internal/storage"
)

const (
	// DefaultStorerCacheSize is the default size for the LRU object cache.
	DefaultStorerCacheSize = 1000

	// DefaultRemoteName is the default remote name used for operations.
	DefaultRemoteName = "origin"
)

// Options configures repository cloning and opening.
type Options struct {
	// Dir is the REQUIRED worktree directory on the local filesystem.
	// Repository metadata lives in Dir/.git.
	Dir string

	// StorerCacheSize sets the LRU object cache entries.
	// Defaults to DefaultStorerCacheSize.
	StorerCacheSize int

	// Auth is the transport authentication, if any.
	Auth transport.AuthMethod

	// ShallowDepth limits clone depth when > 0.
	ShallowDepth int

	// ReferenceName restricts the clone to a single reference
	// (e.g., "refs/heads/main" or "refs/pull/42/head"). Empty clones HEAD.
	ReferenceName string
}

// Validate checks that the Options are properly configured.
func (o *Options) Validate() error {
	if o.Dir == "" {
		return WrapError(ErrInvalidRef, "Dir is required")
	}
	if o.StorerCacheSize < 0 {
		return WrapError(ErrInvalidRef, "StorerCacheSize cannot be negative")
	}
	if o.ShallowDepth < 0 {
		return WrapError(ErrInvalidRef, "ShallowDepth cannot be negative")
	}
	return nil
}

func (o *Options) applyDefaults() {
	if o.StorerCacheSize == 0 {
		o.StorerCacheSize = DefaultStorerCacheSize
	}
}

// Repo represents a non-bare git repository on the local filesystem.
type Repo struct {
	repo     *git.Repository
	worktree *git.Worktree
	dir      string
}

// Dir returns the worktree directory.
func (r *Repo) Dir() string {
	return r.dir
}

// Clone clones remoteURL into opts.Dir. Local paths and file:// URLs are
// supported alongside https:// and ssh://.
//
// Context timeout/cancellation is honored during the clone operation.
func Clone(ctx context.Context, remoteURL string, opts *Options) (*Repo, error) {
	if remoteURL == "" {
		return nil, WrapError(ErrInvalidRef, "remote URL cannot be empty")
	}
	if err := opts.Validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	opts.applyDefaults()

	st, worktreeFS, err := open(opts)
	if err != nil {
		return nil, err
	}

	cloneOpts := &git.CloneOptions{
		URL:        remoteURL,
		RemoteName: DefaultRemoteName,
		Depth:      opts.ShallowDepth,
		Auth:       opts.Auth,
		Tags:       git.NoTags,
	}
	if opts.ReferenceName != "" {
		cloneOpts.ReferenceName = plumbing.ReferenceName(opts.ReferenceName)
		cloneOpts.SingleBranch = true
	}

	repo, err := git.CloneContext(ctx, st, worktreeFS, cloneOpts)
	if err != nil {
		return nil, WrapError(classify(err), "failed to clone repository")
	}

	return newRepo(repo, opts.Dir)
}

// Open opens an existing repository in opts.Dir.
func Open(ctx context.Context, opts *Options) (*Repo, error) {
	if err := opts.Validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	opts.applyDefaults()

	st, worktreeFS, err := open(opts)
	if err != nil {
		return nil, err
	}

	repo, err := git.Open(st, worktreeFS)
	if err != nil {
		return nil, WrapError(err, "failed to open repository")
	}

	return newRepo(repo, opts.Dir)
}

// Head returns the commit hash HEAD points to.
func (r *Repo) Head(ctx context.Context) (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", WrapError(ErrResolveFailed, "failed to resolve HEAD")
	}
	return ref.Hash().String(), nil
}

// Resolve resolves a revision (commit hash, branch, tag, HEAD) to a full hash.
func (r *Repo) Resolve(ctx context.Context, rev string) (string, error) {
	if rev == "" {
		return "", WrapError(ErrInvalidRef, "revision cannot be empty")
	}

	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", WrapErrorf(ErrResolveFailed, "failed to resolve revision %q", rev)
	}
	return hash.String(), nil
}

// CheckoutCommit checks out rev as a detached HEAD, discarding local changes.
func (r *Repo) CheckoutCommit(ctx context.Context, rev string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	hash, err := r.Resolve(ctx, rev)
	if err != nil {
		return "", err
	}

	err = r.worktree.Checkout(&git.CheckoutOptions{
		Hash:  plumbing.NewHash(hash),
		Force: true,
	})
	if err != nil {
		return "", WrapErrorf(err, "failed to check out %s", hash)
	}
	return hash, nil
}

func open(opts *Options) (*filesystem.Storage, billy.Filesystem, error) {
	worktreeFS := osfs.New(opts.Dir)
	dotGitFS, err := worktreeFS.Chroot(".git")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to access .git directory: %w", err)
	}
	return storage.New(dotGitFS, opts.StorerCacheSize), worktreeFS, nil
}

func newRepo(repo *git.Repository, dir string) (*Repo, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, WrapError(err, "failed to get worktree")
	}
	return &Repo{repo: repo, worktree: worktree, dir: dir}, nil
}

// normalizeRef turns a branch name or full ref into a full reference name.
func normalizeRef(ref string) string {
	if ref == "" || strings.HasPrefix(ref, "refs/") {
		return ref
	}
	return plumbing.NewBranchReferenceName(ref).String()
}
