// Package git checks out the source revision a pipeline run builds.
//
// The checkout stage calls Checkout with the trigger's reference and commit:
//
//	res, err := git.Checkout(ctx, git.CheckoutOptions{
//	    URL:    "https://github.com/org/app.git",
//	    Ref:    "refs/heads/main",
//	    Commit: trigger.Commit,
//	    Dir:    filepath.Join(workdir, "src"),
//	    Token:  handle, // from secrets.Broker
//	})
//
// Repository storage uses go-git's filesystem storer over billy's OS
// filesystem with an LRU object cache. The credential handle is consumed
// inside the clone and is never stored on the returned Repo.
//
// # Errors
//
// Failures carry sentinel errors for errors.Is checks:
//
//   - ErrAuthRequired, ErrAuthFailed: credential problems
//   - ErrResolveFailed: unknown reference, commit or repository
//   - ErrInvalidRef: malformed options
package git
