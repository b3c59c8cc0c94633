package cleanup

import (
	"context"
	"log/slog"
	"os"

	"github.com/docker/docker/api/types/build"
)

// Task names registered by the pipeline.
const (
	TaskReleaseEnvironment = "release-environment"
	TaskRemoveImage        = "remove-image"
	TaskPruneBuildCache    = "prune-build-cache"
	TaskRemoveWorkdir      = "remove-workdir"
)

// Releaser is a resource released with a context, such as a provisioned
// environment.
type Releaser interface {
	Release(ctx context.Context) error
}

// Release returns a task calling r.Release.
func Release(r Releaser) Func {
	return func(ctx context.Context) error {
		return r.Release(ctx)
	}
}

// Remover is a resource removed without a context, such as a built image.
type Remover interface {
	Remove() error
}

// Remove returns a task calling r.Remove.
func Remove(r Remover) Func {
	return func(ctx context.Context) error {
		return r.Remove()
	}
}

// RemoveAll returns a task deleting path and everything below it.
func RemoveAll(path string) Func {
	return func(ctx context.Context) error {
		return os.RemoveAll(path)
	}
}

// BuildCacheAPI is the subset of the Docker client used to prune the image
// builder's cache. *client.Client satisfies it.
type BuildCacheAPI interface {
	BuildCachePrune(ctx context.Context, opts build.CachePruneOptions) (*build.CachePruneReport, error)
}

// PruneBuildCache returns a task removing unused build cache entries.
func PruneBuildCache(api BuildCacheAPI, logger *slog.Logger) Func {
	return func(ctx context.Context) error {
		report, err := api.BuildCachePrune(ctx, build.CachePruneOptions{})
		if err != nil {
			return err
		}
		if report != nil && logger != nil {
			logger.InfoContext(ctx, "build cache pruned",
				"entries", len(report.CachesDeleted),
				"reclaimed_bytes", report.SpaceReclaimed)
		}
		return nil
	}
}
