// Package storage builds go-git object storage over billy filesystems.
package storage

import (
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

const minCacheSize = 100

// New creates git storage with an LRU object cache of cacheSize entries.
// Sizes below 1 fall back to a small minimum.
func New(fs billy.Filesystem, cacheSize int) *filesystem.Storage {
	if cacheSize <= 0 {
		cacheSize = minCacheSize
	}
	objCache := cache.NewObjectLRU(cache.FileSize(cacheSize))
	return filesystem.NewStorage(fs, objCache)
}
