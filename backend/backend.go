// Package backend stores and retrieves objects from an object
// database: loose objects on disk plus any number of packfiles, with
// an in-memory LRU cache in front of both. References and the staging
// index live in their own packages (refs, gitindex); this package is
// the object store only.
package backend

import (
	"errors"
	"path"
	"sync"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/config"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/packfile"
	"github.com/gitkit-go/gitkit/internal/cache"
	"github.com/gitkit-go/gitkit/internal/syncutil"
	"github.com/spf13/afero"
)

// objectCacheSize bounds the in-memory decoded-object cache.
const objectCacheSize = 256

// ErrHashAlgoMismatch is returned when a repo is reinitialized with a
// hash algorithm different from the one it was created with.
var ErrHashAlgoMismatch = errors.New("attempt to reinitialize repository with a different hash algorithm")

// ErrUnknownHashAlgo is returned when InitOptions names an algorithm
// githash doesn't implement.
var ErrUnknownHashAlgo = errors.New("unknown hash algorithm")

// Backend stores and retrieves git objects for a single repository.
type Backend struct {
	fs     afero.Fs
	config *config.Config
	hash   githash.Hash

	objectMu *syncutil.NamedMutex
	cache    *cache.LRU

	packMu    sync.RWMutex
	packfiles map[string]*packfile.Pack

	// looseObjects tracks the oids known to live as loose files, so
	// HasObject/WalkLooseObjectIDs don't have to stat the filesystem.
	looseMu      sync.RWMutex
	looseObjects map[string]struct{}
}

// New returns a Backend for the repository described by cfg, loading
// the existing packfiles and loose-object index from disk.
func New(cfg *config.Config, hash githash.Hash) (b *Backend, err error) {
	b = &Backend{
		fs:           cfg.FS,
		config:       cfg,
		hash:         hash,
		objectMu:     syncutil.NewNamedMutex(64),
		cache:        cache.NewLRU(objectCacheSize),
		packfiles:    map[string]*packfile.Pack{},
		looseObjects: map[string]struct{}{},
	}

	if err = b.loadLooseObjects(); err != nil {
		return nil, err
	}
	if err = b.loadPacks(); err != nil {
		return nil, err
	}
	return b, nil
}

// Path returns the repository's .git directory.
func (b *Backend) Path() string {
	return b.config.GitDirPath
}

// FS returns the filesystem this backend was opened against.
func (b *Backend) FS() afero.Fs {
	return b.fs
}

// Hash returns the hash algorithm this backend was opened with.
func (b *Backend) Hash() githash.Hash {
	return b.hash
}

// Close releases the backend's open packfiles.
func (b *Backend) Close() error {
	b.packMu.Lock()
	defer b.packMu.Unlock()

	var firstErr error
	for _, p := range b.packfiles {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// looseObjectPath returns the on-disk path of a loose object, e.g.
// .git/objects/fc/fe68a0e44e04bd7fd564fc0b75f1ae457e18b3.
func (b *Backend) looseObjectPath(hex string) string {
	return path.Join(b.Path(), ginternals.LooseObjectRelPath(hex))
}
