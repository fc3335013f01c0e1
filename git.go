// Package git composes the lower layers (object store, refs, index,
// working-tree walk, merge, transport, protocol) into the small set
// of porcelain operations a caller actually wants: Init, Open, Commit,
// Status, Merge, Clone, Fetch, Push. It holds no algorithms of its
// own beyond the wiring between layers.
package git

import (
	"github.com/gitkit-go/gitkit/backend"
	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/config"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/internal/syncutil"
	"github.com/gitkit-go/gitkit/refs"
	"github.com/spf13/afero"
)

// writeMutexBuckets bounds the per-repository keyed lock used to
// serialize ref and index writes. Concurrent writers targeting
// different refs don't contend on one repo-wide lock; writers to the
// same ref still serialize in-process, ahead of the filesystem-level
// `.lock` file that handles cross-process contention.
const writeMutexBuckets = 64

// defaultInitialBranch is used when InitOptions.InitialBranchName is
// left empty.
const defaultInitialBranch = "master"

// Repository is a single local git repository: an object store, a
// reference store, and (unless bare) a working tree.
type Repository struct {
	Config *config.Config

	backend *backend.Backend
	refs    *refs.Store
	hash    githash.Hash
	bare    bool

	// writeMu serializes ref and index writes by key (ref name, or a
	// fixed key for the index) so unrelated writes don't block each
	// other while writes to unrelated keys proceed concurrently.
	writeMu *syncutil.NamedMutex
}

// InitOptions configures InitRepositoryWithOptions.
type InitOptions struct {
	// IsBare creates a repository with no working tree.
	IsBare bool
	// InitialBranchName names the branch HEAD is pointed at. Defaults
	// to "master".
	InitialBranchName string
	// Symlink writes a `.git` file pointing at GitDirPath instead of
	// using GitDirPath directly as the repository's metadata
	// directory (the worktree-plus-separate-git-dir layout).
	Symlink bool
	// HashAlgorithm selects the object-hash algorithm ("sha1" or
	// "sha256"). Defaults to sha1.
	HashAlgorithm string
}

// OpenOptions configures OpenRepositoryWithOptions.
type OpenOptions struct {
	// IsBare must match how the repository was initialized; it
	// affects whether a working tree path is assumed.
	IsBare bool
}

// InitRepository initializes a new, non-bare repository rooted at
// workingDirectory, using every default (sha1, branch "master").
func InitRepository(workingDirectory string) (*Repository, error) {
	return InitRepositoryWithOptions(workingDirectory, InitOptions{})
}

// InitRepositoryWithOptions initializes a new repository rooted at
// workingDirectory. Calling this on an existing repository is safe:
// it fills in anything missing without overwriting existing data.
func InitRepositoryWithOptions(workingDirectory string, opts InitOptions) (*Repository, error) {
	cfg, err := config.LoadConfigSkipEnv(config.LoadConfigOptions{
		WorkingDirectory: workingDirectory,
		IsBare:           opts.IsBare,
		SkipGitDirLookUp: true,
	})
	if err != nil {
		return nil, ginternals.WithCaller(
			ginternals.NewError(ginternals.KindInternal, "loading repository config", err), "Init")
	}
	return InitRepositoryWithParams(cfg, opts)
}

// InitRepositoryWithParams initializes a repository from an
// already-built config, for callers (such as a CLI's `-C`/`--git-dir`
// flag handling) that need control over the config beyond what
// InitRepositoryWithOptions exposes.
func InitRepositoryWithParams(cfg *config.Config, opts InitOptions) (*Repository, error) {
	hash := githash.SHA1
	if opts.HashAlgorithm != "" {
		h, err := githash.ByName(opts.HashAlgorithm)
		if err != nil {
			return nil, ginternals.WithCaller(
				ginternals.NewError(ginternals.KindInvalidRef, "unknown hash algorithm "+opts.HashAlgorithm, err), "Init")
		}
		hash = h
	}

	b, err := backend.New(cfg, hash)
	if err != nil {
		return nil, ginternals.WithCaller(err, "Init")
	}

	branchName := opts.InitialBranchName
	if branchName == "" {
		branchName = defaultInitialBranch
	}
	if err := b.InitWithOptions(branchName, backend.InitOptions{
		HashAlgorithm: opts.HashAlgorithm,
		CreateSymlink: opts.Symlink,
	}); err != nil {
		return nil, ginternals.WithCaller(
			ginternals.NewError(ginternals.KindInternal, "initializing repository", err), "Init")
	}

	return newRepository(cfg, b, hash, opts.IsBare), nil
}

// OpenRepository opens an existing, non-bare repository rooted at
// workingDirectory.
func OpenRepository(workingDirectory string) (*Repository, error) {
	return OpenRepositoryWithOptions(workingDirectory, OpenOptions{})
}

// OpenRepositoryWithOptions opens an existing repository rooted at
// workingDirectory. It looks for a `.git` directory by walking up from
// workingDirectory, the same way the `git` CLI does.
func OpenRepositoryWithOptions(workingDirectory string, opts OpenOptions) (*Repository, error) {
	cfg, err := config.LoadConfigSkipEnv(config.LoadConfigOptions{
		WorkingDirectory: workingDirectory,
		IsBare:           opts.IsBare,
	})
	if err != nil {
		return nil, ginternals.WithCaller(
			ginternals.NewError(ginternals.KindInternal, "loading repository config", err), "Open")
	}
	return OpenRepositoryWithParams(cfg, opts)
}

// OpenRepositoryWithParams opens a repository from an already-built
// config, for callers (such as a CLI's `-C`/`--git-dir` flag handling)
// that need control over the config beyond what
// OpenRepositoryWithOptions exposes.
func OpenRepositoryWithParams(cfg *config.Config, opts OpenOptions) (*Repository, error) {
	// There's no direct "does this .git directory exist" check
	// through the backend abstraction, so existence is proxied by
	// whether HEAD resolves to something.
	store := refs.NewStore(cfg.FS, cfg.GitDirPath, githash.SHA1)
	if _, err := store.Resolve(ginternals.HeadFileName); err != nil {
		return nil, ginternals.WithCaller(
			ginternals.NewError(ginternals.KindNotFound, "no repository at "+cfg.GitDirPath, err), "Open")
	}

	hash := githash.SHA1
	if name, ok := cfg.FromFile().Objectformat(); ok {
		h, err := githash.ByName(name)
		if err != nil {
			return nil, ginternals.WithCaller(
				ginternals.NewError(ginternals.KindCorrupt, "unsupported object-format "+name, err), "Open")
		}
		hash = h
	}

	b, err := backend.New(cfg, hash)
	if err != nil {
		return nil, ginternals.WithCaller(err, "Open")
	}

	return newRepository(cfg, b, hash, opts.IsBare), nil
}

func newRepository(cfg *config.Config, b *backend.Backend, hash githash.Hash, bare bool) *Repository {
	return &Repository{
		Config:  cfg,
		backend: b,
		refs:    refs.NewStore(cfg.FS, cfg.GitDirPath, hash),
		hash:    hash,
		bare:    bare || cfg.WorkTreePath == "",
		writeMu: syncutil.NewNamedMutex(writeMutexBuckets),
	}
}

// IsBare reports whether this repository has no working tree.
func (r *Repository) IsBare() bool {
	return r.bare
}

// Backend returns the repository's object store, for callers (e.g.
// cat-file, hash-object style plumbing commands) that need direct
// object access below the porcelain operations.
func (r *Repository) Backend() *backend.Backend {
	return r.backend
}

// Refs returns the repository's reference store.
func (r *Repository) Refs() *refs.Store {
	return r.refs
}

// Hash returns the object-hash algorithm this repository was created
// with.
func (r *Repository) Hash() githash.Hash {
	return r.hash
}

// workTreeFS returns the afero filesystem rooted at the working tree,
// or nil for a bare repository.
func (r *Repository) workTreeFS() afero.Fs {
	if r.bare {
		return nil
	}
	return afero.NewBasePathFs(r.Config.FS, r.Config.WorkTreePath)
}

// Close releases resources held by the repository's object store.
func (r *Repository) Close() error {
	return r.backend.Close()
}
