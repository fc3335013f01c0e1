package backend

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/refs"
	"github.com/spf13/afero"
)

// InitOptions represents all the options that can be used to
// create a repository.
type InitOptions struct {
	// HashAlgorithm specifies the hash algorithm to use.
	// Defaults to sha1.
	HashAlgorithm string
	// CreateSymlink will create a .git FILE that contains a path to
	// the repo, for the work-tree-plus-separate-git-dir layout.
	CreateSymlink bool
}

// Init initializes a repository.
// This method cannot be called concurrently with other methods.
// Calling this method on an existing repository is safe. It will not
// overwrite things that are already there, but will add what's missing.
func (b *Backend) Init(branchName string) error {
	return b.InitWithOptions(branchName, InitOptions{})
}

// InitWithOptions initializes a repository using the provided options.
//
// This method cannot be called concurrently with other methods.
// Calling this method on an existing repository is safe. It will not
// overwrite things that are already there, but will add what's missing.
func (b *Backend) InitWithOptions(branchName string, opts InitOptions) error {
	_, err := b.fs.Stat(b.config.LocalConfig)
	confFileExist := !errors.Is(err, os.ErrNotExist)

	// Make sure we got a valid hash algorithm.
	switch opts.HashAlgorithm {
	case "":
		opts.HashAlgorithm = b.hash.Name()
	default:
		currentHashAlg, found := b.config.FromFile().Objectformat()
		// SHA1 doesn't get persisted in the config file, so we have
		// to make some assumption. If a config file already exists
		// and it doesn't have an object-format, then it's using SHA1.
		if !found && confFileExist {
			currentHashAlg = "sha1"
		}
		if currentHashAlg != "" && opts.HashAlgorithm != currentHashAlg {
			return ErrHashAlgoMismatch
		}
	}
	if opts.HashAlgorithm != b.hash.Name() {
		h, hErr := githash.ByName(opts.HashAlgorithm)
		if hErr != nil {
			return ErrUnknownHashAlgo
		}
		b.hash = h
	}

	if opts.CreateSymlink {
		linkSource := filepath.Join(b.config.WorkTreePath, ".git")
		linkTarget := fmt.Sprintf("gitdir: %s", b.Path())
		if err := afero.WriteFile(b.fs, linkSource, []byte(linkTarget), 0o644); err != nil {
			return fmt.Errorf("could not create symlink %s: %w", linkSource, err)
		}
	}

	// Create the directories if they don't already exist.
	dirs := []string{
		b.Path(),
		path.Join(b.Path(), ginternals.RefsTagsRelPath),
		path.Join(b.Path(), ginternals.RefsHeadsRelPath),
		path.Join(b.Path(), ginternals.ObjectsDirName),
		path.Join(b.Path(), ginternals.ObjectsInfoRelPath),
		path.Join(b.Path(), ginternals.ObjectsPackRelPath),
		path.Join(b.Path(), ginternals.LogsDirName, ginternals.RefsHeadsRelPath),
	}
	for _, d := range dirs {
		if err := b.fs.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("could not create directory %s: %w", d, err)
		}
	}

	// Create the files with the default content if they don't already
	// exist (taken from a repo created on github).
	descPath := path.Join(b.Path(), ginternals.DescriptionFileName)
	if _, statErr := b.fs.Stat(descPath); errors.Is(statErr, os.ErrNotExist) {
		content := []byte("Unnamed repository; edit this file 'description' to name the repository.\n")
		if err := afero.WriteFile(b.fs, descPath, content, 0o644); err != nil {
			return fmt.Errorf("could not create file %s: %w", descPath, err)
		}
	}

	// We only update the config file if we don't already have one.
	if !confFileExist {
		if opts.HashAlgorithm != "sha1" {
			b.config.FromFile().UpdateObjectformat(opts.HashAlgorithm)
			b.config.FromFile().UpdateRepoFormatVersion("1")
		}
		if err := b.config.FromFile().Save(); err != nil {
			return fmt.Errorf("could not save the config: %w", err)
		}
	}

	// Create HEAD if it doesn't exist yet.
	store := refs.NewStore(b.fs, b.Path(), b.hash)
	target := ginternals.LocalBranchFullName(branchName)
	err = store.WriteRef(ginternals.HeadFileName, refs.WriteOptions{
		NewSymbolic: target,
		ExpectedOld: refs.NoRef,
	})
	if err != nil {
		var gErr *ginternals.Error
		if !errors.As(err, &gErr) || gErr.Kind != ginternals.KindRefStale {
			return fmt.Errorf("could not write HEAD: %w", err)
		}
	}

	return nil
}
