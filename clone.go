package git

import (
	"context"
	"os"
	"path"
	"sort"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/gitindex"
	"github.com/gitkit-go/gitkit/refs"
	"github.com/gitkit-go/gitkit/transport"
	"github.com/spf13/afero"
)

// CloneOptions configures Clone.
type CloneOptions struct {
	RemoteURL   string
	Remote      string // tracking-ref remote name; defaults to "origin"
	Branch      string // branch to check out; empty picks a sensible default
	Bare        bool
	HTTPOptions transport.Options
}

// Clone initializes a fresh repository at dest, fetches every branch
// and tag from opts.RemoteURL, then checks out opts.Branch into the
// working tree (unset, it prefers "main", then "master", then
// whichever branch sorts first).
func Clone(ctx context.Context, dest string, opts CloneOptions) (*Repository, error) {
	const caller = "Clone"

	remoteName := opts.Remote
	if remoteName == "" {
		remoteName = "origin"
	}

	r, err := InitRepositoryWithOptions(dest, InitOptions{IsBare: opts.Bare})
	if err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}

	fr, err := r.Fetch(ctx, FetchOptions{
		RemoteURL:   opts.RemoteURL,
		Remote:      remoteName,
		RefPrefixes: []string{ginternals.RefsHeadsRelPath + "/", ginternals.RefsTagsRelPath + "/"},
		HTTPOptions: opts.HTTPOptions,
	})
	if err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}
	if len(fr.UpdatedRefs) == 0 {
		return r, nil
	}

	branch, oid, ok := pickDefaultBranch(fr.UpdatedRefs, remoteName, opts.Branch)
	if !ok {
		return r, nil
	}

	localBranch := ginternals.LocalBranchFullName(branch)
	if err := r.refs.WriteRef(localBranch, refs.WriteOptions{
		NewOid:      &oid,
		ExpectedOld: refs.NoRef,
		Message:     "clone: " + opts.RemoteURL,
	}); err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}
	if err := r.refs.WriteRef(ginternals.HeadFileName, refs.WriteOptions{
		NewSymbolic: localBranch,
		Message:     "clone: " + opts.RemoteURL,
	}); err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}

	if !opts.Bare {
		commitObj, err := r.backend.Object(oid)
		if err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
		commit, err := commitObj.AsCommit()
		if err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
		idx := gitindex.New(r.hash)
		if err := r.checkoutTree(commit.TreeID(), "", idx); err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
		if err := r.writeIndex(idx); err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
	}

	return r, nil
}

// pickDefaultBranch resolves which remote-tracking branch Clone checks
// out: the caller's explicit choice, else "main", else "master", else
// whichever branch name sorts first (deterministic over guessing).
func pickDefaultBranch(updated map[string]githash.Oid, remote, want string) (branch string, oid githash.Oid, ok bool) {
	if want != "" {
		oid, ok = updated[ginternals.RemoteBranchFullName(remote, want)]
		return want, oid, ok
	}
	for _, candidate := range []string{"main", "master"} {
		if oid, ok := updated[ginternals.RemoteBranchFullName(remote, candidate)]; ok {
			return candidate, oid, true
		}
	}
	prefix := ginternals.RemoteBranchFullName(remote, "")
	var names []string
	for name := range updated {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", githash.Oid{}, false
	}
	sort.Strings(names)
	first := names[0]
	return first[len(prefix):], updated[first], true
}

// checkoutTree recursively materializes tree onto the working tree
// under dir (repository-relative, UNIX-style) and records every blob
// in idx, mirroring buildTree's traversal in reverse.
func (r *Repository) checkoutTree(treeOid githash.Oid, dir string, idx *gitindex.Index) error {
	wtFS := r.workTreeFS()
	if wtFS == nil {
		return nil
	}

	treeObj, err := r.backend.Object(treeOid)
	if err != nil {
		return err
	}
	tree, err := treeObj.AsTree()
	if err != nil {
		return err
	}

	for _, entry := range tree.Entries() {
		entryPath := entry.Path
		if dir != "" {
			entryPath = path.Join(dir, entry.Path)
		}

		if entry.Mode == object.ModeDirectory {
			if err := wtFS.MkdirAll(entryPath, 0o755); err != nil {
				return err
			}
			if err := r.checkoutTree(entry.ID, entryPath, idx); err != nil {
				return err
			}
			continue
		}

		obj, err := r.backend.Object(entry.ID)
		if err != nil {
			return err
		}
		blob := obj.AsBlob()

		if err := wtFS.MkdirAll(path.Dir(entryPath), 0o755); err != nil {
			return err
		}
		if err := afero.WriteFile(wtFS, entryPath, blob.Bytes(), filePermFromMode(entry.Mode)); err != nil {
			return err
		}

		idx.Insert(gitindex.Entry{
			Mode: indexModeFromTree(entry.Mode),
			Oid:  entry.ID,
			Size: uint32(blob.Size()),
			Path: entryPath,
		})
	}
	return nil
}

func filePermFromMode(m object.TreeObjectMode) os.FileMode {
	if m == object.ModeExecutable {
		return 0o755
	}
	return 0o644
}

func indexModeFromTree(m object.TreeObjectMode) gitindex.Mode {
	switch m {
	case object.ModeExecutable:
		return gitindex.ModeExecutable
	case object.ModeSymLink:
		return gitindex.ModeSymlink
	case object.ModeGitLink:
		return gitindex.ModeGitlink
	default:
		return gitindex.ModeFile
	}
}
