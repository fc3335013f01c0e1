package git

import (
	"strings"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/gitindex"
	"github.com/gitkit-go/gitkit/walk"
)

// Add stages paths (repository-relative, "." for the whole working
// tree) into the index: new or modified files are hashed, written as
// blob objects, and inserted at stage 0; files removed from the
// working tree since the last stage are removed from the index, the
// same "git add" treats a deletion as staging it.
//
// Add fails on a bare repository, which has no working tree to stage
// from.
func (r *Repository) Add(paths ...string) error {
	const caller = "Add"

	if len(paths) == 0 {
		paths = []string{"."}
	}

	wtFS := r.workTreeFS()
	if wtFS == nil {
		return ginternals.WithCaller(
			ginternals.NewError(ginternals.KindInternal, "cannot add to a bare repository", nil), caller)
	}

	r.writeMu.Lock(indexWriteKey)
	defer r.writeMu.Unlock(indexWriteKey)

	idx, err := r.readIndex()
	if err != nil {
		return ginternals.WithCaller(err, caller)
	}

	opts := walk.Options{
		Index:       idx,
		WorkdirFS:   wtFS,
		WorkdirRoot: ".",
	}

	var toRemove []string
	err = walk.Walk(opts, func(n *walk.Node) (bool, error) {
		if n.Path == gitDirBaseName || !pathRequested(n.Path, paths) {
			return true, nil
		}

		workdirHandle := n.Handle(walk.Workdir)
		stageHandle := n.Handle(walk.Stage)

		if n.IsDir {
			return true, nil
		}

		if workdirHandle == nil {
			if stageHandle != nil {
				toRemove = append(toRemove, n.Path)
			}
			return true, nil
		}

		content, err := workdirHandle.Content()
		if err != nil {
			return false, err
		}
		o := object.New(r.hash, object.TypeBlob, content)
		oid, err := r.backend.WriteObject(o)
		if err != nil {
			return false, err
		}

		idx.Insert(gitindex.Entry{
			Mode: indexModeFromWorkdir(workdirHandle.Mode()),
			Oid:  oid,
			Size: uint32(len(content)),
			Path: n.Path,
		})
		return true, nil
	})
	if err != nil {
		return ginternals.WithCaller(err, caller)
	}

	for _, p := range toRemove {
		idx.Remove(p)
	}

	if err := r.writeIndexLocked(idx); err != nil {
		return ginternals.WithCaller(err, caller)
	}
	return nil
}

// pathRequested reports whether nodePath lies at or under one of the
// requested paths, where "." matches everything.
func pathRequested(nodePath string, requested []string) bool {
	for _, p := range requested {
		if p == "." || p == "" || nodePath == p || strings.HasPrefix(nodePath, p+"/") || strings.HasPrefix(p, nodePath+"/") {
			return true
		}
	}
	return false
}

// indexModeFromWorkdir approximates a git index mode from a workdir
// handle's host permission bits: the executable bit is the only
// distinction afero's cross-platform FileInfo reliably carries.
func indexModeFromWorkdir(perm uint32) gitindex.Mode {
	if perm&0o111 != 0 {
		return gitindex.ModeExecutable
	}
	return gitindex.ModeFile
}
