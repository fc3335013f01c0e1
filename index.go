package git

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/gitindex"
	"github.com/spf13/afero"
)

// indexWriteKey is the syncutil.NamedMutex key used to serialize
// index writes; every caller uses the same key, since the whole index
// file is rewritten on every save, unlike refs which are keyed
// individually by name.
var indexWriteKey = []byte("index")

// indexPath returns the path to the repository's staging index file.
func (r *Repository) indexPath() string {
	return filepath.Join(r.Config.GitDirPath, ginternals.IndexFileName)
}

// readIndex loads the staging index, returning a fresh empty index if
// none has been written yet.
func (r *Repository) readIndex() (*gitindex.Index, error) {
	data, err := afero.ReadFile(r.Config.FS, r.indexPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return gitindex.New(r.hash), nil
		}
		return nil, fmt.Errorf("could not read index: %w", err)
	}
	return gitindex.Read(bytes.NewReader(data), r.hash)
}

// HasConflicts reports whether the staging index currently has any
// unmerged (stage 1/2/3) paths.
func (r *Repository) HasConflicts() (bool, error) {
	idx, err := r.readIndex()
	if err != nil {
		return false, err
	}
	return len(idx.Conflicts()) > 0, nil
}

// writeIndex persists idx via a temp file + rename, serialized against
// other index writers through writeMu.
func (r *Repository) writeIndex(idx *gitindex.Index) error {
	r.writeMu.Lock(indexWriteKey)
	defer r.writeMu.Unlock(indexWriteKey)
	return r.writeIndexLocked(idx)
}

// writeIndexLocked is writeIndex without acquiring writeMu, for
// callers (Add, Merge, MergeAbort) that already hold it across a read-
// modify-write sequence.
func (r *Repository) writeIndexLocked(idx *gitindex.Index) error {
	var buf bytes.Buffer
	if err := idx.Write(&buf); err != nil {
		return fmt.Errorf("could not serialize index: %w", err)
	}

	dest := r.indexPath()
	tmp := dest + ".lock"
	if err := afero.WriteFile(r.Config.FS, tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("could not write index lock file: %w", err)
	}
	if err := r.Config.FS.Rename(tmp, dest); err != nil {
		_ = r.Config.FS.Remove(tmp)
		return fmt.Errorf("could not persist index: %w", err)
	}
	return nil
}
