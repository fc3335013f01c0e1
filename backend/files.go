package backend

import (
	"errors"
	"os"
	"path"
	"strings"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/spf13/afero"
)

// Description returns the repository's free-text description, used by
// gitweb-style tools, as set during Init or by SetDescription.
func (b *Backend) Description() (string, error) {
	content, err := afero.ReadFile(b.fs, path.Join(b.Path(), ginternals.DescriptionFileName))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// SetDescription overwrites the repository's description file.
func (b *Backend) SetDescription(desc string) error {
	return afero.WriteFile(b.fs, path.Join(b.Path(), ginternals.DescriptionFileName), []byte(desc), 0o644)
}

// InfoExclude returns the contents of .git/info/exclude, a
// gitignore-formatted file of local-only, unshared ignore patterns.
// Returns "" when the file hasn't been created yet.
func (b *Backend) InfoExclude() (string, error) {
	content, err := afero.ReadFile(b.fs, b.infoExcludePath())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// SetInfoExclude overwrites .git/info/exclude.
func (b *Backend) SetInfoExclude(patterns string) error {
	if err := b.fs.MkdirAll(path.Dir(b.infoExcludePath()), 0o750); err != nil {
		return err
	}
	return afero.WriteFile(b.fs, b.infoExcludePath(), []byte(patterns), 0o644)
}

func (b *Backend) infoExcludePath() string {
	return path.Join(b.Path(), "info", "exclude")
}

// mergeStateOid reads a transient single-oid state file (MERGE_HEAD,
// ORIG_HEAD, CHERRY_PICK_HEAD), returning ok=false when the file
// doesn't exist (no operation of that kind in progress).
func (b *Backend) mergeStateOid(fileName string) (oid githash.Oid, ok bool, err error) {
	content, err := afero.ReadFile(b.fs, path.Join(b.Path(), fileName))
	if errors.Is(err, os.ErrNotExist) {
		return githash.Oid{}, false, nil
	}
	if err != nil {
		return githash.Oid{}, false, err
	}
	oid, err = b.hash.NewOidFromHex(strings.TrimSpace(string(content)))
	if err != nil {
		return githash.Oid{}, false, err
	}
	return oid, true, nil
}

func (b *Backend) setMergeStateOid(fileName string, oid githash.Oid) error {
	return afero.WriteFile(b.fs, path.Join(b.Path(), fileName), []byte(oid.String()+"\n"), 0o644)
}

func (b *Backend) clearMergeState(fileName string) error {
	err := b.fs.Remove(path.Join(b.Path(), fileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// MergeHead returns the in-progress merge's other parent, and whether
// a merge is currently in progress (MERGE_HEAD exists).
func (b *Backend) MergeHead() (githash.Oid, bool, error) {
	return b.mergeStateOid(ginternals.MergeHeadFileName)
}

// SetMergeHead records the in-progress merge's other parent.
func (b *Backend) SetMergeHead(oid githash.Oid) error {
	return b.setMergeStateOid(ginternals.MergeHeadFileName, oid)
}

// ClearMergeHead removes MERGE_HEAD, e.g. once the merge commit has
// been recorded or the merge was aborted.
func (b *Backend) ClearMergeHead() error {
	return b.clearMergeState(ginternals.MergeHeadFileName)
}

// MergeMsg returns the message prepared for the pending merge commit.
func (b *Backend) MergeMsg() (string, bool, error) {
	content, err := afero.ReadFile(b.fs, path.Join(b.Path(), ginternals.MergeMsgFileName))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(content), true, nil
}

// SetMergeMsg records the message to use for the pending merge commit.
func (b *Backend) SetMergeMsg(msg string) error {
	return afero.WriteFile(b.fs, path.Join(b.Path(), ginternals.MergeMsgFileName), []byte(msg), 0o644)
}

// ClearMergeMsg removes MERGE_MSG.
func (b *Backend) ClearMergeMsg() error {
	err := b.fs.Remove(path.Join(b.Path(), ginternals.MergeMsgFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// MergeMode returns the recorded merge mode (e.g. "no-ff"), when one
// was set for the pending merge.
func (b *Backend) MergeMode() (string, bool, error) {
	content, err := afero.ReadFile(b.fs, path.Join(b.Path(), ginternals.MergeModeFileName))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(string(content)), true, nil
}

// SetMergeMode records the merge mode for the pending merge.
func (b *Backend) SetMergeMode(mode string) error {
	return afero.WriteFile(b.fs, path.Join(b.Path(), ginternals.MergeModeFileName), []byte(mode+"\n"), 0o644)
}

// ClearMergeMode removes MERGE_MODE.
func (b *Backend) ClearMergeMode() error {
	err := b.fs.Remove(path.Join(b.Path(), ginternals.MergeModeFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// OrigHead returns the oid HEAD pointed at before the operation
// currently in progress (merge, reset) rewrote it.
func (b *Backend) OrigHead() (githash.Oid, bool, error) {
	return b.mergeStateOid(ginternals.OrigHeadFileName)
}

// SetOrigHead records HEAD's pre-operation position.
func (b *Backend) SetOrigHead(oid githash.Oid) error {
	return b.setMergeStateOid(ginternals.OrigHeadFileName, oid)
}

// CherryPickHead returns the commit being cherry-picked, if any.
func (b *Backend) CherryPickHead() (githash.Oid, bool, error) {
	return b.mergeStateOid(ginternals.CherryPickHeadFileName)
}

// SetCherryPickHead records the commit being cherry-picked.
func (b *Backend) SetCherryPickHead(oid githash.Oid) error {
	return b.setMergeStateOid(ginternals.CherryPickHeadFileName, oid)
}

// ClearCherryPickHead removes CHERRY_PICK_HEAD.
func (b *Backend) ClearCherryPickHead() error {
	return b.clearMergeState(ginternals.CherryPickHeadFileName)
}
