// Package gitindex reads and writes the binary staging index
// (`.git/index`): the list of paths git considers staged, along with
// enough filesystem metadata to detect when a working-tree file has
// changed without rehashing it.
package gitindex

import (
	"time"

	"github.com/gitkit-go/gitkit/ginternals/githash"
)

// Stage identifies which side of a conflict an entry represents.
// Stage 0 is the normal, unconflicted case.
type Stage uint8

const (
	// StageNormal is used outside of a conflict.
	StageNormal Stage = 0
	// StageBase is the common ancestor's version during a conflict.
	StageBase Stage = 1
	// StageOurs is our side's version during a conflict.
	StageOurs Stage = 2
	// StageTheirs is their side's version during a conflict.
	StageTheirs Stage = 3
)

// Mode is the subset of a file's mode git's index tracks.
type Mode uint32

// Recognized index entry modes.
const (
	ModeFile       Mode = 0o100644
	ModeExecutable Mode = 0o100755
	ModeSymlink    Mode = 0o120000
	ModeGitlink    Mode = 0o160000
)

// Entry is a single staged path.
type Entry struct {
	CTime time.Time
	MTime time.Time
	Dev   uint32
	Ino   uint32
	Mode  Mode
	UID   uint32
	GID   uint32
	Size  uint32
	Oid   githash.Oid

	AssumeValid   bool
	SkipWorktree  bool
	IntentToAdd   bool
	Stage         Stage

	Path string
}

// key uniquely identifies an entry slot: a path may have a single
// stage-0 entry, or a disjoint set of stage 1/2/3 entries, never both,
// so (Path, Stage) is always a valid identity.
type key struct {
	path  string
	stage Stage
}

func (e *Entry) key() key { return key{path: e.Path, stage: e.Stage} }
