package walk

import (
	"fmt"
	"os"

	"github.com/gitkit-go/gitkit/backend"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/gitindex"
	"github.com/spf13/afero"
)

// treeHandle is a Node's view from the Tree source.
type treeHandle struct {
	backend *backend.Backend
	oid     githash.Oid
	mode    uint32
	isDir   bool
}

func (h *treeHandle) Oid() githash.Oid { return h.oid }

func (h *treeHandle) Mode() uint32 { return h.mode }

func (h *treeHandle) Type() EntryType {
	switch object.TreeObjectMode(h.mode) {
	case object.ModeDirectory:
		return EntryTree
	case object.ModeGitLink:
		return EntryGitlink
	default:
		return EntryBlob
	}
}

func (h *treeHandle) Content() ([]byte, error) {
	if h.isDir {
		return nil, fmt.Errorf("walk: path is a tree, not a blob")
	}
	obj, err := h.backend.Object(h.oid)
	if err != nil {
		return nil, err
	}
	return obj.Bytes(), nil
}

// stageHandle is a Node's view from the Stage source.
type stageHandle struct {
	entry gitindex.Entry
}

func (h *stageHandle) Oid() githash.Oid { return h.entry.Oid }

func (h *stageHandle) Mode() uint32 { return uint32(h.entry.Mode) }

func (h *stageHandle) Type() EntryType {
	switch h.entry.Mode {
	case gitindex.ModeGitlink:
		return EntryGitlink
	default:
		return EntryBlob
	}
}

func (h *stageHandle) Content() ([]byte, error) {
	return nil, fmt.Errorf("walk: stage handles don't carry blob content; look up Oid() in the backend")
}

// workdirHandle is a Node's view from the Workdir source.
type workdirHandle struct {
	fs   afero.Fs
	path string
	info os.FileInfo
}

func (h *workdirHandle) Oid() githash.Oid { return githash.Oid{} }

func (h *workdirHandle) Mode() uint32 { return uint32(h.info.Mode().Perm()) }

func (h *workdirHandle) Type() EntryType {
	if h.info.IsDir() {
		return EntryTree
	}
	return EntryBlob
}

func (h *workdirHandle) Content() ([]byte, error) {
	return afero.ReadFile(h.fs, h.path)
}

func (h *workdirHandle) Stat() (os.FileInfo, error) {
	return h.info, nil
}
