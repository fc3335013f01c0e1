package object

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/internal/readutil"
)

// TreeObjectMode represents the mode of an object inside a tree.
// Non-standard modes (like 0o100664) are not supported.
type TreeObjectMode int32

const (
	// ModeFile is the mode of a regular, non-executable file.
	ModeFile TreeObjectMode = 0o100644
	// ModeExecutable is the mode of an executable file.
	ModeExecutable TreeObjectMode = 0o100755
	// ModeDirectory is the mode of a sub-tree.
	ModeDirectory TreeObjectMode = 0o040000
	// ModeSymLink is the mode of a symbolic link.
	ModeSymLink TreeObjectMode = 0o120000
	// ModeGitLink is the mode of a submodule reference.
	ModeGitLink TreeObjectMode = 0o160000
)

// IsValid returns whether the mode is one of the modes git supports.
func (m TreeObjectMode) IsValid() bool {
	switch m {
	case ModeFile, ModeExecutable, ModeDirectory, ModeSymLink, ModeGitLink:
		return true
	default:
		return false
	}
}

// ObjectType returns the object type associated with a mode.
func (m TreeObjectMode) ObjectType() Type {
	switch m {
	case ModeDirectory:
		return TypeTree
	case ModeGitLink:
		return TypeCommit
	default:
		return TypeBlob
	}
}

// Tree represents a git tree object: an ordered list of entries, each
// pointing at a blob, a sub-tree, or (for a submodule) a commit.
type Tree struct {
	rawObject *Object
	// entries are stored by value so a Tree is immutable once built.
	entries []TreeEntry
}

// TreeEntry represents a single entry inside a git tree.
type TreeEntry struct {
	Path string
	ID   Oid
	Mode TreeObjectMode
}

// NewTree builds a new tree hashed with hash from the given entries.
// Entries must already be in the tree sort order (byte-wise, treating
// directory entries as if their path had a trailing slash); callers
// that build trees incrementally are expected to sort before calling.
func NewTree(hash githash.Hash, entries []TreeEntry) *Tree {
	t := &Tree{entries: entries}
	t.rawObject = t.toObject(hash)
	return t
}

// NewTreeFromObject parses o as a Tree.
//
// A tree is a back-to-back sequence of entries of the form:
//
//	{octal_mode} {path_name}\0{raw_oid_bytes}
func NewTreeFromObject(o *Object) (*Tree, error) {
	if o.Type() != TypeTree {
		return nil, ginternals.NewError(ginternals.KindObjectType,
			fmt.Sprintf("type %s is not a tree", o.typ), nil)
	}

	oidSize := o.hash.Size()
	entries := []TreeEntry{}

	objData := o.Bytes()
	offset := 0
	for i := 1; offset < len(objData); i++ {
		entry := TreeEntry{}

		data := readutil.ReadTo(objData[offset:], ' ')
		if len(data) == 0 {
			return nil, ginternals.NewError(ginternals.KindCorrupt,
				fmt.Sprintf("could not retrieve the mode of tree entry %d", i), nil)
		}
		offset += len(data) + 1

		mode, err := strconv.ParseInt(string(data), 8, 32)
		if err != nil {
			return nil, ginternals.NewError(ginternals.KindCorrupt,
				fmt.Sprintf("could not parse mode of tree entry %d", i), err)
		}
		entry.Mode = TreeObjectMode(mode)

		data = readutil.ReadTo(objData[offset:], 0)
		if len(data) == 0 {
			return nil, ginternals.NewError(ginternals.KindCorrupt,
				fmt.Sprintf("could not retrieve the path of tree entry %d", i), nil)
		}
		offset += len(data) + 1
		entry.Path = string(data)

		if offset+oidSize > len(objData) {
			return nil, ginternals.NewError(ginternals.KindCorrupt,
				fmt.Sprintf("not enough bytes to retrieve the id of tree entry %d", i), nil)
		}
		entry.ID, err = o.hash.NewOidFromBytes(objData[offset : offset+oidSize])
		if err != nil {
			return nil, ginternals.NewError(ginternals.KindCorrupt,
				fmt.Sprintf("invalid oid for tree entry %d", i), err)
		}
		offset += oidSize

		entries = append(entries, entry)
	}

	return &Tree{rawObject: o, entries: entries}, nil
}

// Entries returns a copy of the tree's entries.
func (t *Tree) Entries() []TreeEntry {
	out := make([]TreeEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// ID returns the Oid of the tree object.
func (t *Tree) ID() Oid {
	return t.rawObject.ID()
}

// ToObject returns the underlying Object backing this tree.
func (t *Tree) ToObject() *Object {
	return t.rawObject
}

func (t *Tree) toObject(hash githash.Hash) *Object {
	buf := new(bytes.Buffer)
	for _, e := range t.entries {
		buf.WriteString(strconv.FormatInt(int64(e.Mode), 8))
		buf.WriteByte(' ')
		buf.WriteString(e.Path)
		buf.WriteByte(0)
		buf.Write(e.ID.Bytes())
	}
	return New(hash, TypeTree, buf.Bytes())
}
