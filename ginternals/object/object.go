// Package object contains methods and structs to work with git objects:
// blobs, trees, commits and tags, in both their wrapped (hashed) and
// loose-compressed (stored) forms.
package object

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"strconv"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/internal/errutil"
)

// Oid is re-exported here so callers working with trees/commits/tags
// don't need to import githash directly.
type Oid = githash.Oid

// Type represents the type of an object as stored in a packfile.
type Type int8

// List of all the possible object types. 5 is reserved by git for
// future use and intentionally skipped.
const (
	TypeCommit     Type = 1
	TypeTree       Type = 2
	TypeBlob       Type = 3
	TypeTag        Type = 4
	ObjectDeltaOFS Type = 6
	ObjectDeltaRef Type = 7
)

func (t Type) String() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeTree:
		return "tree"
	case TypeBlob:
		return "blob"
	case TypeTag:
		return "tag"
	case ObjectDeltaOFS:
		return "ofs-delta"
	case ObjectDeltaRef:
		return "ref-delta"
	default:
		return fmt.Sprintf("unknown(%d)", int8(t))
	}
}

// IsValid checks if the object type is a known type.
func (t Type) IsValid() bool {
	switch t {
	case TypeCommit, TypeTree, TypeBlob, TypeTag, ObjectDeltaOFS, ObjectDeltaRef:
		return true
	default:
		return false
	}
}

// NewTypeFromString returns a Type from its string representation, as
// found in a wrapped object's header.
func NewTypeFromString(t string) (Type, error) {
	switch t {
	case "commit":
		return TypeCommit, nil
	case "tree":
		return TypeTree, nil
	case "blob":
		return TypeBlob, nil
	case "tag":
		return TypeTag, nil
	default:
		return 0, ginternals.NewError(ginternals.KindObjectType, fmt.Sprintf("unknown object type %q", t), nil)
	}
}

// Object represents a git object. All four kinds (blob, tree, commit,
// tag) share the same storage shape: a "<type> <len>\0" header
// followed by the raw payload, hashed as a unit and zlib-compressed
// when stored loose.
type Object struct {
	id      githash.Oid
	typ     Type
	content []byte
	hash    githash.Hash
}

// New creates a new in-memory git object of the given type, hashed
// using hash.
func New(hash githash.Hash, typ Type, content []byte) *Object {
	o := &Object{
		typ:     typ,
		content: content,
		hash:    hash,
	}
	o.id = o.hash.Sum(o.wrapped())
	return o
}

// NewWithID creates an object whose Oid is already known (e.g. because
// it was just looked up by that Oid in a pack or loose store), saving
// the recomputation.
func NewWithID(hash githash.Hash, id githash.Oid, typ Type, content []byte) *Object {
	return &Object{
		id:      id,
		typ:     typ,
		content: content,
		hash:    hash,
	}
}

// ID returns the Oid of the object: the hash of its wrapped form.
func (o *Object) ID() githash.Oid {
	return o.id
}

// Size returns the size of the object's content, in bytes.
func (o *Object) Size() int {
	return len(o.content)
}

// Type returns the Type of this object.
func (o *Object) Type() Type {
	return o.typ
}

// Bytes returns the object's raw content (not wrapped, not compressed).
func (o *Object) Bytes() []byte {
	return o.content
}

// Hash returns the hash algorithm this object was built with.
func (o *Object) Hash() githash.Hash {
	return o.hash
}

// wrapped returns "<type> <len>\0<content>", the exact bytes that get
// hashed to produce the Oid. This must never be confused with the
// zlib-compressed storage form: the core hashes the wrapped form, and
// only compresses it afterwards for loose storage.
func (o *Object) wrapped() []byte {
	w := new(bytes.Buffer)
	w.WriteString(o.typ.String())
	w.WriteByte(' ')
	w.WriteString(strconv.Itoa(o.Size()))
	w.WriteByte(0)
	w.Write(o.content)
	return w.Bytes()
}

// Compress returns the object zlib-compressed, ready to be written as
// a loose object. The format is the wrapped form, deflated.
func (o *Object) Compress() (data []byte, err error) {
	compressed := new(bytes.Buffer)
	zw := zlib.NewWriter(compressed)
	defer errutil.Close(zw, &err)

	if _, err = zw.Write(o.wrapped()); err != nil {
		return nil, fmt.Errorf("could not zlib the object: %w", err)
	}
	return compressed.Bytes(), nil
}

// AsBlob parses the object as a Blob. Any object type can be viewed as
// a blob since a blob carries no structure beyond its bytes.
func (o *Object) AsBlob() *Blob {
	return NewBlob(o)
}

// AsTree parses the object as a Tree.
func (o *Object) AsTree() (*Tree, error) {
	return NewTreeFromObject(o)
}

// AsCommit parses the object as a Commit.
func (o *Object) AsCommit() (*Commit, error) {
	return NewCommitFromObject(o)
}

// AsTag parses the object as a Tag.
func (o *Object) AsTag() (*Tag, error) {
	return NewTagFromObject(o)
}
