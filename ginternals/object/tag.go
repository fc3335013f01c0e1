package object

import (
	"bytes"
	"fmt"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/internal/readutil"
)

// TagParams carries the data needed to create an annotated tag.
// Fields prefixed Opt are optional.
type TagParams struct {
	Target    *Object
	Name      string
	Tagger    Signature
	Message   string
	OptGPGSig string
}

// Tag represents a git annotated tag object. Lightweight tags (a plain
// ref pointing directly at a commit) never produce a Tag value; they
// live entirely in the ref store.
type Tag struct {
	rawObject *Object

	tagger  Signature
	tag     string
	message string

	gpgSig string

	target Oid

	typ Type

	hash githash.Hash
}

// NewTag builds a new annotated tag hashed with hash.
func NewTag(hash githash.Hash, p *TagParams) *Tag {
	return &Tag{
		target:  p.Target.ID(),
		typ:     p.Target.Type(),
		tag:     p.Name,
		tagger:  p.Tagger,
		message: p.Message,
		gpgSig:  p.OptGPGSig,
		hash:    hash,
	}
}

// NewTagFromObject parses o as a Tag.
//
// A tag has the following shape:
//
//	object {oid}
//	type {target_object_type}
//	tag {tag_name}
//	tagger {name} <{email}> {seconds} {tz}
//	gpgsig {armored signature, possibly multi-line}
//	{blank line}
//	{message}
func NewTagFromObject(o *Object) (*Tag, error) {
	if o.typ != TypeTag {
		return nil, ginternals.NewError(ginternals.KindObjectType,
			fmt.Sprintf("type %s is not a tag", o.typ), nil)
	}
	tag := &Tag{rawObject: o, hash: o.hash}
	offset := 0
	objData := o.Bytes()
	var err error
	for {
		line := readutil.ReadTo(objData[offset:], '\n')
		offset += len(line) + 1

		if len(line) == 0 && offset == 1 {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "could not find tag first line", nil)
		}

		if len(line) == 0 {
			if offset < len(objData) {
				tag.message = string(objData[offset:])
			}
			break
		}

		kv := bytes.SplitN(line, []byte{' '}, 2)
		switch string(kv[0]) {
		case "object":
			tag.target, err = o.hash.NewOidFromHex(string(kv[1]))
			if err != nil {
				return nil, ginternals.NewError(ginternals.KindCorrupt, "could not parse tag target id", err)
			}
		case "type":
			tag.typ, err = NewTypeFromString(string(kv[1]))
			if err != nil {
				return nil, ginternals.NewError(ginternals.KindCorrupt, "invalid tag target type", err)
			}
		case "tagger":
			tag.tagger, err = NewSignatureFromBytes(kv[1])
			if err != nil {
				return nil, ginternals.NewError(ginternals.KindCorrupt, "could not parse tagger signature", err)
			}
		case "tag":
			tag.tag = string(kv[1])
		case "gpgsig":
			begin := string(kv[1]) + "\n"
			end := "-----END PGP SIGNATURE-----"
			i := bytes.Index(objData[offset:], []byte(end))
			if i < 0 {
				return nil, ginternals.NewError(ginternals.KindCorrupt, "unterminated gpg signature", nil)
			}
			tag.gpgSig = begin + string(objData[offset:offset+i]) + end
			offset += i + len(end) + 1
		}
	}

	if tag.tagger.IsZero() {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "tag has no tagger", nil)
	}
	if tag.target.IsZero() {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "tag has no target", nil)
	}
	if !tag.typ.IsValid() {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "tag has no valid target type", nil)
	}

	return tag, nil
}

// ID returns the Oid of the tag object.
func (t *Tag) ID() Oid {
	return t.rawObject.ID()
}

// Target returns the Oid of the object the tag points at.
func (t *Tag) Target() Oid {
	return t.target
}

// Type returns the type of the targeted object.
func (t *Tag) Type() Type {
	return t.typ
}

// Name returns the tag's name.
func (t *Tag) Name() string {
	return t.tag
}

// Tagger returns the signature of the person that created the tag.
func (t *Tag) Tagger() Signature {
	return t.tagger
}

// Message returns the tag's message.
func (t *Tag) Message() string {
	return t.message
}

// GPGSig returns the tag's armored GPG signature, if any.
func (t *Tag) GPGSig() string {
	return t.gpgSig
}

// ToObject returns the underlying Object backing this tag.
func (t *Tag) ToObject() *Object {
	if t.rawObject != nil {
		return t.rawObject
	}

	buf := new(bytes.Buffer)
	buf.WriteString("object ")
	buf.WriteString(t.target.String())
	buf.WriteByte('\n')

	buf.WriteString("type ")
	buf.WriteString(t.Type().String())
	buf.WriteByte('\n')

	buf.WriteString("tag ")
	buf.WriteString(t.Name())
	buf.WriteByte('\n')

	buf.WriteString("tagger ")
	buf.WriteString(t.Tagger().String())
	buf.WriteByte('\n')

	if t.gpgSig != "" {
		buf.WriteString("gpgsig ")
		buf.WriteString(t.gpgSig)
		buf.WriteByte('\n')
	}

	buf.WriteByte('\n')
	buf.WriteString(t.message)

	t.rawObject = New(t.hash, TypeTag, buf.Bytes())
	return t.rawObject
}
