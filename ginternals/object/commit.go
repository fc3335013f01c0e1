package object

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/internal/readutil"
)

// Signature represents the author or committer of a commit, and the
// time at which they acted.
type Signature struct {
	Time  time.Time
	Name  string
	Email string
}

// String returns the on-disk representation of the signature:
// "Name <email> timestamp timezone".
func (s Signature) String() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.Time.Unix(), s.Time.Format("-0700"))
}

// IsZero reports whether the signature holds no data.
func (s Signature) IsZero() bool {
	return s.Time.IsZero() && s.Name == "" && s.Email == ""
}

// NewSignature builds a signature stamped with the current time.
func NewSignature(name, email string) Signature {
	return Signature{Name: name, Email: email, Time: time.Now()}
}

// NewSignatureFromBytes parses a signature of the form
// "User Name <user.email@domain.tld> timestamp timezone".
func NewSignatureFromBytes(b []byte) (Signature, error) {
	sig := Signature{}

	data := readutil.ReadTo(b, '<')
	if len(data) == 0 {
		return sig, ginternals.NewError(ginternals.KindCorrupt, "could not retrieve the signature name", nil)
	}
	sig.Name = strings.TrimSpace(string(data))
	offset := len(data) + 1
	if offset >= len(b) {
		return sig, ginternals.NewError(ginternals.KindCorrupt, "signature stopped after the name", nil)
	}

	data = readutil.ReadTo(b[offset:], '>')
	if len(data) == 0 {
		return sig, ginternals.NewError(ginternals.KindCorrupt, "could not retrieve the signature email", nil)
	}
	sig.Email = string(data)
	offset += len(data) + 2 // skip "> "
	if offset >= len(b) {
		return sig, ginternals.NewError(ginternals.KindCorrupt, "signature stopped after the email", nil)
	}

	timestamp := readutil.ReadTo(b[offset:], ' ')
	if len(timestamp) == 0 {
		return sig, ginternals.NewError(ginternals.KindCorrupt, "could not retrieve the signature timestamp", nil)
	}
	offset += len(timestamp) + 1
	if offset >= len(b) {
		return sig, ginternals.NewError(ginternals.KindCorrupt, "signature stopped after the timestamp", nil)
	}

	t, err := strconv.ParseInt(string(timestamp), 10, 64)
	if err != nil {
		return sig, ginternals.NewError(ginternals.KindCorrupt, "invalid signature timestamp", err)
	}
	sig.Time = time.Unix(t, 0)

	tz, err := time.Parse("-0700", string(b[offset:]))
	if err != nil {
		return sig, ginternals.NewError(ginternals.KindCorrupt, "invalid signature timezone", err)
	}
	sig.Time = sig.Time.In(tz.Location())
	return sig, nil
}

// CommitOptions carries the optional data used to build a commit.
type CommitOptions struct {
	Message string
	GPGSig  string
	// Committer is the person recording the commit. Defaults to the
	// author when left zero.
	Committer Signature
	ParentsID []Oid
}

// Commit represents a git commit object.
type Commit struct {
	rawObject *Object

	author    Signature
	committer Signature

	gpgSig  string
	message string

	parentIDs []Oid
	treeID    Oid
}

// NewCommit builds a new commit hashed with hash. Oids passed in are
// not validated against any object store.
func NewCommit(hash githash.Hash, treeID Oid, author Signature, opts *CommitOptions) *Commit {
	c := &Commit{
		treeID:    treeID,
		author:    author,
		committer: opts.Committer,
		message:   opts.Message,
		parentIDs: opts.ParentsID,
		gpgSig:    opts.GPGSig,
	}
	if c.committer.IsZero() {
		c.committer = author
	}
	c.rawObject = c.toObject(hash)
	return c
}

// NewCommitFromObject parses o as a Commit.
//
// A commit has the following shape:
//
//	tree {oid}
//	parent {oid}            (0, 1, or many lines)
//	author {name} <{email}> {seconds} {tz}
//	committer {name} <{email}> {seconds} {tz}
//	gpgsig {armored signature, possibly multi-line}
//	{blank line}
//	{message}
func NewCommitFromObject(o *Object) (*Commit, error) {
	if o.typ != TypeCommit {
		return nil, ginternals.NewError(ginternals.KindObjectType,
			fmt.Sprintf("type %s is not a commit", o.typ), nil)
	}
	ci := &Commit{rawObject: o}
	objData := o.Bytes()
	offset := 0
	for {
		line := readutil.ReadTo(objData[offset:], '\n')
		offset += len(line) + 1

		if len(line) == 0 && offset == 1 {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "could not find commit first line", nil)
		}

		if len(line) == 0 {
			if offset < len(objData) {
				ci.message = string(objData[offset:])
			}
			break
		}

		kv := bytes.SplitN(line, []byte{' '}, 2)
		var err error
		switch string(kv[0]) {
		case "tree":
			ci.treeID, err = o.hash.NewOidFromHex(string(kv[1]))
			if err != nil {
				return nil, ginternals.NewError(ginternals.KindCorrupt, "could not parse tree id", err)
			}
		case "parent":
			oid, e := o.hash.NewOidFromHex(string(kv[1]))
			if e != nil {
				return nil, ginternals.NewError(ginternals.KindCorrupt, "could not parse parent id", e)
			}
			ci.parentIDs = append(ci.parentIDs, oid)
		case "author":
			ci.author, err = NewSignatureFromBytes(kv[1])
			if err != nil {
				return nil, ginternals.NewError(ginternals.KindCorrupt, "could not parse author signature", err)
			}
		case "committer":
			ci.committer, err = NewSignatureFromBytes(kv[1])
			if err != nil {
				return nil, ginternals.NewError(ginternals.KindCorrupt, "could not parse committer signature", err)
			}
		case "gpgsig":
			begin := string(kv[1]) + "\n"
			end := "-----END PGP SIGNATURE-----"
			i := bytes.Index(objData[offset:], []byte(end))
			if i < 0 {
				return nil, ginternals.NewError(ginternals.KindCorrupt, "unterminated gpg signature", nil)
			}
			ci.gpgSig = begin + string(objData[offset:offset+i]) + end
			offset += i + len(end) + 1
		}
	}

	if ci.author.IsZero() {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "commit has no author", nil)
	}
	if ci.treeID.IsZero() {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "commit has no tree", nil)
	}

	return ci, nil
}

// ID returns the Oid of the commit.
func (c *Commit) ID() Oid {
	return c.rawObject.ID()
}

// Author returns the signature of the person that authored the changes.
func (c *Commit) Author() Signature {
	return c.author
}

// Committer returns the signature of the person that recorded the commit.
func (c *Commit) Committer() Signature {
	return c.committer
}

// Message returns the commit message.
func (c *Commit) Message() string {
	return c.message
}

// ParentIDs returns the Oids of the commit's parents, in order.
// The root commit of a history has none; a regular commit has one;
// a merge commit has two or more.
func (c *Commit) ParentIDs() []Oid {
	out := make([]Oid, len(c.parentIDs))
	copy(out, c.parentIDs)
	return out
}

// TreeID returns the Oid of the commit's tree.
func (c *Commit) TreeID() Oid {
	return c.treeID
}

// GPGSig returns the commit's armored GPG signature, if any.
func (c *Commit) GPGSig() string {
	return c.gpgSig
}

// ToObject returns the underlying Object backing this commit.
func (c *Commit) ToObject() *Object {
	return c.rawObject
}

func (c *Commit) toObject(hash githash.Hash) *Object {
	buf := new(bytes.Buffer)
	buf.WriteString("tree ")
	buf.WriteString(c.treeID.String())
	buf.WriteByte('\n')

	for _, p := range c.parentIDs {
		buf.WriteString("parent ")
		buf.WriteString(p.String())
		buf.WriteByte('\n')
	}

	buf.WriteString("author ")
	buf.WriteString(c.Author().String())
	buf.WriteByte('\n')

	buf.WriteString("committer ")
	buf.WriteString(c.Committer().String())
	buf.WriteByte('\n')

	if c.gpgSig != "" {
		buf.WriteString("gpgsig ")
		buf.WriteString(c.gpgSig)
		buf.WriteByte('\n')
	}

	buf.WriteByte('\n')
	buf.WriteString(c.message)

	return New(hash, TypeCommit, buf.Bytes())
}
