// Package refs implements git's reference store: loose refs, the
// packed-refs file, symbolic refs, and their reflogs. Writers go
// through a `.lock` sibling file and an atomic rename, and may ask for
// compare-and-swap semantics against the current value.
package refs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/internal/errutil"
	"github.com/gitkit-go/gitkit/internal/syncutil"
	"github.com/spf13/afero"
)

// maxSymbolicDepth bounds how many hops Resolve will follow before
// giving up on what must be a cycle.
const maxSymbolicDepth = 5

// lockSuffix is appended to a ref's path to obtain its lock-file path.
const lockSuffix = ".lock"

// Type discriminates what a Reference points at.
type Type int8

const (
	// OidRef points directly at an object.
	OidRef Type = iota + 1
	// SymbolicRef points at another reference by name.
	SymbolicRef
)

// Reference is a resolved or unresolved git reference.
type Reference struct {
	name   string
	typ    Type
	id     githash.Oid
	target string // symbolic target, only set when typ == SymbolicRef
}

// Name returns the reference's full name, e.g. "refs/heads/main".
func (r *Reference) Name() string { return r.name }

// Type returns whether this is a direct or symbolic reference.
func (r *Reference) Type() Type { return r.typ }

// Target returns the Oid a resolved reference points at. Only
// meaningful once the reference chain has been fully resolved.
func (r *Reference) Target() githash.Oid { return r.id }

// SymbolicTarget returns the name this reference points at, when
// Type() == SymbolicRef.
func (r *Reference) SymbolicTarget() string { return r.target }

// Store is a filesystem-backed reference store rooted at a .git
// directory.
type Store struct {
	fs   afero.Fs
	root string
	hash githash.Hash

	locks *syncutil.NamedMutex

	packed       map[string]string // ref name -> hex oid
	packedPeeled map[string]string // "<tag>^{}" -> hex oid of peeled commit
	packedMtime  time.Time
	packedLoaded bool
}

// NewStore returns a Store rooted at root (the repository's .git
// directory) using fsys for all filesystem access.
func NewStore(fsys afero.Fs, root string, hash githash.Hash) *Store {
	return &Store{
		fs:    fsys,
		root:  root,
		hash:  hash,
		locks: syncutil.NewNamedMutex(64),
	}
}

// ErrInvalidName is returned when a ref name fails IsValidName.
var ErrInvalidName = errors.New("refs: invalid reference name")

// ErrUnknownType is returned when a persisted reference is neither a
// hex oid nor a "ref: " line.
var ErrUnknownType = errors.New("refs: unknown reference content")

func (s *Store) systemPath(name string) string {
	return path.Join(s.root, name)
}

// IsValidName reports whether name is an acceptable reference name.
// https://git-scm.com/docs/git-check-ref-format
func IsValidName(name string) bool {
	if name == "" || name == "/" || strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") {
		return false
	}
	for i, c := range name {
		if c < 32 || c == 127 {
			return false
		}
		switch c {
		case '*', '?', '~', ':', '^', '\\', ' ', '[':
			return false
		}
		if i < len(name)-1 {
			switch name[i : i+2] {
			case "@{", "..":
				return false
			}
		}
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg[0] == '.' || strings.HasSuffix(seg, ".") || strings.HasSuffix(seg, ".lock") {
			return false
		}
	}
	return true
}

// readImmediate returns the immediate, unresolved content of name:
// either a "ref: <target>" line stripped down to <target>, or the hex
// oid it points at. Falls back to packed-refs when no loose file
// exists.
func (s *Store) readImmediate(name string) (content string, symbolic bool, err error) {
	data, err := afero.ReadFile(s.fs, s.systemPath(name))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("could not read ref %q: %w", name, err)
		}
		if loadErr := s.loadPackedRefs(); loadErr != nil {
			return "", false, loadErr
		}
		hex, ok := s.packed[name]
		if !ok {
			return "", false, ginternals.NewError(ginternals.KindNotFound, fmt.Sprintf("reference %q not found", name), nil)
		}
		return hex, false, nil
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "ref: ") {
		return strings.TrimSpace(strings.TrimPrefix(trimmed, "ref: ")), true, nil
	}
	return trimmed, false, nil
}

// Resolve follows symbolic references (bounded to maxSymbolicDepth
// hops) until it reaches a direct, oid-targeting reference.
func (s *Store) Resolve(name string) (*Reference, error) {
	if !IsValidName(name) {
		return nil, fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return s.resolve(name, name, 0)
}

// SymbolicTarget returns the ref name stored in name, without
// requiring it to resolve to an existing oid. Useful for an unborn
// branch, where HEAD is a valid symbolic ref but its target doesn't
// exist yet.
func (s *Store) SymbolicTarget(name string) (string, error) {
	if !IsValidName(name) {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	content, symbolic, err := s.readImmediate(name)
	if err != nil {
		return "", err
	}
	if !symbolic {
		return "", ginternals.NewError(ginternals.KindInvalidRef, fmt.Sprintf("reference %q is not symbolic", name), nil)
	}
	return content, nil
}

func (s *Store) resolve(origName, name string, depth int) (*Reference, error) {
	if depth >= maxSymbolicDepth {
		return nil, ginternals.NewError(ginternals.KindInvalidRef, fmt.Sprintf("too many levels of symbolic references resolving %q", origName), nil)
	}

	content, symbolic, err := s.readImmediate(name)
	if err != nil {
		return nil, err
	}

	if symbolic {
		target, err := s.resolve(origName, content, depth+1)
		if err != nil {
			return nil, err
		}
		return &Reference{name: name, typ: SymbolicRef, target: content, id: target.id}, nil
	}

	oid, err := s.hash.NewOidFromHex(content)
	if err != nil {
		return nil, fmt.Errorf("ref %q: %w: %w", name, ErrUnknownType, err)
	}
	return &Reference{name: name, typ: OidRef, id: oid}, nil
}

// loadPackedRefs parses packed-refs, re-reading it if its mtime has
// changed since the last parse. A missing file is treated as empty.
func (s *Store) loadPackedRefs() (err error) {
	p := path.Join(s.root, ginternals.PackedRefsFileName)
	info, statErr := s.fs.Stat(p)
	if statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			s.packed = map[string]string{}
			s.packedPeeled = map[string]string{}
			s.packedLoaded = true
			return nil
		}
		return fmt.Errorf("could not stat %s: %w", ginternals.PackedRefsFileName, statErr)
	}

	if s.packedLoaded && info.ModTime().Equal(s.packedMtime) {
		return nil
	}

	f, err := s.fs.Open(p)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", ginternals.PackedRefsFileName, err)
	}
	defer errutil.Close(f, &err)

	packed := map[string]string{}
	peeled := map[string]string{}
	var lastRef string

	sc := bufio.NewScanner(f)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if line[0] == '^' {
			if lastRef != "" {
				peeled[lastRef+"^{}"] = strings.TrimPrefix(line, "^")
			}
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			return ginternals.NewError(ginternals.KindCorrupt, fmt.Sprintf("packed-refs line %d is malformed", lineNo), nil)
		}
		packed[parts[1]] = parts[0]
		lastRef = parts[1]
	}
	if sc.Err() != nil {
		return fmt.Errorf("could not parse %s: %w", ginternals.PackedRefsFileName, sc.Err())
	}

	s.packed = packed
	s.packedPeeled = peeled
	s.packedMtime = info.ModTime()
	s.packedLoaded = true
	return nil
}

// PeeledTarget returns the commit Oid a packed, annotated tag points
// at (the "<name>^{}" entry following it in packed-refs), if any.
func (s *Store) PeeledTarget(tagName string) (githash.Oid, bool, error) {
	if err := s.loadPackedRefs(); err != nil {
		return githash.Oid{}, false, err
	}
	hex, ok := s.packedPeeled[tagName+"^{}"]
	if !ok {
		return githash.Oid{}, false, nil
	}
	oid, err := s.hash.NewOidFromHex(hex)
	if err != nil {
		return githash.Oid{}, false, fmt.Errorf("invalid peeled oid for %q: %w", tagName, err)
	}
	return oid, true, nil
}

// WriteOptions configures a WriteRef call.
type WriteOptions struct {
	// NewOid, when set, makes this a direct reference.
	NewOid *githash.Oid
	// NewSymbolic, when non-empty, makes this a symbolic reference
	// pointing at the named ref. Mutually exclusive with NewOid.
	NewSymbolic string
	// ExpectedOld, when non-empty, is compared against the ref's
	// current immediate content; a mismatch fails with KindRefStale.
	// Use the sentinel value NoRef to require the ref not yet exist.
	ExpectedOld string
	// Who is the identity recorded in the reflog entry.
	Who object.Signature
	// Message is the reflog message.
	Message string
}

// NoRef is the ExpectedOld sentinel meaning "this ref must not exist".
const NoRef = "0000000000000000000000000000000000000000000000000000000000000000000000000000"

// WriteRef atomically writes name via a `.lock` sibling and rename.
func (s *Store) WriteRef(name string, opts WriteOptions) (err error) {
	if !IsValidName(name) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	if (opts.NewOid == nil) == (opts.NewSymbolic == "") {
		return errors.New("refs: WriteOptions must set exactly one of NewOid or NewSymbolic")
	}

	s.locks.Lock([]byte(name))
	defer s.locks.Unlock([]byte(name))

	oldContent, _, readErr := s.readImmediate(name)
	exists := readErr == nil
	if readErr != nil && !errors.Is(readErr, ginternals.Err(ginternals.KindNotFound)) {
		return readErr
	}

	if opts.ExpectedOld != "" {
		if opts.ExpectedOld == NoRef {
			if exists {
				return ginternals.NewError(ginternals.KindRefStale, fmt.Sprintf("ref %q already exists", name), nil)
			}
		} else if !exists || oldContent != opts.ExpectedOld {
			return ginternals.NewError(ginternals.KindRefStale, fmt.Sprintf("ref %q changed since last read", name), nil)
		}
	}

	var newContent string
	if opts.NewOid != nil {
		newContent = opts.NewOid.String()
	} else {
		newContent = "ref: " + opts.NewSymbolic
	}

	refPath := s.systemPath(name)
	if mkErr := s.fs.MkdirAll(path.Dir(refPath), 0o755); mkErr != nil {
		return fmt.Errorf("could not create directories for %q: %w", name, mkErr)
	}

	if err = s.atomicWrite(refPath, newContent+"\n"); err != nil {
		return err
	}

	if err = s.appendReflog(name, oldContent, newContent, opts.Who, opts.Message); err != nil {
		return err
	}
	return nil
}

// atomicWrite writes content to path via a sibling `.lock` file and
// rename, so readers never observe a partial write.
func (s *Store) atomicWrite(p, content string) (err error) {
	lockPath := p + lockSuffix
	f, err := s.fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ginternals.NewError(ginternals.KindRefStale, fmt.Sprintf("%q is locked by another writer", p), nil)
		}
		return fmt.Errorf("could not create lock file %q: %w", lockPath, err)
	}
	defer func() {
		_ = s.fs.Remove(lockPath)
	}()

	if _, werr := f.WriteString(content); werr != nil {
		_ = f.Close()
		return fmt.Errorf("could not write %q: %w", lockPath, werr)
	}
	if cerr := f.Close(); cerr != nil {
		return fmt.Errorf("could not close %q: %w", lockPath, cerr)
	}

	if err = s.fs.Rename(lockPath, p); err != nil {
		return fmt.Errorf("could not rename %q to %q: %w", lockPath, p, err)
	}
	return nil
}

// DeleteRef removes the loose ref and any packed-refs entry for name.
// If expectedOld is non-empty it must match the ref's current
// immediate content, else KindRefStale is returned.
func (s *Store) DeleteRef(name, expectedOld string) (err error) {
	if !IsValidName(name) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}

	s.locks.Lock([]byte(name))
	defer s.locks.Unlock([]byte(name))

	oldContent, _, readErr := s.readImmediate(name)
	if readErr != nil {
		if errors.Is(readErr, ginternals.Err(ginternals.KindNotFound)) {
			return nil
		}
		return readErr
	}
	if expectedOld != "" && oldContent != expectedOld {
		return ginternals.NewError(ginternals.KindRefStale, fmt.Sprintf("ref %q changed since last read", name), nil)
	}

	refPath := s.systemPath(name)
	if rmErr := s.fs.Remove(refPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return fmt.Errorf("could not remove %q: %w", refPath, rmErr)
	}

	if loadErr := s.loadPackedRefs(); loadErr != nil {
		return loadErr
	}
	if _, ok := s.packed[name]; ok {
		delete(s.packed, name)
		if rewriteErr := s.rewritePackedRefs(); rewriteErr != nil {
			return rewriteErr
		}
	}

	return s.appendReflog(name, oldContent, "", object.Signature{}, "deleted "+name)
}

// rewritePackedRefs persists s.packed back to the packed-refs file.
func (s *Store) rewritePackedRefs() (err error) {
	var buf strings.Builder
	buf.WriteString("# pack-refs with: peeled fully-peeled sorted\n")
	names := make([]string, 0, len(s.packed))
	for n := range s.packed {
		names = append(names, n)
	}
	// deterministic order, matching git's documented "sorted" packed-refs
	sortStrings(names)
	for _, n := range names {
		fmt.Fprintf(&buf, "%s %s\n", s.packed[n], n)
		if peeled, ok := s.packedPeeled[n+"^{}"]; ok {
			fmt.Fprintf(&buf, "^%s\n", peeled)
		}
	}
	return s.atomicWrite(path.Join(s.root, ginternals.PackedRefsFileName), buf.String())
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// appendReflog appends one entry to logs/<name>. A missing logs
// directory is tolerated: the write silently no-ops, matching git's
// behavior for repositories created with core.logAllRefUpdates=false.
func (s *Store) appendReflog(name, oldHex, newHex string, who object.Signature, message string) (err error) {
	logPath := path.Join(s.root, ginternals.ReflogRelPath(name))
	if _, statErr := s.fs.Stat(path.Join(s.root, ginternals.LogsDirName)); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("could not stat logs directory: %w", statErr)
	}

	if mkErr := s.fs.MkdirAll(path.Dir(logPath), 0o755); mkErr != nil {
		return fmt.Errorf("could not create reflog directory for %q: %w", name, mkErr)
	}

	if oldHex == "" {
		oldHex = s.hash.NullOid().String()
	}
	if newHex == "" {
		newHex = s.hash.NullOid().String()
	}

	line := fmt.Sprintf("%s %s %s <%s> %d %s\t%s\n",
		oldHex, newHex, who.Name, who.Email, who.Time.Unix(), who.Time.Format("-0700"), message)

	f, err := s.fs.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("could not open reflog %q: %w", logPath, err)
	}
	defer errutil.Close(f, &err)
	if _, err = f.WriteString(line); err != nil {
		return fmt.Errorf("could not append to reflog %q: %w", logPath, err)
	}
	return nil
}

// ReflogEntry is a single parsed line of a reference's reflog.
type ReflogEntry struct {
	OldOid  githash.Oid
	NewOid  githash.Oid
	Who     string
	When    time.Time
	Message string
}

// Reflog returns the parsed history of name's reflog, oldest first.
func (s *Store) Reflog(name string) ([]ReflogEntry, error) {
	logPath := path.Join(s.root, ginternals.ReflogRelPath(name))
	f, err := s.fs.Open(logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not open reflog %q: %w", logPath, err)
	}
	defer errutil.Close(f, &err)

	var entries []ReflogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		e, perr := parseReflogLine(s.hash, sc.Text())
		if perr != nil {
			return nil, fmt.Errorf("could not parse reflog %q: %w", logPath, perr)
		}
		entries = append(entries, e)
	}
	if sc.Err() != nil {
		return nil, fmt.Errorf("could not read reflog %q: %w", logPath, sc.Err())
	}
	return entries, nil
}

func parseReflogLine(hash githash.Hash, line string) (ReflogEntry, error) {
	tabParts := strings.SplitN(line, "\t", 2)
	header := tabParts[0]
	message := ""
	if len(tabParts) == 2 {
		message = tabParts[1]
	}

	fields := strings.Fields(header)
	if len(fields) < 5 {
		return ReflogEntry{}, fmt.Errorf("malformed reflog line %q", line)
	}
	oldOid, err := hash.NewOidFromHex(fields[0])
	if err != nil {
		return ReflogEntry{}, err
	}
	newOid, err := hash.NewOidFromHex(fields[1])
	if err != nil {
		return ReflogEntry{}, err
	}
	tz := fields[len(fields)-1]
	ts := fields[len(fields)-2]
	who := strings.Join(fields[2:len(fields)-2], " ")

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ReflogEntry{}, fmt.Errorf("invalid reflog timestamp %q: %w", ts, err)
	}
	loc := time.FixedZone(tz, 0)
	when := time.Unix(sec, 0).In(loc)

	return ReflogEntry{OldOid: oldOid, NewOid: newOid, Who: who, When: when, Message: message}, nil
}

// List returns every ref name in the store (loose and packed), sorted.
func (s *Store) List() ([]string, error) {
	if err := s.loadPackedRefs(); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for name := range s.packed {
		seen[name] = true
	}

	refsRoot := path.Join(s.root, ginternals.RefsDirName)
	err := afero.Walk(s.fs, refsRoot, func(p string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, os.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepathRel(s.root, p)
		if relErr != nil {
			return relErr
		}
		seen[rel] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not walk refs directory: %w", err)
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sortStrings(out)
	return out, nil
}

func filepathRel(root, p string) (string, error) {
	if !strings.HasPrefix(p, root) {
		return "", fmt.Errorf("path %q is not under %q", p, root)
	}
	rel := strings.TrimPrefix(p, root)
	rel = strings.TrimPrefix(rel, "/")
	return rel, nil
}

// ReadShallowRoots parses the shallow file: one hex oid per line,
// naming commits whose parents exist in the commit object but were
// never fetched into this repository. The returned set is keyed by
// Oid.String(), matching how merge.MergeBase and the revision walker
// key their own visited sets. A repository with no shallow file (the
// common case) returns an empty, non-nil set.
func (s *Store) ReadShallowRoots() (roots map[string]bool, err error) {
	roots = map[string]bool{}

	f, err := s.fs.Open(path.Join(s.root, ginternals.ShallowFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return roots, nil
		}
		return nil, fmt.Errorf("could not open shallow file: %w", err)
	}
	defer errutil.Close(f, &err)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		oid, err := s.hash.NewOidFromHex(line)
		if err != nil {
			return nil, fmt.Errorf("invalid oid %q in shallow file: %w", line, err)
		}
		roots[oid.String()] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read shallow file: %w", err)
	}
	return roots, nil
}
