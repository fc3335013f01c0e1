package merge

import (
	"context"
	"sort"
	"strings"

	"github.com/gitkit-go/gitkit/backend"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
)

// ConflictKind classifies why TreeMerge could not resolve a path
// automatically.
type ConflictKind int8

const (
	// ConflictContent is a line-level conflict in a blob's content,
	// including a modify/delete divergence (the deleted side is
	// treated as empty content for the purposes of the line merge).
	ConflictContent ConflictKind = iota
	// ConflictDirFile is a directory on one side colliding with a
	// non-directory entry (or a deletion) on the other.
	ConflictDirFile
)

// Conflict describes one path TreeMerge could not resolve
// automatically. Base/Ours/Theirs hold whichever tree entry existed on
// that side (nil if absent), enough for a caller to build stage 1/2/3
// index entries. Merged holds the rendered conflict-marker content for
// a ConflictContent path, ready to write to the working tree.
type Conflict struct {
	Path   string
	Kind   ConflictKind
	Base   *object.TreeEntry
	Ours   *object.TreeEntry
	Theirs *object.TreeEntry
	Merged []byte
}

// TreeMergeOptions configures the conflict-marker rendering used for
// any blob that needs a line-level merge.
type TreeMergeOptions struct {
	Style                             ConflictStyle
	LabelOurs, LabelBase, LabelTheirs string
}

// TreeMerge three-way merges base/ours/theirs (any may be nil, meaning
// the tree has nothing at this level) into a single tree, recursing
// into subdirectories both sides still agree are directories and
// running a line-level merge on any blob both sides touched.
//
// The returned tree omits every path that ended in a content conflict
// — it is the best automatic merge, not the final commit tree; a
// caller checks len(conflicts) before deciding whether the returned
// oid is usable. A directory/file collision keeps the file side's
// entry at the colliding path in the returned tree, and reports that
// path plus every path nested under the losing directory side as its
// own conflict, since none of them can coexist with the file entry.
func TreeMerge(ctx context.Context, b *backend.Backend, base, ours, theirs *githash.Oid, opts TreeMergeOptions) (githash.Oid, []Conflict, error) {
	select {
	case <-ctx.Done():
		return githash.Oid{}, nil, ctx.Err()
	default:
	}

	baseEntries, err := treeEntries(b, base)
	if err != nil {
		return githash.Oid{}, nil, err
	}
	oursEntries, err := treeEntries(b, ours)
	if err != nil {
		return githash.Oid{}, nil, err
	}
	theirsEntries, err := treeEntries(b, theirs)
	if err != nil {
		return githash.Oid{}, nil, err
	}

	var entries []object.TreeEntry
	var conflicts []Conflict
	for _, name := range unionNames(baseEntries, oursEntries, theirsEntries) {
		be, oe, te := entryPtr(baseEntries, name), entryPtr(oursEntries, name), entryPtr(theirsEntries, name)

		entry, pathConflicts, err := mergeEntry(ctx, b, name, be, oe, te, opts)
		if err != nil {
			return githash.Oid{}, nil, err
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
		conflicts = append(conflicts, pathConflicts...)
	}

	sort.Slice(entries, func(i, j int) bool { return entrySortKey(entries[i]) < entrySortKey(entries[j]) })

	tree := object.NewTree(b.Hash(), entries)
	if _, err := b.WriteObject(tree.ToObject()); err != nil {
		return githash.Oid{}, nil, err
	}
	return tree.ID(), conflicts, nil
}

func mergeEntry(ctx context.Context, b *backend.Backend, name string, be, oe, te *object.TreeEntry, opts TreeMergeOptions) (*object.TreeEntry, []Conflict, error) {
	switch {
	case entriesEqual(oe, te):
		return withPath(oe, name), nil, nil
	case entriesEqual(be, oe):
		return withPath(te, name), nil, nil
	case entriesEqual(be, te):
		return withPath(oe, name), nil, nil
	}

	oDir, tDir := isDirEntry(oe), isDirEntry(te)

	switch {
	case oDir && tDir:
		subTree, subConflicts, err := TreeMerge(ctx, b, entryOid(be), entryOid(oe), entryOid(te), opts)
		if err != nil {
			return nil, nil, err
		}
		conflicts := prefixConflicts(name, subConflicts)
		if len(conflicts) > 0 {
			return nil, conflicts, nil
		}
		return &object.TreeEntry{Path: name, ID: subTree, Mode: object.ModeDirectory}, nil, nil
	case oDir != tDir:
		return mergeDirFileConflict(b, name, be, oe, te)
	default:
		return mergeContentConflict(ctx, b, name, be, oe, te, opts)
	}
}

// mergeDirFileConflict resolves a directory-vs-non-directory collision
// by keeping the file side at this path and flattening every file
// under the directory side into its own conflict path.
func mergeDirFileConflict(b *backend.Backend, name string, be, oe, te *object.TreeEntry) (*object.TreeEntry, []Conflict, error) {
	dirEntry, fileEntry := oe, te
	if isDirEntry(te) {
		dirEntry, fileEntry = te, oe
	}

	conflicts := []Conflict{{Path: name, Kind: ConflictDirFile, Base: be, Ours: oe, Theirs: te}}
	if dirEntry != nil {
		nested, err := flattenTree(b, dirEntry.ID, name)
		if err != nil {
			return nil, nil, err
		}
		dirIsOurs := isDirEntry(oe)
		for _, e := range nested {
			e := e
			c := Conflict{Path: e.Path, Kind: ConflictDirFile}
			if dirIsOurs {
				c.Ours = &e
			} else {
				c.Theirs = &e
			}
			conflicts = append(conflicts, c)
		}
	}

	return withPath(fileEntry, name), conflicts, nil
}

// flattenTree lists every non-directory entry nested under oid's tree,
// with Path rewritten relative to prefix.
func flattenTree(b *backend.Backend, oid githash.Oid, prefix string) ([]object.TreeEntry, error) {
	obj, err := b.Object(oid)
	if err != nil {
		return nil, err
	}
	t, err := obj.AsTree()
	if err != nil {
		return nil, err
	}

	var out []object.TreeEntry
	for _, e := range t.Entries() {
		p := prefix + "/" + e.Path
		if e.Mode == object.ModeDirectory {
			nested, err := flattenTree(b, e.ID, p)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		out = append(out, object.TreeEntry{Path: p, ID: e.ID, Mode: e.Mode})
	}
	return out, nil
}

// mergeContentConflict runs a line-level merge on a path both sides
// touched as a (non-directory) entry. A submodule pointer (gitlink)
// has no line content to merge, so a genuine divergence there is
// reported as a conflict with no winning entry rather than merged.
func mergeContentConflict(ctx context.Context, b *backend.Backend, name string, be, oe, te *object.TreeEntry, opts TreeMergeOptions) (*object.TreeEntry, []Conflict, error) {
	if isGitlink(oe) || isGitlink(te) {
		return nil, []Conflict{{Path: name, Kind: ConflictContent, Base: be, Ours: oe, Theirs: te}}, nil
	}

	baseLines, err := entryContent(b, be)
	if err != nil {
		return nil, nil, err
	}
	oursLines, err := entryContent(b, oe)
	if err != nil {
		return nil, nil, err
	}
	theirsLines, err := entryContent(b, te)
	if err != nil {
		return nil, nil, err
	}

	result, err := MergeLines(ctx, opts.Style, baseLines, oursLines, theirsLines, opts.LabelOurs, opts.LabelBase, opts.LabelTheirs)
	if err != nil {
		return nil, nil, err
	}

	if result.Conflicts == 0 {
		blob := object.New(b.Hash(), object.TypeBlob, []byte(strings.Join(result.Lines, "")))
		if _, err := b.WriteObject(blob); err != nil {
			return nil, nil, err
		}
		return &object.TreeEntry{Path: name, ID: blob.ID(), Mode: pickMode(oe, te)}, nil, nil
	}

	merged := []byte(strings.Join(result.Lines, ""))
	return nil, []Conflict{{Path: name, Kind: ConflictContent, Base: be, Ours: oe, Theirs: te, Merged: merged}}, nil
}

func entryContent(b *backend.Backend, e *object.TreeEntry) ([]string, error) {
	if e == nil || e.Mode == object.ModeDirectory || e.Mode == object.ModeGitLink {
		return nil, nil
	}
	obj, err := b.Object(e.ID)
	if err != nil {
		return nil, err
	}
	return splitLines(string(obj.Bytes())), nil
}

func pickMode(oe, te *object.TreeEntry) object.TreeObjectMode {
	switch {
	case oe != nil:
		return oe.Mode
	case te != nil:
		return te.Mode
	default:
		return object.ModeFile
	}
}

func treeEntries(b *backend.Backend, oid *githash.Oid) (map[string]object.TreeEntry, error) {
	out := map[string]object.TreeEntry{}
	if oid == nil {
		return out, nil
	}
	obj, err := b.Object(*oid)
	if err != nil {
		return nil, err
	}
	t, err := obj.AsTree()
	if err != nil {
		return nil, err
	}
	for _, e := range t.Entries() {
		out[e.Path] = e
	}
	return out, nil
}

func unionNames(maps ...map[string]object.TreeEntry) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range maps {
		for name := range m {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

func entryPtr(m map[string]object.TreeEntry, name string) *object.TreeEntry {
	e, ok := m[name]
	if !ok {
		return nil
	}
	return &e
}

func entryOid(e *object.TreeEntry) *githash.Oid {
	if e == nil {
		return nil
	}
	id := e.ID
	return &id
}

func entriesEqual(a, b *object.TreeEntry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID.Equal(b.ID) && a.Mode == b.Mode
}

func isDirEntry(e *object.TreeEntry) bool {
	return e != nil && e.Mode == object.ModeDirectory
}

func isGitlink(e *object.TreeEntry) bool {
	return e != nil && e.Mode == object.ModeGitLink
}

func entrySortKey(e object.TreeEntry) string {
	if e.Mode == object.ModeDirectory {
		return e.Path + "/"
	}
	return e.Path
}

func withPath(e *object.TreeEntry, name string) *object.TreeEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Path = name
	return &out
}

func prefixConflicts(prefix string, cs []Conflict) []Conflict {
	if len(cs) == 0 {
		return nil
	}
	out := make([]Conflict, len(cs))
	for i, c := range cs {
		c.Path = prefix + "/" + c.Path
		out[i] = c
	}
	return out
}
