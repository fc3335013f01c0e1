// Package walk implements a synchronized traversal over up to three
// pluggable sources pinned to the same path namespace: a commit's
// tree, the staging index, and the work-tree. Status and Add are built
// on this "what's at path P in each of these views" comparison; the
// merge engine and checkout read trees directly and do not use it.
package walk

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gitkit-go/gitkit/backend"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/gitindex"
	"github.com/spf13/afero"
)

// Source identifies one of the three pluggable inputs to a walk.
type Source int8

const (
	// Tree is a commit's (or any tree's) recorded content.
	Tree Source = iota
	// Stage is the staging index.
	Stage
	// Workdir is the on-disk work-tree.
	Workdir

	numSources = int(Workdir) + 1
)

func (s Source) String() string {
	switch s {
	case Tree:
		return "tree"
	case Stage:
		return "stage"
	case Workdir:
		return "workdir"
	default:
		return fmt.Sprintf("source(%d)", int8(s))
	}
}

// EntryType is the kind of filesystem entity a Handle describes.
type EntryType int8

const (
	// EntryBlob is a regular file or symlink's content.
	EntryBlob EntryType = iota + 1
	// EntryTree is a subtree / directory.
	EntryTree
	// EntryGitlink is a submodule reference (a commit oid, no content).
	EntryGitlink
)

// Handle is a per-source, lazily-evaluated view of one path. It is nil
// in a Node for any source that has nothing at that path.
type Handle interface {
	// Oid returns the content hash, when the source has one. Workdir
	// handles return the zero Oid.
	Oid() githash.Oid
	// Type returns what kind of entity this is.
	Type() EntryType
	// Mode returns the raw mode bits recorded by the source.
	Mode() uint32
	// Content returns a blob's bytes. Only valid when Type() ==
	// EntryBlob.
	Content() ([]byte, error)
}

// StatHandle is implemented by Workdir handles in addition to Handle,
// exposing the os.FileInfo of the on-disk entry.
type StatHandle interface {
	Handle
	Stat() (os.FileInfo, error)
}

// Node is one path encountered during the walk, with one Handle slot
// per requested Source (nil where that source has nothing at this
// path).
type Node struct {
	// Path is the full, '/'-separated path from the walk root.
	Path string
	// IsDir is true if any source considers this path a directory.
	IsDir bool

	handles [numSources]Handle
}

// Handle returns the Node's view from the given source, or nil if
// that source wasn't requested or has nothing at this path.
func (n *Node) Handle(s Source) Handle {
	return n.handles[s]
}

// VisitFunc is called once per Node, in tree order. Returning
// descend=false skips recursing into this Node even if it is a
// directory in some source (the filter hook); returning a non-nil err
// aborts the walk.
type VisitFunc func(n *Node) (descend bool, err error)

// Options configures a walk. Sources are enabled by setting their
// corresponding field; a nil/zero field disables that source.
type Options struct {
	// Backend and TreeRoot enable the Tree source: TreeRoot is the oid
	// of the root tree to walk (e.g. a commit's tree).
	Backend  *backend.Backend
	TreeRoot *githash.Oid

	// Index enables the Stage source.
	Index *gitindex.Index

	// WorkdirFS and WorkdirRoot enable the Workdir source. WorkdirRoot
	// is the absolute path the walk's "" (root) path maps to.
	WorkdirFS   afero.Fs
	WorkdirRoot string
}

// Walk performs a synchronized depth-first traversal over the union
// of paths present in any enabled source, calling visit once per path
// in tree order (subtrees sort as if their name had a trailing '/').
func Walk(opts Options, visit VisitFunc) error {
	w := &walker{opts: opts, visit: visit}

	root := dirView{}
	var err error
	if opts.Backend != nil && opts.TreeRoot != nil {
		root.tree, err = w.treeEntries(*opts.TreeRoot)
		if err != nil {
			return fmt.Errorf("could not read root tree: %w", err)
		}
		root.treeOK = true
	}
	if opts.Index != nil {
		root.stage = opts.Index.Entries()
		root.stageOK = true
	}
	if opts.WorkdirFS != nil {
		root.workdirOK = true
		root.workdirPath = opts.WorkdirRoot
	}

	return w.walkDir("", root)
}

type walker struct {
	opts  Options
	visit VisitFunc
}

// dirView narrows each enabled source down to "what's directly or
// indirectly under this directory" as the walk descends.
type dirView struct {
	tree   []treeChild
	treeOK bool

	stage   []gitindex.Entry // entries whose Path is under this dir's prefix
	stageOK bool

	workdirPath string
	workdirOK   bool
}

// treeChild is one entry of a resolved tree, alongside the object
// whose entry it was (for oid/mode lookups without re-parsing).
type treeChild struct {
	name  string
	oid   githash.Oid
	mode  uint32
	isDir bool
}

func (w *walker) walkDir(dirPath string, dv dirView) error {
	names, err := w.childNames(dirPath, dv)
	if err != nil {
		return err
	}

	for _, name := range names {
		childPath := name
		if dirPath != "" {
			childPath = dirPath + "/" + name
		}

		node := &Node{Path: childPath}
		var childDV dirView

		if dv.treeOK {
			if tc, ok := findTreeChild(dv.tree, name); ok {
				node.handles[Tree] = &treeHandle{backend: w.opts.Backend, oid: tc.oid, mode: tc.mode, isDir: tc.isDir}
				if tc.isDir {
					node.IsDir = true
					childDV.treeOK = true
					childDV.tree, err = w.treeEntries(tc.oid)
					if err != nil {
						return fmt.Errorf("could not read tree at %s: %w", childPath, err)
					}
				}
			}
		}

		if dv.stageOK {
			exact, sub, isDir := stageChildren(dv.stage, childPath)
			if !isDir && len(exact) > 0 {
				node.handles[Stage] = &stageHandle{entry: representativeStageEntry(exact)}
			}
			if isDir {
				node.IsDir = true
				childDV.stageOK = true
				childDV.stage = sub
			}
		}

		if dv.workdirOK {
			absPath := dv.workdirPath + "/" + name
			info, statErr := w.opts.WorkdirFS.Stat(absPath)
			switch {
			case statErr == nil:
				node.handles[Workdir] = &workdirHandle{fs: w.opts.WorkdirFS, path: absPath, info: info}
				if info.IsDir() {
					node.IsDir = true
					childDV.workdirOK = true
					childDV.workdirPath = absPath
				}
			case os.IsNotExist(statErr):
				// absent in this source, nothing to do
			default:
				return fmt.Errorf("could not stat %s: %w", absPath, statErr)
			}
		}

		descend, err := w.visit(node)
		if err != nil {
			return err
		}
		if descend && node.IsDir {
			if err := w.walkDir(childPath, childDV); err != nil {
				return err
			}
		}
	}

	return nil
}

// childNames returns the sorted, deduplicated set of immediate child
// names across every enabled source, using the subtree-aware
// comparator (directory names compare as if suffixed with '/').
func (w *walker) childNames(dirPath string, dv dirView) ([]string, error) {
	type keyed struct {
		name string
		key  string
	}
	seen := map[string]bool{}
	var out []keyed

	add := func(name string, isDir bool) {
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, keyed{name: name, key: sortKey(name, isDir)})
	}

	if dv.treeOK {
		for _, tc := range dv.tree {
			add(tc.name, tc.isDir)
		}
	}
	if dv.stageOK {
		for _, name := range stageChildNames(dv.stage, dirPath) {
			childPath := name
			if dirPath != "" {
				childPath = dirPath + "/" + name
			}
			_, _, isDir := stageChildren(dv.stage, childPath)
			add(name, isDir)
		}
	}
	if dv.workdirOK {
		entries, err := afero.ReadDir(w.opts.WorkdirFS, dv.workdirPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("could not list %s: %w", dv.workdirPath, err)
		}
		for _, e := range entries {
			add(e.Name(), e.IsDir())
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	names := make([]string, len(out))
	for i, k := range out {
		names[i] = k.name
	}
	return names, nil
}

// sortKey returns the byte sequence git compares entries by: the name
// itself, with directory entries treated as if suffixed with '/'.
func sortKey(name string, isDir bool) string {
	if isDir {
		return name + "/"
	}
	return name
}

func findTreeChild(entries []treeChild, name string) (treeChild, bool) {
	for _, e := range entries {
		if e.name == name {
			return e, true
		}
	}
	return treeChild{}, false
}

// stageChildNames returns the distinct immediate basenames of entries
// lying under dirPath ("" meaning the root).
func stageChildNames(entries []gitindex.Entry, dirPath string) []string {
	seen := map[string]bool{}
	var names []string
	for _, e := range entries {
		rel, ok := relativeTo(e.Path, dirPath)
		if !ok {
			continue
		}
		name := firstSegment(rel)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// relativeTo reports whether p lies at or under dirPath, returning the
// portion of p relative to dirPath ("" meaning the root, in which case
// p is returned unchanged).
func relativeTo(p, dirPath string) (rel string, ok bool) {
	if dirPath == "" {
		return p, true
	}
	prefix := dirPath + "/"
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	return p[len(prefix):], true
}

// stageChildren splits entries under this directory into those whose
// path is exactly name (an ordinary entry, or one exact path per
// conflict stage) and those nested under name/ (meaning name is
// itself a directory in the index).
func stageChildren(entries []gitindex.Entry, name string) (exact, sub []gitindex.Entry, isDir bool) {
	prefix := name + "/"
	for _, e := range entries {
		switch {
		case e.Path == name:
			exact = append(exact, e)
		case strings.HasPrefix(e.Path, prefix):
			sub = append(sub, e)
			isDir = true
		}
	}
	return exact, sub, isDir
}

// representativeStageEntry picks the entry a Stage handle should
// surface when a path has conflict stages: "ours" (stage 2) when
// present, matching git's conventional diff/status default, otherwise
// whatever single entry is there.
func representativeStageEntry(entries []gitindex.Entry) gitindex.Entry {
	for _, e := range entries {
		if e.Stage == gitindex.StageOurs {
			return e
		}
	}
	return entries[0]
}

func firstSegment(p string) string {
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}

// treeEntries resolves oid as a tree and converts its entries into the
// walker's flat child representation.
func (w *walker) treeEntries(oid githash.Oid) ([]treeChild, error) {
	obj, err := w.opts.Backend.Object(oid)
	if err != nil {
		return nil, err
	}
	t, err := obj.AsTree()
	if err != nil {
		return nil, err
	}

	entries := t.Entries()
	out := make([]treeChild, len(entries))
	for i, e := range entries {
		out[i] = treeChild{
			name:  e.Path,
			oid:   e.ID,
			mode:  uint32(e.Mode),
			isDir: e.Mode == object.ModeDirectory,
		}
	}
	return out, nil
}
