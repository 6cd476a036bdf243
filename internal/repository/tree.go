package repository

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/objectstore"
)

// dirNode is an in-memory mirror of one directory's worth of tree
// entries, recursively expanded. Repositories hold small JSON/text
// configuration trees (spec §1 non-goals exclude large-blob storage),
// so loading a whole working tree into memory per commit attempt is
// the straightforward and idiomatic choice here, not an optimization
// shortcut.
type dirNode struct {
	files map[string]objectstore.Hash
	dirs  map[string]*dirNode
}

func newDirNode() *dirNode {
	return &dirNode{files: map[string]objectstore.Hash{}, dirs: map[string]*dirNode{}}
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// loadDirNode recursively reads the tree rooted at hash into memory.
// A zero hash is treated as an empty tree (used for the initial
// commit, whose parent tree does not exist).
func loadDirNode(ctx context.Context, store objectstore.Store, hash objectstore.Hash) (*dirNode, error) {
	n := newDirNode()
	if hash.IsZero() {
		return n, nil
	}
	entries, err := store.ReadTree(ctx, hash)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "read tree %s", hash)
	}
	for _, e := range entries {
		if e.Mode == objectstore.DirMode {
			child, err := loadDirNode(ctx, store, e.Hash)
			if err != nil {
				return nil, err
			}
			n.dirs[e.Name] = child
		} else {
			n.files[e.Name] = e.Hash
		}
	}
	return n, nil
}

// clone deep-copies n so previewDiff and commit can mutate a working
// copy without corrupting the tree another in-flight reader is
// walking.
func (n *dirNode) clone() *dirNode {
	c := newDirNode()
	for name, h := range n.files {
		c.files[name] = h
	}
	for name, d := range n.dirs {
		c.dirs[name] = d.clone()
	}
	return c
}

// persist recursively builds and inserts Tree objects bottom-up,
// returning the hash of n itself.
func (n *dirNode) persist(ctx context.Context, store objectstore.Store) (objectstore.Hash, error) {
	entries := make([]objectstore.TreeEntry, 0, len(n.files)+len(n.dirs))
	for name, h := range n.files {
		entries = append(entries, objectstore.TreeEntry{Name: name, Mode: objectstore.FileMode, Hash: h})
	}
	for name, d := range n.dirs {
		h, err := d.persist(ctx, store)
		if err != nil {
			return objectstore.Hash{}, err
		}
		entries = append(entries, objectstore.TreeEntry{Name: name, Mode: objectstore.DirMode, Hash: h})
	}
	return store.InsertTree(ctx, entries)
}

// lookup resolves segments under n, reporting whether it names a file
// (with its blob hash), a directory, or nothing.
func (n *dirNode) lookup(segments []string) (isDir bool, blobHash objectstore.Hash, found bool) {
	if len(segments) == 0 {
		return true, objectstore.Hash{}, true
	}
	head, rest := segments[0], segments[1:]
	if len(rest) == 0 {
		if h, ok := n.files[head]; ok {
			return false, h, true
		}
		if d, ok := n.dirs[head]; ok {
			_ = d
			return true, objectstore.Hash{}, true
		}
		return false, objectstore.Hash{}, false
	}
	d, ok := n.dirs[head]
	if !ok {
		return false, objectstore.Hash{}, false
	}
	return d.lookup(rest)
}

// upsertFile creates or replaces the file at segments, creating
// intermediate directories as needed. It fails if any intermediate
// segment already names a file (can't descend through a file).
func (n *dirNode) upsertFile(segments []string, blobHash objectstore.Hash) error {
	if len(segments) == 0 {
		return dogerrors.New(dogerrors.CodeInvalidPath, "empty path")
	}
	head, rest := segments[0], segments[1:]
	if len(rest) == 0 {
		if _, isDir := n.dirs[head]; isDir {
			return dogerrors.New(dogerrors.CodeChangeConflict, "%q is a directory", head)
		}
		n.files[head] = blobHash
		return nil
	}
	if _, isFile := n.files[head]; isFile {
		return dogerrors.New(dogerrors.CodeChangeConflict, "%q is a file, not a directory", head)
	}
	d, ok := n.dirs[head]
	if !ok {
		d = newDirNode()
		n.dirs[head] = d
	}
	if err := d.upsertFile(rest, blobHash); err != nil {
		return err
	}
	if len(d.files) == 0 && len(d.dirs) == 0 {
		delete(n.dirs, head)
	}
	return nil
}

// removeFile deletes the file at segments, reporting whether it was
// present.
func (n *dirNode) removeFile(segments []string) bool {
	if len(segments) == 0 {
		return false
	}
	head, rest := segments[0], segments[1:]
	if len(rest) == 0 {
		if _, ok := n.files[head]; ok {
			delete(n.files, head)
			return true
		}
		return false
	}
	d, ok := n.dirs[head]
	if !ok {
		return false
	}
	removed := d.removeFile(rest)
	if removed && len(d.files) == 0 && len(d.dirs) == 0 {
		delete(n.dirs, head)
	}
	return removed
}

// removeSubtree deletes the directory at segments (recursively),
// reporting whether it was present.
func (n *dirNode) removeSubtree(segments []string) bool {
	if len(segments) == 0 {
		return false
	}
	head, rest := segments[0], segments[1:]
	if len(rest) == 0 {
		if _, ok := n.dirs[head]; ok {
			delete(n.dirs, head)
			return true
		}
		return false
	}
	d, ok := n.dirs[head]
	if !ok {
		return false
	}
	removed := d.removeSubtree(rest)
	if removed && len(d.files) == 0 && len(d.dirs) == 0 {
		delete(n.dirs, head)
	}
	return removed
}

// walk visits every file under n depth-first, each directory's names in
// sorted order,
// yielding the full path (rooted at "/") and its blob hash.
func (n *dirNode) walk(prefix string, fn func(path string, blobHash objectstore.Hash)) {
	names := make([]string, 0, len(n.files)+len(n.dirs))
	for name := range n.files {
		names = append(names, name)
	}
	for name := range n.dirs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		full := path.Join(prefix, name)
		if h, ok := n.files[name]; ok {
			fn(full, h)
			continue
		}
		n.dirs[name].walk(full, fn)
	}
}

// equalTo reports whether n and other contain identical files (by
// blob hash) at identical paths — used to detect a redundant (no-op)
// commit without needing both sides' tree hashes computed ahead of
// time.
func (n *dirNode) equalTo(other *dirNode) bool {
	a := map[string]objectstore.Hash{}
	n.walk("/", func(p string, h objectstore.Hash) { a[p] = h })
	b := map[string]objectstore.Hash{}
	other.walk("/", func(p string, h objectstore.Hash) { b[p] = h })
	if len(a) != len(b) {
		return false
	}
	for p, h := range a {
		if b[p] != h {
			return false
		}
	}
	return true
}
