// Package repository implements the commit engine from spec §4.2: the
// single linear history of one repository, built on top of
// internal/objectstore, internal/query and internal/watch.
//
// Grounded on spec.md §4.2 directly for algorithm shape; the "build the
// whole mutation set, then one atomic insert+ref-CAS" idiom is modeled
// on the teacher's internal/storage/sqlite/batch_ops.go batched-write
// pattern, and conflict classification echoes the shape of the
// teacher's internal/merge/merge.go base/left/right comparison.
package repository

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/centraldogma-project/centraldogma/internal/change"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/logging"
	"github.com/centraldogma-project/centraldogma/internal/objectstore"
	"github.com/centraldogma-project/centraldogma/internal/pattern"
	"github.com/centraldogma-project/centraldogma/internal/query"
	"github.com/centraldogma-project/centraldogma/internal/revision"
	"github.com/centraldogma-project/centraldogma/internal/watch"
)

const headRefName = "refs/heads/master"

func revisionRefName(major int64) string {
	return fmt.Sprintf("refs/revisions/%02x/%d", major&0xff, major)
}

// Signature identifies a commit's author or committer.
type Signature = objectstore.Signature

// CommitInfo is a decoded, read-only view of one commit in the
// repository's history.
type CommitInfo struct {
	Revision       int64
	Author         Signature
	Committer      Signature
	Timestamp      int64 // whole seconds, per spec §3
	Summary        string
	Detail         string
	Markup         change.MarkupKind
	TreeHash       objectstore.Hash
	ParentTreeHash objectstore.Hash
}

// FindOptions controls find()'s result shape.
type FindOptions struct {
	FetchContent bool // if false, entries are returned with Content unset
	MaxEntries   int  // 0 means unlimited
}

// FindResult is one matched entry from find(), paired with its path so
// callers get an ordered list rather than an unordered map.
type FindResult struct {
	Path  string
	Entry change.Entry
}

// CommitOptions customizes commit()'s no-op rejection; AllowEmpty is
// used only by repository creation (spec §4.2 step 4's carve-out).
type CommitOptions struct {
	AllowEmpty bool
}

// Repository is one project's named, linearly-versioned history.
type Repository struct {
	Project string
	Name    string

	store    objectstore.Store
	notifier *watch.Notifier
	log      logging.Logger

	writeMu sync.Mutex // spec §4.2: per-repository, non-reentrant write lock

	headMu         sync.RWMutex
	head           int64
	headTreeHash   objectstore.Hash
	headCommitHash objectstore.Hash

	shuttingDown bool
}

// CreateRepository creates a new, empty repository: an initial commit
// with an empty tree and the fixed summary spec §3 mandates.
func CreateRepository(ctx context.Context, store objectstore.Store, project, name string, ts int64, author Signature) (*Repository, error) {
	r := &Repository{
		Project:  project,
		Name:     name,
		store:    store,
		notifier: watch.NewNotifier(0),
		log:      logging.WithRepo(logging.For("repository"), project, name),
	}
	_, err := r.commitLocked(ctx, objectstore.Hash{}, ts, author, author, "Create a new repository", "", change.MarkupPlaintext, nil, CommitOptions{AllowEmpty: true})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// OpenRepository opens a repository whose refs already exist in store.
func OpenRepository(ctx context.Context, store objectstore.Store, project, name string) (*Repository, error) {
	r := &Repository{
		Project: project,
		Name:    name,
		store:   store,
		log:     logging.WithRepo(logging.For("repository"), project, name),
	}
	commitHash, err := store.ResolveRef(ctx, headRefName)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeRepositoryNotFound, err, "resolve HEAD of %s/%s", project, name)
	}
	commit, err := store.ReadCommit(ctx, commitHash)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "read HEAD commit of %s/%s", project, name)
	}
	msg := decodeCommitMessage(commit.Message, 0)
	r.head = msg.Revision
	r.headTreeHash = commit.TreeHash
	r.headCommitHash = commitHash
	r.notifier = watch.NewNotifier(msg.Revision)
	return r, nil
}

// Head returns the repository's current HEAD revision.
func (r *Repository) Head() int64 {
	r.headMu.RLock()
	defer r.headMu.RUnlock()
	return r.head
}

// Normalize resolves rev against HEAD.
func (r *Repository) Normalize(rev revision.Revision) (revision.Revision, error) {
	return revision.Normalize(rev, r.Head())
}

func (r *Repository) resolveTree(ctx context.Context, rev revision.Revision) (*dirNode, int64, error) {
	abs, err := r.Normalize(rev)
	if err != nil {
		return nil, 0, err
	}
	treeHash, err := r.treeHashAt(ctx, abs)
	if err != nil {
		return nil, 0, err
	}
	tree, err := loadDirNode(ctx, r.store, treeHash)
	if err != nil {
		return nil, 0, err
	}
	return tree, abs.Int64(), nil
}

// treeHashAt resolves the tree hash for an already-normalized absolute
// revision, using the cheap HEAD cache when possible.
func (r *Repository) treeHashAt(ctx context.Context, abs revision.Revision) (objectstore.Hash, error) {
	r.headMu.RLock()
	if abs.Int64() == r.head {
		h := r.headTreeHash
		r.headMu.RUnlock()
		return h, nil
	}
	r.headMu.RUnlock()

	commitHash, err := r.store.ResolveRef(ctx, revisionRefName(abs.Int64()))
	if err != nil {
		return objectstore.Hash{}, dogerrors.Wrap(dogerrors.CodeRevisionNotFound, err, "revision %d has no ref", abs.Int64())
	}
	commit, err := r.store.ReadCommit(ctx, commitHash)
	if err != nil {
		return objectstore.Hash{}, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "read commit for revision %d", abs.Int64())
	}
	return commit.TreeHash, nil
}

// Exists reports whether path names any entry at rev.
func (r *Repository) Exists(ctx context.Context, rev revision.Revision, path string) (bool, error) {
	tree, _, err := r.resolveTree(ctx, rev)
	if err != nil {
		return false, err
	}
	_, _, found := tree.lookup(splitPath(path))
	return found, nil
}

// Get fetches the entry at path.
func (r *Repository) Get(ctx context.Context, rev revision.Revision, path string) (change.Entry, error) {
	if err := change.ValidatePath(path); err != nil {
		return change.Entry{}, err
	}
	tree, _, err := r.resolveTree(ctx, rev)
	if err != nil {
		return change.Entry{}, err
	}
	return r.entryAt(ctx, tree, path)
}

func (r *Repository) entryAt(ctx context.Context, tree *dirNode, path string) (change.Entry, error) {
	isDir, blobHash, found := tree.lookup(splitPath(path))
	if !found {
		return change.Entry{}, dogerrors.Wrap(dogerrors.CodeEntryNotFound, nil, "%s", path)
	}
	if isDir {
		return change.NewDirectoryEntry(path)
	}
	data, err := r.store.ReadBlob(ctx, blobHash)
	if err != nil {
		return change.Entry{}, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "read blob for %s", path)
	}
	if entryTypeForPath(path) == change.EntryJSON {
		return change.NewJSONEntry(path, data)
	}
	return change.NewTextEntry(path, string(data))
}

// GetQuery evaluates q at rev.
func (r *Repository) GetQuery(ctx context.Context, rev revision.Revision, q query.Query) (change.Entry, error) {
	tree, _, err := r.resolveTree(ctx, rev)
	if err != nil {
		return change.Entry{}, err
	}
	lookup := func(path string) (change.Entry, error) { return r.entryAt(ctx, tree, path) }
	result, err := query.Eval(q, lookup)
	if err != nil {
		return change.Entry{}, err
	}
	return change.NewJSONEntry(queryResultPath(q), result)
}

func queryResultPath(q query.Query) string {
	if q.Path != "" {
		return q.Path
	}
	return "/query-result.json"
}

// Find walks the tree at rev, returning every entry whose path matches
// pattern, depth-first with each directory's names in sorted order (a
// directory's contents follow the directory itself).
func (r *Repository) Find(ctx context.Context, rev revision.Revision, patternStr string, opts FindOptions) ([]FindResult, error) {
	m, err := pattern.Compile(patternStr)
	if err != nil {
		return nil, err
	}
	tree, _, err := r.resolveTree(ctx, rev)
	if err != nil {
		return nil, err
	}

	var out []FindResult
	var walkErr error
	visitDir(tree, "/", m, func(p string, isDir bool, blobHash objectstore.Hash) {
		if walkErr != nil || (opts.MaxEntries > 0 && len(out) >= opts.MaxEntries) {
			return
		}
		var e change.Entry
		if isDir {
			e, walkErr = change.NewDirectoryEntry(p)
		} else if opts.FetchContent {
			e, walkErr = r.entryAt(ctx, tree, p)
		} else {
			e = change.Entry{Path: p, Type: entryTypeForPath(p)}
		}
		if walkErr == nil {
			out = append(out, FindResult{Path: p, Entry: e})
		}
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

// visitDir walks every file and directory under n (full paths rooted
// at prefix), invoking fn for each whose path matches m. A directory
// is reported itself (as spec §4.2 "find" requires) when the pattern
// matches the directory path directly.
func visitDir(n *dirNode, prefix string, m *pattern.Matcher, fn func(path string, isDir bool, blobHash objectstore.Hash)) {
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
			if m.Match(full) {
				fn(full, false, h)
			}
			continue
		}
		d := n.dirs[name]
		if m.Match(full) {
			fn(full, true, objectstore.Hash{})
		}
		visitDir(d, full, m, fn)
	}
}

// entryTypeForPath classifies a stored blob by file extension: ".json"
// files are JSON entries, everything else is TEXT. This mirrors the
// real upstream Central Dogma client's own extension-based typing, and
// lets the object store stay ignorant of entry type — only the path
// carries that information, so a tree diff never needs type metadata
// alongside the blob hash.
func entryTypeForPath(path string) change.EntryType {
	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		return change.EntryJSON
	}
	return change.EntryText
}

// Busy reports whether the repository currently has an in-flight
// commit (the write lock is held) or any registered long-poll
// watchers — the two conditions a purge must wait out before it is
// safe to delete the on-disk store out from under them.
func (r *Repository) Busy() bool {
	if !r.writeMu.TryLock() {
		return true
	}
	r.writeMu.Unlock()
	return r.notifier.WaiterCount() > 0
}

// Shutdown completes all outstanding watchers with ShuttingDown and
// marks the repository closed for further mutation (spec §3
// "Watchers are weak references: removing a repository cancels
// outstanding watchers with a domain-specific failure").
func (r *Repository) Shutdown() {
	r.headMu.Lock()
	r.shuttingDown = true
	r.headMu.Unlock()
	r.notifier.Notify(r.Head(), []string{"/**"})
}
