package repository

import (
	"context"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/centraldogma-project/centraldogma/internal/change"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/objectstore"
	"github.com/centraldogma-project/centraldogma/internal/revision"
)

// applyChange mutates working against one planned Change, returning the
// set of concrete paths it touched (for diffing/notification) or an
// error if the change cannot be applied (spec §3 "Change failure
// modes": EntryNotFound for patches/renames/removes against a missing
// path, RedundantChange for a no-op UPSERT, ChangeConflict for a
// path-type clash).
func (r *Repository) applyChange(ctx context.Context, working *dirNode, c change.Change) ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Kind {
	case change.KindUpsertJSON:
		return r.applyUpsertJSON(ctx, working, c)
	case change.KindUpsertText:
		return r.applyUpsertText(ctx, working, c)
	case change.KindApplyJSONPatch:
		return r.applyJSONPatch(ctx, working, c)
	case change.KindApplyTextPatch:
		return r.applyTextPatch(ctx, working, c)
	case change.KindRename:
		return r.applyRename(ctx, working, c)
	case change.KindRemove:
		return r.applyRemove(ctx, working, c)
	default:
		return nil, dogerrors.New(dogerrors.CodeInvalidArgument, "unknown change kind %q", c.Kind)
	}
}

func (r *Repository) applyUpsertJSON(ctx context.Context, working *dirNode, c change.Change) ([]string, error) {
	if err := r.rejectRedundantBlob(ctx, working, c.Path, c.Content); err != nil {
		return nil, err
	}
	h, err := r.store.InsertBlob(ctx, c.Content)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "insert blob for %s", c.Path)
	}
	if err := working.upsertFile(splitPath(c.Path), h); err != nil {
		return nil, err
	}
	return []string{c.Path}, nil
}

func (r *Repository) applyUpsertText(ctx context.Context, working *dirNode, c change.Change) ([]string, error) {
	text, err := c.TextContent()
	if err != nil {
		return nil, err
	}
	raw := []byte(text)
	if err := r.rejectRedundantBlob(ctx, working, c.Path, raw); err != nil {
		return nil, err
	}
	h, err := r.store.InsertBlob(ctx, raw)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "insert blob for %s", c.Path)
	}
	if err := working.upsertFile(splitPath(c.Path), h); err != nil {
		return nil, err
	}
	return []string{c.Path}, nil
}

// rejectRedundantBlob fails with RedundantChange if path already holds
// exactly newContent, matching spec §3's requirement that a no-op
// UPSERT be rejected rather than silently produce an identical commit.
func (r *Repository) rejectRedundantBlob(ctx context.Context, working *dirNode, path string, newContent []byte) error {
	isDir, existing, found := working.lookup(splitPath(path))
	if !found || isDir {
		return nil
	}
	current, err := r.store.ReadBlob(ctx, existing)
	if err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "read existing blob for %s", path)
	}
	if string(current) == string(newContent) {
		return dogerrors.New(dogerrors.CodeRedundantChange, "%s already has this content", path)
	}
	return nil
}

func (r *Repository) applyJSONPatch(ctx context.Context, working *dirNode, c change.Change) ([]string, error) {
	entry, err := r.entryAt(ctx, working, c.Path)
	if err != nil {
		return nil, err
	}
	if entry.Type != change.EntryJSON {
		return nil, dogerrors.New(dogerrors.CodeInvalidPatch, "%s is not a JSON entry", c.Path)
	}
	patch, err := jsonpatch.DecodePatch(c.Content)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeInvalidPatch, err, "malformed JSON patch for %s", c.Path)
	}
	patched, err := patch.Apply(entry.Content)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeInvalidPatch, err, "apply JSON patch to %s", c.Path)
	}
	if string(patched) == string(entry.Content) {
		return nil, dogerrors.New(dogerrors.CodeRedundantChange, "%s already has this content", c.Path)
	}
	h, err := r.store.InsertBlob(ctx, patched)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "insert blob for %s", c.Path)
	}
	if err := working.upsertFile(splitPath(c.Path), h); err != nil {
		return nil, err
	}
	return []string{c.Path}, nil
}

func (r *Repository) applyTextPatch(ctx context.Context, working *dirNode, c change.Change) ([]string, error) {
	entry, err := r.entryAt(ctx, working, c.Path)
	if err != nil {
		return nil, err
	}
	if entry.Type != change.EntryText {
		return nil, dogerrors.New(dogerrors.CodeInvalidPatch, "%s is not a TEXT entry", c.Path)
	}
	current, err := entry.TextContent()
	if err != nil {
		return nil, err
	}
	patchText, err := c.TextContent()
	if err != nil {
		return nil, err
	}
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeInvalidPatch, err, "malformed unified diff for %s", c.Path)
	}
	patched, applied := dmp.PatchApply(patches, current)
	for _, ok := range applied {
		if !ok {
			return nil, dogerrors.New(dogerrors.CodeInvalidPatch, "patch does not apply cleanly to %s", c.Path)
		}
	}
	if patched == current {
		return nil, dogerrors.New(dogerrors.CodeRedundantChange, "%s already has this content", c.Path)
	}
	h, err := r.store.InsertBlob(ctx, []byte(patched))
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "insert blob for %s", c.Path)
	}
	if err := working.upsertFile(splitPath(c.Path), h); err != nil {
		return nil, err
	}
	return []string{c.Path}, nil
}

func (r *Repository) applyRename(ctx context.Context, working *dirNode, c change.Change) ([]string, error) {
	target, err := c.TargetPath()
	if err != nil {
		return nil, err
	}
	isDir, h, found := working.lookup(splitPath(c.Path))
	if !found {
		return nil, dogerrors.Wrap(dogerrors.CodeEntryNotFound, nil, "%s", c.Path)
	}
	if isDir {
		return nil, dogerrors.New(dogerrors.CodeInvalidArgument, "%s is a directory; RENAME only applies to files", c.Path)
	}
	if _, _, exists := working.lookup(splitPath(target)); exists {
		return nil, dogerrors.New(dogerrors.CodeChangeConflict, "rename target %s already exists", target)
	}
	if !working.removeFile(splitPath(c.Path)) {
		return nil, dogerrors.Wrap(dogerrors.CodeEntryNotFound, nil, "%s", c.Path)
	}
	if err := working.upsertFile(splitPath(target), h); err != nil {
		return nil, err
	}
	return []string{c.Path, target}, nil
}

func (r *Repository) applyRemove(ctx context.Context, working *dirNode, c change.Change) ([]string, error) {
	isDir, _, found := working.lookup(splitPath(c.Path))
	if !found {
		return nil, dogerrors.Wrap(dogerrors.CodeEntryNotFound, nil, "%s", c.Path)
	}
	if isDir {
		if !working.removeSubtree(splitPath(c.Path)) {
			return nil, dogerrors.Wrap(dogerrors.CodeEntryNotFound, nil, "%s", c.Path)
		}
	} else if !working.removeFile(splitPath(c.Path)) {
		return nil, dogerrors.Wrap(dogerrors.CodeEntryNotFound, nil, "%s", c.Path)
	}
	return []string{c.Path}, nil
}

// Commit applies changes atop base (spec §4.2 steps 1-7): normalize
// base, clone HEAD's tree, apply every change in order, reject the
// whole batch if nothing actually changed (unless opts.AllowEmpty),
// then persist the new tree/commit and CAS both the branch ref and the
// per-revision ref before advancing in-memory HEAD and notifying
// watchers.
func (r *Repository) Commit(ctx context.Context, base int64, ts int64, author, committer Signature, summary, detail string, markup change.MarkupKind, changes []change.Change, opts CommitOptions) (*CommitInfo, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.headMu.RLock()
	shuttingDown := r.shuttingDown
	r.headMu.RUnlock()
	if shuttingDown {
		return nil, dogerrors.New(dogerrors.CodeShuttingDown, "repository %s/%s is shutting down", r.Project, r.Name)
	}

	if normBase, err := r.Normalize(revision.Revision(base)); err != nil || normBase.Int64() != r.Head() {
		return nil, dogerrors.New(dogerrors.CodeChangeConflict, "base revision %d is not HEAD (%d)", base, r.Head())
	}

	info, err := r.commitLocked(ctx, r.headTreeHash, ts, author, committer, summary, detail, markup, changes, opts)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// commitLocked performs the actual apply+persist+CAS sequence. Callers
// must hold writeMu (or be constructing a brand-new Repository, which
// has no concurrent access yet).
func (r *Repository) commitLocked(ctx context.Context, baseTreeHash objectstore.Hash, ts int64, author, committer Signature, summary, detail string, markup change.MarkupKind, changes []change.Change, opts CommitOptions) (*CommitInfo, error) {
	working, err := loadDirNode(ctx, r.store, baseTreeHash)
	if err != nil {
		return nil, err
	}
	next := working.clone()

	var touched []string
	for _, c := range changes {
		paths, err := r.applyChange(ctx, next, c)
		if err != nil {
			return nil, err
		}
		touched = append(touched, paths...)
	}

	if !opts.AllowEmpty && working.equalTo(next) {
		return nil, dogerrors.New(dogerrors.CodeRedundantChange, "commit produces no changes")
	}

	newTreeHash, err := next.persist(ctx, r.store)
	if err != nil {
		return nil, err
	}

	nextRevision := r.head + 1
	msg := encodeCommitMessage(summary, detail, markup, nextRevision)
	author.When, committer.When = ts, ts

	commitHash, err := r.store.InsertCommit(ctx, objectstore.CommitBuilder{
		TreeHash:   newTreeHash,
		ParentHash: r.headCommitHash,
		Author:     author,
		Committer:  committer,
		Message:    msg,
	})
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "insert commit")
	}

	if err := r.casRef(ctx, headRefName, commitHash); err != nil {
		return nil, err
	}
	if err := r.casRef(ctx, revisionRefName(nextRevision), commitHash); err != nil {
		return nil, err
	}

	r.headMu.Lock()
	prevHeadTree := r.headTreeHash
	r.head = nextRevision
	r.headTreeHash = newTreeHash
	r.headCommitHash = commitHash
	r.headMu.Unlock()

	if r.notifier != nil {
		r.notifier.Notify(nextRevision, touched)
	}

	return &CommitInfo{
		Revision:       nextRevision,
		Author:         author,
		Committer:      committer,
		Timestamp:      ts,
		Summary:        summary,
		Detail:         detail,
		Markup:         markup,
		TreeHash:       newTreeHash,
		ParentTreeHash: prevHeadTree,
	}, nil
}

// casRef updates ref to point at newCommit, using "must not exist" CAS
// when the ref has never been set (the initial-commit bootstrap case)
// and "must equal current value" CAS otherwise.
func (r *Repository) casRef(ctx context.Context, ref string, newCommit objectstore.Hash) error {
	current, err := r.store.ResolveRef(ctx, ref)
	update := objectstore.RefUpdate{Name: ref, New: newCommit}
	if err == nil {
		update.OldExpected = &current
	}
	if err := r.store.UpdateRef(ctx, update); err != nil {
		return dogerrors.Wrap(dogerrors.CodeRefConflict, err, "update ref %s", ref)
	}
	return nil
}

// PreviewDiff dry-runs changes atop rev without persisting anything,
// returning the effective per-path Change set a real Commit would
// produce (spec §4.2's "preview the diff before committing"). It
// reuses the same applyChange logic against a scratch clone so preview
// semantics can never drift from commit semantics.
func (r *Repository) PreviewDiff(ctx context.Context, rev int64, changes []change.Change) (map[string]change.Change, error) {
	baseTree, _, err := r.resolveTree(ctx, revision.Revision(rev))
	if err != nil {
		return nil, err
	}
	before := baseTree.clone()
	working := baseTree.clone()

	for _, c := range changes {
		if _, err := r.applyChange(ctx, working, c); err != nil {
			return nil, err
		}
	}

	return diffTrees(ctx, r.store, before, working)
}
