package repository

import (
	"context"
	"encoding/json"

	"github.com/centraldogma-project/centraldogma/internal/change"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/objectstore"
	"github.com/centraldogma-project/centraldogma/internal/pattern"
	"github.com/centraldogma-project/centraldogma/internal/revision"
)

// Diff computes the per-path Change set needed to go from the tree at
// fromRev to the tree at toRev, restricted to paths matching
// patternStr (spec §4.2 "diff").
func (r *Repository) Diff(ctx context.Context, fromRev, toRev revision.Revision, patternStr string) (map[string]change.Change, error) {
	m, err := pattern.Compile(patternStr)
	if err != nil {
		return nil, err
	}
	before, _, err := r.resolveTree(ctx, fromRev)
	if err != nil {
		return nil, err
	}
	after, _, err := r.resolveTree(ctx, toRev)
	if err != nil {
		return nil, err
	}
	all, err := diffTrees(ctx, r.store, before, after)
	if err != nil {
		return nil, err
	}
	if patternStr == "/**" {
		return all, nil
	}
	filtered := make(map[string]change.Change, len(all))
	for p, c := range all {
		if m.Match(p) {
			filtered[p] = c
		}
	}
	return filtered, nil
}

// diffTrees compares two fully-loaded working trees and returns the
// Change set that would turn before into after, one entry per touched
// path. A file that was removed from one path and an identical-content
// file added at exactly one other path is reported as a single RENAME
// rather than a REMOVE+UPSERT pair (spec §4.2's diff rename-detection
// note) — this only fires when the match is unambiguous: exactly one
// removed path and one added path share a content hash.
func diffTrees(ctx context.Context, store objectstore.Store, before, after *dirNode) (map[string]change.Change, error) {
	beforeFiles := map[string]objectstore.Hash{}
	before.walk("/", func(p string, h objectstore.Hash) { beforeFiles[p] = h })
	afterFiles := map[string]objectstore.Hash{}
	after.walk("/", func(p string, h objectstore.Hash) { afterFiles[p] = h })

	removed := map[string]objectstore.Hash{}
	added := map[string]objectstore.Hash{}
	result := make(map[string]change.Change)

	for p, h := range beforeFiles {
		if ah, ok := afterFiles[p]; !ok {
			removed[p] = h
		} else if ah != h {
			c, err := upsertChangeFor(ctx, store, p, ah)
			if err != nil {
				return nil, err
			}
			result[p] = c
		}
	}
	for p, h := range afterFiles {
		if _, ok := beforeFiles[p]; !ok {
			added[p] = h
		}
	}

	renames := detectRename(removed, added)
	for from, to := range renames {
		content, err := json.Marshal(to)
		if err != nil {
			return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "encode rename target for %s", from)
		}
		result[from] = change.Change{Kind: change.KindRename, Path: from, Content: content}
		delete(removed, from)
		delete(added, to)
	}

	for p := range removed {
		result[p] = change.Change{Kind: change.KindRemove, Path: p}
	}
	for p, h := range added {
		c, err := upsertChangeFor(ctx, store, p, h)
		if err != nil {
			return nil, err
		}
		result[p] = c
	}
	return result, nil
}

// detectRename pairs up removed/added paths that share a content hash,
// but only when the pairing is unambiguous (exactly one remove and one
// add share that hash); ambiguous multi-way matches are left as plain
// REMOVE+UPSERT pairs rather than guessing.
func detectRename(removed, added map[string]objectstore.Hash) map[string]string {
	byHashRemoved := map[objectstore.Hash][]string{}
	for p, h := range removed {
		byHashRemoved[h] = append(byHashRemoved[h], p)
	}
	byHashAdded := map[objectstore.Hash][]string{}
	for p, h := range added {
		byHashAdded[h] = append(byHashAdded[h], p)
	}

	fromTo := map[string]string{}
	for h, froms := range byHashRemoved {
		tos, ok := byHashAdded[h]
		if !ok || len(froms) != 1 || len(tos) != 1 {
			continue
		}
		fromTo[froms[0]] = tos[0]
	}
	return fromTo
}

func upsertChangeFor(ctx context.Context, store objectstore.Store, p string, h objectstore.Hash) (change.Change, error) {
	data, err := store.ReadBlob(ctx, h)
	if err != nil {
		return change.Change{}, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "read blob for %s", p)
	}
	if entryTypeForPath(p) == change.EntryJSON {
		return change.Change{Kind: change.KindUpsertJSON, Path: p, Content: data}, nil
	}
	entry, err := change.NewTextEntry(p, string(data))
	if err != nil {
		return change.Change{}, err
	}
	return change.Change{Kind: change.KindUpsertText, Path: p, Content: entry.Content}, nil
}

// History walks commits from fromRev to toRev (ascending, inclusive),
// returning each one whose tree diff against its predecessor touches a
// path matching patternStr. The initial commit (no parent) is compared
// against an empty tree.
func (r *Repository) History(ctx context.Context, fromRev, toRev revision.Revision, patternStr string, maxCommits int) ([]CommitInfo, error) {
	m, err := pattern.Compile(patternStr)
	if err != nil {
		return nil, err
	}
	lo, hi, err := revision.Range(fromRev, toRev, r.Head())
	if err != nil {
		return nil, err
	}

	var out []CommitInfo
	for rev := lo.Int64(); rev <= hi.Int64(); rev++ {
		if maxCommits > 0 && len(out) >= maxCommits {
			break
		}
		commitHash, err := r.store.ResolveRef(ctx, revisionRefName(rev))
		if err != nil {
			return nil, dogerrors.Wrap(dogerrors.CodeRevisionNotFound, err, "revision %d has no ref", rev)
		}
		commit, err := r.store.ReadCommit(ctx, commitHash)
		if err != nil {
			return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "read commit %d", rev)
		}

		var parentTree *dirNode
		if commit.ParentHash.IsZero() {
			parentTree = newDirNode()
		} else {
			parentCommit, err := r.store.ReadCommit(ctx, commit.ParentHash)
			if err != nil {
				return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "read parent commit of revision %d", rev)
			}
			parentTree, err = loadDirNode(ctx, r.store, parentCommit.TreeHash)
			if err != nil {
				return nil, err
			}
		}
		curTree, err := loadDirNode(ctx, r.store, commit.TreeHash)
		if err != nil {
			return nil, err
		}

		touches, err := treeTouchesPattern(parentTree, curTree, m)
		if err != nil {
			return nil, err
		}
		if !touches {
			continue
		}

		msg := decodeCommitMessage(commit.Message, rev)
		out = append(out, CommitInfo{
			Revision:  rev,
			Author:    commit.Author,
			Committer: commit.Committer,
			Timestamp: commit.Committer.When,
			Summary:   msg.Summary,
			Detail:    msg.Detail,
			Markup:    msg.Markup,
			TreeHash:  commit.TreeHash,
		})
	}
	return out, nil
}

func treeTouchesPattern(before, after *dirNode, m *pattern.Matcher) (bool, error) {
	beforeFiles := map[string]objectstore.Hash{}
	before.walk("/", func(p string, h objectstore.Hash) { beforeFiles[p] = h })
	afterFiles := map[string]objectstore.Hash{}
	after.walk("/", func(p string, h objectstore.Hash) { afterFiles[p] = h })

	for p, h := range beforeFiles {
		if ah, ok := afterFiles[p]; !ok || ah != h {
			if m.Match(p) {
				return true, nil
			}
		}
	}
	for p := range afterFiles {
		if _, ok := beforeFiles[p]; !ok {
			if m.Match(p) {
				return true, nil
			}
		}
	}
	return false, nil
}
