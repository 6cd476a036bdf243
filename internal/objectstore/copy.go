package objectstore

import "context"

// CopyAll copies every object reachable from src's refs, plus the refs
// themselves, into dst. It is the backend-agnostic engine behind
// MigrateToEncryptedRepository (spec §4.1 "an encrypted backend wraps
// every object... but does NOT change object identity or content
// bytes"): since both GitStore and EncryptedStore compute Hash the same
// way (content hash of the object's type+size+payload encoding), a
// blob/tree/commit copied into dst keeps the exact Hash it had in src.
//
// dst is assumed empty; refs are created with UpdateRef's "NEW" form
// (OldExpected nil). Objects already visited (by hash) are not
// re-inserted, since Insert* is itself idempotent on content but a
// second remote round-trip is wasted work for a migration that may
// touch many refs sharing the same history.
func CopyAll(ctx context.Context, src, dst Store) error {
	seenBlobs := make(map[Hash]bool)
	seenTrees := make(map[Hash]bool)
	seenCommits := make(map[Hash]bool)

	refs, err := src.ListRefs(ctx, "")
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := copyCommitChain(ctx, src, dst, ref.Hash, seenCommits, seenTrees, seenBlobs); err != nil {
			return err
		}
		if err := dst.UpdateRef(ctx, RefUpdate{Name: ref.Name, New: ref.Hash}); err != nil {
			return err
		}
	}
	return nil
}

func copyCommitChain(ctx context.Context, src, dst Store, h Hash, seenCommits, seenTrees, seenBlobs map[Hash]bool) error {
	for !h.IsZero() && !seenCommits[h] {
		c, err := src.ReadCommit(ctx, h)
		if err != nil {
			return err
		}
		if err := copyTree(ctx, src, dst, c.TreeHash, seenTrees, seenBlobs); err != nil {
			return err
		}
		if _, err := dst.InsertCommit(ctx, CommitBuilder{
			TreeHash:   c.TreeHash,
			ParentHash: c.ParentHash,
			Author:     c.Author,
			Committer:  c.Committer,
			Message:    c.Message,
		}); err != nil {
			return err
		}
		seenCommits[h] = true
		h = c.ParentHash
	}
	return nil
}

func copyTree(ctx context.Context, src, dst Store, h Hash, seenTrees, seenBlobs map[Hash]bool) error {
	if seenTrees[h] {
		return nil
	}
	entries, err := src.ReadTree(ctx, h)
	if err != nil {
		return err
	}
	for _, e := range entries {
		switch e.Mode {
		case DirMode:
			if err := copyTree(ctx, src, dst, e.Hash, seenTrees, seenBlobs); err != nil {
				return err
			}
		case FileMode:
			if !seenBlobs[e.Hash] {
				data, err := src.ReadBlob(ctx, e.Hash)
				if err != nil {
					return err
				}
				if _, err := dst.InsertBlob(ctx, data); err != nil {
					return err
				}
				seenBlobs[e.Hash] = true
			}
		}
	}
	if _, err := dst.InsertTree(ctx, entries); err != nil {
		return err
	}
	seenTrees[h] = true
	return nil
}
