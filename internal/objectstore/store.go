// Package objectstore implements the append-only content-addressed
// object store from spec §4.1: blobs/trees/commits keyed by content
// hash, plus a small set of mutable, CAS-updated references.
//
// Two implementations satisfy Store: GitStore (the reference Git
// on-disk format, backed by github.com/go-git/go-git/v5) and
// EncryptedStore (an encrypted key-value alternative backend, spec
// §4.1's "optional encrypted backend").
package objectstore

import (
	"context"
	"encoding/hex"
)

// Hash identifies an object by the SHA-1 content hash of its
// (type, size, payload) encoding — the same identity rule Git itself
// uses, so the GitStore implementation's hashes line up byte-for-byte
// with what `git cat-file` would report.
type Hash [20]byte

// ZeroHash is the hash of no object; used as a sentinel "does not
// exist yet" value for ref CAS.
var ZeroHash Hash

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == ZeroHash }

// HashFromHex parses a hex-encoded hash string.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return Hash{}, errInvalidHash(s)
	}
	copy(h[:], b)
	return h, nil
}

// ObjectType discriminates the three object kinds the store persists.
type ObjectType int

const (
	BlobObject ObjectType = iota
	TreeObject
	CommitObject
)

// EntryMode discriminates a TreeEntry's kind: a regular file (blob) or
// a subdirectory (tree).
type EntryMode int

const (
	FileMode EntryMode = iota
	DirMode
)

// TreeEntry is one child of a Tree object: a name plus the hash of the
// blob (file) or tree (subdirectory) it points to.
type TreeEntry struct {
	Name string
	Mode EntryMode
	Hash Hash
}

// Signature is an (name, email, time) tuple used for commit
// author/committer fields.
type Signature struct {
	Name  string
	Email string
	When  int64 // unix seconds, truncated to whole seconds per spec §3
}

// CommitBuilder carries the fields needed to construct a new commit
// object; TreeHash and ParentHash must reference objects already
// present in the store.
type CommitBuilder struct {
	TreeHash    Hash
	ParentHash  Hash // ZeroHash for the initial commit (no parent)
	Author      Signature
	Committer   Signature
	Message     string
}

// Commit is a decoded commit object.
type Commit struct {
	Hash       Hash
	TreeHash   Hash
	ParentHash Hash // ZeroHash if this is the initial commit
	Author     Signature
	Committer  Signature
	Message    string
}

// RefUpdate describes a compare-and-set on a named reference. If
// OldExpected is nil, the ref must not already exist ("NEW" in spec
// §4.1's table); otherwise the ref's current value must equal
// *OldExpected or the update fails with RefConflict.
type RefUpdate struct {
	Name        string
	New         Hash
	OldExpected *Hash
}

// Ref is a named pointer to an object (almost always a commit).
type Ref struct {
	Name string
	Hash Hash
}

// Store is the object-store contract from spec §4.1.
type Store interface {
	// InsertBlob/InsertTree/InsertCommit are idempotent on content:
	// inserting the same bytes twice returns the same Hash without
	// error.
	InsertBlob(ctx context.Context, data []byte) (Hash, error)
	InsertTree(ctx context.Context, entries []TreeEntry) (Hash, error)
	InsertCommit(ctx context.Context, c CommitBuilder) (Hash, error)

	ReadBlob(ctx context.Context, h Hash) ([]byte, error)
	ReadTree(ctx context.Context, h Hash) ([]TreeEntry, error)
	ReadCommit(ctx context.Context, h Hash) (*Commit, error)

	// UpdateRef performs an atomic, durable compare-and-set. The update
	// must be durable before this call returns successfully (spec
	// §4.1's "atomic and durable" contract); any objects named by
	// update.New must already have been flushed.
	UpdateRef(ctx context.Context, update RefUpdate) error
	ResolveRef(ctx context.Context, name string) (Hash, error)
	ListRefs(ctx context.Context, prefix string) ([]Ref, error)
	RenameRef(ctx context.Context, oldName, newName string) error
	DeleteRef(ctx context.Context, name string) error

	// Close releases any underlying file handles.
	Close() error
}
