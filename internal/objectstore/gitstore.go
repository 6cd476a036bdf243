package objectstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// GitStore is the canonical Store implementation: it persists objects
// and references in the real Git on-disk format via go-git, so the
// resulting repository directory is readable by `git` itself and by
// mirroring tooling (spec §6's "mandatory for interop" reference
// layout).
type GitStore struct {
	storage *filesystem.Storage
}

// NewGitStore opens (creating if absent) a bare Git object database
// rooted at dir.
func NewGitStore(dir string) (*GitStore, error) {
	fs := osfs.New(dir)
	storage := filesystem.NewStorage(fs, cache.NewObjectLRUDefault())
	return &GitStore{storage: storage}, nil
}

func (s *GitStore) Close() error { return nil }

func (s *GitStore) InsertBlob(_ context.Context, data []byte) (Hash, error) {
	obj := s.storage.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return Hash{}, wrapStorageErr(err, "open blob writer")
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return Hash{}, wrapStorageErr(err, "write blob content")
	}
	if err := w.Close(); err != nil {
		return Hash{}, wrapStorageErr(err, "close blob writer")
	}
	h, err := s.storage.SetEncodedObject(obj)
	if err != nil {
		return Hash{}, wrapStorageErr(err, "persist blob")
	}
	return Hash(h), nil
}

func (s *GitStore) ReadBlob(_ context.Context, h Hash) ([]byte, error) {
	encoded, err := s.storage.EncodedObject(plumbing.BlobObject, plumbing.Hash(h))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, ErrObjectNotFound
		}
		return nil, wrapStorageErr(err, "read blob %s", h)
	}
	blob, err := object.DecodeBlob(encoded)
	if err != nil {
		return nil, wrapStorageErr(err, "decode blob %s", h)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, wrapStorageErr(err, "open blob reader %s", h)
	}
	defer r.Close()
	buf := make([]byte, 0, blob.Size)
	tmp := make([]byte, 32*1024)
	for {
		n, rerr := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	return buf, nil
}

// treeSortKey reproduces Git's canonical tree-entry ordering: entries
// are compared as raw names, except directories are compared as if
// their name had a trailing "/" — this is why a file "foo" sorts before
// "foo.txt" but a directory "foo" (compared as "foo/") sorts after it; without this
// rule the tree hash would not match what real `git` would produce for
// the same content.
func treeSortKey(e TreeEntry) string {
	if e.Mode == DirMode {
		return e.Name + "/"
	}
	return e.Name
}

func (s *GitStore) InsertTree(_ context.Context, entries []TreeEntry) (Hash, error) {
	sorted := append([]TreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return treeSortKey(sorted[i]) < treeSortKey(sorted[j]) })

	tree := &object.Tree{Entries: make([]object.TreeEntry, 0, len(sorted))}
	for _, e := range sorted {
		mode := filemode.Regular
		if e.Mode == DirMode {
			mode = filemode.Dir
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: e.Name,
			Mode: mode,
			Hash: plumbing.Hash(e.Hash),
		})
	}
	obj := s.storage.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return Hash{}, wrapStorageErr(err, "encode tree")
	}
	h, err := s.storage.SetEncodedObject(obj)
	if err != nil {
		return Hash{}, wrapStorageErr(err, "persist tree")
	}
	return Hash(h), nil
}

func (s *GitStore) ReadTree(_ context.Context, h Hash) ([]TreeEntry, error) {
	encoded, err := s.storage.EncodedObject(plumbing.TreeObject, plumbing.Hash(h))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, ErrObjectNotFound
		}
		return nil, wrapStorageErr(err, "read tree %s", h)
	}
	tree, err := object.DecodeTree(s.storage, encoded)
	if err != nil {
		return nil, wrapStorageErr(err, "decode tree %s", h)
	}
	out := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		mode := FileMode
		if e.Mode == filemode.Dir {
			mode = DirMode
		}
		out = append(out, TreeEntry{Name: e.Name, Mode: mode, Hash: Hash(e.Hash)})
	}
	return out, nil
}

func (s *GitStore) InsertCommit(_ context.Context, c CommitBuilder) (Hash, error) {
	commit := &object.Commit{
		Author:    toSignature(c.Author),
		Committer: toSignature(c.Committer),
		Message:   c.Message,
		TreeHash:  plumbing.Hash(c.TreeHash),
	}
	if !c.ParentHash.IsZero() {
		commit.ParentHashes = []plumbing.Hash{plumbing.Hash(c.ParentHash)}
	}
	obj := s.storage.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return Hash{}, wrapStorageErr(err, "encode commit")
	}
	h, err := s.storage.SetEncodedObject(obj)
	if err != nil {
		return Hash{}, wrapStorageErr(err, "persist commit")
	}
	return Hash(h), nil
}

func (s *GitStore) ReadCommit(_ context.Context, h Hash) (*Commit, error) {
	encoded, err := s.storage.EncodedObject(plumbing.CommitObject, plumbing.Hash(h))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, ErrObjectNotFound
		}
		return nil, wrapStorageErr(err, "read commit %s", h)
	}
	commit, err := object.DecodeCommit(s.storage, encoded)
	if err != nil {
		return nil, wrapStorageErr(err, "decode commit %s", h)
	}
	out := &Commit{
		Hash:      h,
		TreeHash:  Hash(commit.TreeHash),
		Author:    fromSignature(commit.Author),
		Committer: fromSignature(commit.Committer),
		Message:   commit.Message,
	}
	if len(commit.ParentHashes) > 0 {
		out.ParentHash = Hash(commit.ParentHashes[0])
	}
	return out, nil
}

func toSignature(s Signature) object.Signature {
	return object.Signature{Name: s.Name, Email: s.Email, When: time.Unix(s.When, 0).UTC()}
}

func fromSignature(s object.Signature) Signature {
	return Signature{Name: s.Name, Email: s.Email, When: s.When.Unix()}
}

func (s *GitStore) UpdateRef(_ context.Context, u RefUpdate) error {
	name := plumbing.ReferenceName(u.Name)
	newRef := plumbing.NewHashReference(name, plumbing.Hash(u.New))

	if u.OldExpected == nil {
		if _, err := s.storage.Reference(name); err == nil {
			return fmt.Errorf("%w: ref %s already exists", ErrRefConflict, u.Name)
		} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return wrapStorageErr(err, "read ref %s", u.Name)
		}
		if err := s.storage.SetReference(newRef); err != nil {
			return wrapStorageErr(err, "create ref %s", u.Name)
		}
		return nil
	}

	oldRef := plumbing.NewHashReference(name, plumbing.Hash(*u.OldExpected))
	if err := s.storage.CheckAndSetReference(newRef, oldRef); err != nil {
		return fmt.Errorf("%w: ref %s: %v", ErrRefConflict, u.Name, err)
	}
	return nil
}

func (s *GitStore) ResolveRef(_ context.Context, name string) (Hash, error) {
	ref, err := s.storage.Reference(plumbing.ReferenceName(name))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return Hash{}, ErrObjectNotFound
		}
		return Hash{}, wrapStorageErr(err, "resolve ref %s", name)
	}
	return Hash(ref.Hash()), nil
}

func (s *GitStore) ListRefs(_ context.Context, prefix string) ([]Ref, error) {
	iter, err := s.storage.IterReferences()
	if err != nil {
		return nil, wrapStorageErr(err, "iterate refs")
	}
	defer iter.Close()

	var out []Ref
	err = iter.ForEach(func(r *plumbing.Reference) error {
		name := string(r.Name())
		if strings.HasPrefix(name, prefix) && r.Type() == plumbing.HashReference {
			out = append(out, Ref{Name: name, Hash: Hash(r.Hash())})
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorageErr(err, "iterate refs")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *GitStore) RenameRef(_ context.Context, oldName, newName string) error {
	old, err := s.storage.Reference(plumbing.ReferenceName(oldName))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return ErrObjectNotFound
		}
		return wrapStorageErr(err, "read ref %s", oldName)
	}
	newRef := plumbing.NewHashReference(plumbing.ReferenceName(newName), old.Hash())
	if err := s.storage.SetReference(newRef); err != nil {
		return wrapStorageErr(err, "create ref %s", newName)
	}
	if err := s.storage.RemoveReference(plumbing.ReferenceName(oldName)); err != nil {
		return wrapStorageErr(err, "remove ref %s", oldName)
	}
	return nil
}

func (s *GitStore) DeleteRef(_ context.Context, name string) error {
	if err := s.storage.RemoveReference(plumbing.ReferenceName(name)); err != nil {
		return wrapStorageErr(err, "remove ref %s", name)
	}
	return nil
}

var _ storer.EncodedObjectStorer = (*filesystem.Storage)(nil)
