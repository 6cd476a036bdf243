package objectstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.etcd.io/bbolt"

	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
)

var (
	bucketObjects = []byte("objects")
	bucketRefs    = []byte("refs")
	bucketMeta    = []byte("meta")

	metaKeyWrappedDEK = []byte("wrapped_dek")
)

// objKind tags what an encrypted object payload decodes to, since the
// plaintext git encoding alone doesn't self-describe its type the way
// a loose git object's header does once it has been stripped for
// storage under a hash-keyed bucket.
type objKind byte

const (
	kindBlob objKind = iota
	kindTree
	kindCommit
)

// EncryptedStore is an alternative Store backend: objects are kept at
// rest in a bbolt database, each encrypted individually with a single
// data-encryption-key (DEK) under AES-GCM. The DEK itself is wrapped
// ("enveloped") with a rotatable key-encryption-key (KEK) supplied by
// a KeyProvider; rotating the KEK only rewraps the DEK record, leaving
// every stored object's ciphertext — and therefore its content hash,
// computed over the plaintext before encryption — untouched (spec §8
// invariant 5).
type EncryptedStore struct {
	db  *bbolt.DB
	kp  KeyProvider
	dek [32]byte
}

// NewEncryptedStore opens (initializing if empty) an encrypted object
// database at path, using kp to wrap/unwrap its data-encryption key.
func NewEncryptedStore(path string, kp KeyProvider) (*EncryptedStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "open encrypted store %s", path)
	}
	s := &EncryptedStore{db: db, kp: kp}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketObjects, bucketRefs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "initialize encrypted store buckets")
	}
	if err := s.loadOrCreateDEK(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *EncryptedStore) Close() error { return s.db.Close() }

// wrappedDEK is the on-disk envelope: which KEK generation wrapped the
// DEK, the nonce used, and the ciphertext.
type wrappedDEK struct {
	kekID      string
	nonce      []byte
	ciphertext []byte
}

func (s *EncryptedStore) loadOrCreateDEK() error {
	var existing *wrappedDEK
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(metaKeyWrappedDEK)
		if raw == nil {
			return nil
		}
		w, err := decodeWrappedDEK(raw)
		if err != nil {
			return err
		}
		existing = w
		return nil
	})
	if err != nil {
		return err
	}

	if existing == nil {
		if _, err := io.ReadFull(rand.Reader, s.dek[:]); err != nil {
			return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "generate data encryption key")
		}
		return s.persistWrappedDEK()
	}

	kek, err := s.kp.KEK(existing.kekID)
	if err != nil {
		return err
	}
	plain, err := aesGCMOpen(kek, existing.nonce, existing.ciphertext)
	if err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "unwrap data encryption key")
	}
	if len(plain) != 32 {
		return dogerrors.New(dogerrors.CodeStorageFailed, "unwrapped data encryption key has wrong length")
	}
	copy(s.dek[:], plain)
	return nil
}

// RotateKEK rewraps the store's DEK under the KeyProvider's current
// KEK generation. Object ciphertext is never touched: every stored
// hash keeps the identity it had before rotation.
func (s *EncryptedStore) RotateKEK(_ context.Context) error {
	return s.persistWrappedDEK()
}

func (s *EncryptedStore) persistWrappedDEK() error {
	id, kek, err := s.kp.CurrentKEK()
	if err != nil {
		return err
	}
	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "generate DEK wrap nonce")
	}
	ciphertext, err := aesGCMSeal(kek, nonce, s.dek[:])
	if err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "wrap data encryption key")
	}
	w := &wrappedDEK{kekID: id, nonce: nonce, ciphertext: ciphertext}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(metaKeyWrappedDEK, encodeWrappedDEK(w))
	})
}

func encodeWrappedDEK(w *wrappedDEK) []byte {
	id := []byte(w.kekID)
	out := make([]byte, 0, 2+len(id)+1+len(w.nonce)+len(w.ciphertext))
	out = append(out, byte(len(id)>>8), byte(len(id)))
	out = append(out, id...)
	out = append(out, byte(len(w.nonce)))
	out = append(out, w.nonce...)
	out = append(out, w.ciphertext...)
	return out
}

func decodeWrappedDEK(raw []byte) (*wrappedDEK, error) {
	if len(raw) < 3 {
		return nil, dogerrors.New(dogerrors.CodeStorageFailed, "corrupt wrapped DEK record")
	}
	idLen := int(raw[0])<<8 | int(raw[1])
	raw = raw[2:]
	if len(raw) < idLen+1 {
		return nil, dogerrors.New(dogerrors.CodeStorageFailed, "corrupt wrapped DEK record")
	}
	id := string(raw[:idLen])
	raw = raw[idLen:]
	nonceLen := int(raw[0])
	raw = raw[1:]
	if len(raw) < nonceLen {
		return nil, dogerrors.New(dogerrors.CodeStorageFailed, "corrupt wrapped DEK record")
	}
	nonce := raw[:nonceLen]
	ciphertext := raw[nonceLen:]
	return &wrappedDEK{kekID: id, nonce: append([]byte(nil), nonce...), ciphertext: append([]byte(nil), ciphertext...)}, nil
}

func aesGCMSeal(key [32]byte, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func aesGCMOpen(key [32]byte, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// encrypt seals plaintext under the store's DEK with a fresh random
// nonce, returning nonce||kind||ciphertext for storage.
func (s *EncryptedStore) encrypt(kind objKind, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext, err := aesGCMSeal(s.dek, nonce, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+1+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, byte(kind))
	out = append(out, ciphertext...)
	return out, nil
}

func (s *EncryptedStore) decrypt(record []byte) (objKind, []byte, error) {
	if len(record) < 13 {
		return 0, nil, errors.New("objectstore: corrupt encrypted record")
	}
	nonce, kind, ciphertext := record[:12], objKind(record[12]), record[13:]
	plain, err := aesGCMOpen(s.dek, nonce, ciphertext)
	if err != nil {
		return 0, nil, err
	}
	return kind, plain, nil
}

func (s *EncryptedStore) put(h Hash, kind objKind, plaintext []byte) error {
	record, err := s.encrypt(kind, plaintext)
	if err != nil {
		return wrapStorageErr(err, "encrypt object %s", h)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketObjects).Put([]byte(h.String()), record)
	})
}

func (s *EncryptedStore) get(h Hash, want objKind) ([]byte, error) {
	var record []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketObjects).Get([]byte(h.String()))
		if v != nil {
			record = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorageErr(err, "read object %s", h)
	}
	if record == nil {
		return nil, ErrObjectNotFound
	}
	kind, plain, err := s.decrypt(record)
	if err != nil {
		return nil, wrapStorageErr(err, "decrypt object %s", h)
	}
	if kind != want {
		return nil, dogerrors.New(dogerrors.CodeStorageFailed, "object %s is not the expected type", h)
	}
	return plain, nil
}

func (s *EncryptedStore) InsertBlob(_ context.Context, data []byte) (Hash, error) {
	h := Hash(plumbing.ComputeHash(plumbing.BlobObject, data))
	if err := s.put(h, kindBlob, data); err != nil {
		return Hash{}, err
	}
	return h, nil
}

func (s *EncryptedStore) ReadBlob(_ context.Context, h Hash) ([]byte, error) {
	return s.get(h, kindBlob)
}

func (s *EncryptedStore) InsertTree(_ context.Context, entries []TreeEntry) (Hash, error) {
	sorted := append([]TreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return treeSortKey(sorted[i]) < treeSortKey(sorted[j]) })

	tree := &object.Tree{Entries: make([]object.TreeEntry, 0, len(sorted))}
	for _, e := range sorted {
		mode := filemode.Regular
		if e.Mode == DirMode {
			mode = filemode.Dir
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{Name: e.Name, Mode: mode, Hash: plumbing.Hash(e.Hash)})
	}
	obj := &plumbing.MemoryObject{}
	if err := tree.Encode(obj); err != nil {
		return Hash{}, wrapStorageErr(err, "encode tree")
	}
	data, err := readAll(obj)
	if err != nil {
		return Hash{}, wrapStorageErr(err, "encode tree")
	}
	h := Hash(plumbing.ComputeHash(plumbing.TreeObject, data))
	if err := s.put(h, kindTree, data); err != nil {
		return Hash{}, err
	}
	return h, nil
}

func (s *EncryptedStore) ReadTree(_ context.Context, h Hash) ([]TreeEntry, error) {
	data, err := s.get(h, kindTree)
	if err != nil {
		return nil, err
	}
	obj, err := memoryObjectFrom(plumbing.TreeObject, data)
	if err != nil {
		return nil, wrapStorageErr(err, "decode tree %s", h)
	}
	tree, err := object.DecodeTree(nil, obj)
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

func (s *EncryptedStore) InsertCommit(_ context.Context, c CommitBuilder) (Hash, error) {
	commit := &object.Commit{
		Author:    toSignature(c.Author),
		Committer: toSignature(c.Committer),
		Message:   c.Message,
		TreeHash:  plumbing.Hash(c.TreeHash),
	}
	if !c.ParentHash.IsZero() {
		commit.ParentHashes = []plumbing.Hash{plumbing.Hash(c.ParentHash)}
	}
	obj := &plumbing.MemoryObject{}
	if err := commit.Encode(obj); err != nil {
		return Hash{}, wrapStorageErr(err, "encode commit")
	}
	data, err := readAll(obj)
	if err != nil {
		return Hash{}, wrapStorageErr(err, "encode commit")
	}
	h := Hash(plumbing.ComputeHash(plumbing.CommitObject, data))
	if err := s.put(h, kindCommit, data); err != nil {
		return Hash{}, err
	}
	return h, nil
}

func (s *EncryptedStore) ReadCommit(_ context.Context, h Hash) (*Commit, error) {
	data, err := s.get(h, kindCommit)
	if err != nil {
		return nil, err
	}
	obj, err := memoryObjectFrom(plumbing.CommitObject, data)
	if err != nil {
		return nil, wrapStorageErr(err, "decode commit %s", h)
	}
	commit, err := object.DecodeCommit(nil, obj)
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

func memoryObjectFrom(t plumbing.ObjectType, data []byte) (plumbing.EncodedObject, error) {
	obj := &plumbing.MemoryObject{}
	obj.SetType(t)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return obj, nil
}

func readAll(obj plumbing.EncodedObject) ([]byte, error) {
	r, err := obj.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf := make([]byte, 0, obj.Size())
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

// Ref values are stored unencrypted: just the 20-byte target hash.

func (s *EncryptedStore) UpdateRef(_ context.Context, u RefUpdate) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRefs)
		cur := b.Get([]byte(u.Name))
		if u.OldExpected == nil {
			if cur != nil {
				return ErrRefConflict
			}
		} else {
			if cur == nil || hex.EncodeToString(cur) != u.OldExpected.String() {
				return ErrRefConflict
			}
		}
		return b.Put([]byte(u.Name), u.New[:])
	})
}

func (s *EncryptedStore) ResolveRef(_ context.Context, name string) (Hash, error) {
	var h Hash
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRefs).Get([]byte(name))
		if v == nil {
			return nil
		}
		copy(h[:], v)
		found = true
		return nil
	})
	if err != nil {
		return Hash{}, wrapStorageErr(err, "resolve ref %s", name)
	}
	if !found {
		return Hash{}, ErrObjectNotFound
	}
	return h, nil
}

func (s *EncryptedStore) ListRefs(_ context.Context, prefix string) ([]Ref, error) {
	var out []Ref
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRefs).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if strings.HasPrefix(string(k), prefix) {
				var h Hash
				copy(h[:], v)
				out = append(out, Ref{Name: string(k), Hash: h})
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorageErr(err, "iterate refs")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *EncryptedStore) RenameRef(_ context.Context, oldName, newName string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRefs)
		v := b.Get([]byte(oldName))
		if v == nil {
			return ErrObjectNotFound
		}
		if err := b.Put([]byte(newName), append([]byte(nil), v...)); err != nil {
			return err
		}
		return b.Delete([]byte(oldName))
	})
}

func (s *EncryptedStore) DeleteRef(_ context.Context, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRefs).Delete([]byte(name))
	})
}
