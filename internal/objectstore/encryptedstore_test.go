package objectstore

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeKeyFile(t *testing.T, path string, current string, keys map[string][32]byte) {
	t.Helper()
	kf := keyFile{Current: current, Keys: map[string]string{}}
	for name, k := range keys {
		kf.Keys[name] = base64.StdEncoding.EncodeToString(k[:])
	}
	raw, err := yaml.Marshal(kf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))
}

func newTestKeyProvider(t *testing.T) (*FileKeyProvider, string, [32]byte) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.yaml")
	var k1 [32]byte
	for i := range k1 {
		k1[i] = byte(i)
	}
	writeKeyFile(t, path, "v1", map[string][32]byte{"v1": k1})
	kp, err := NewFileKeyProvider(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kp.Close() })
	return kp, path, k1
}

func TestEncryptedStoreBlobRoundTrip(t *testing.T) {
	kp, _, _ := newTestKeyProvider(t)
	s, err := NewEncryptedStore(filepath.Join(t.TempDir(), "store.db"), kp)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	h, err := s.InsertBlob(ctx, []byte("secret config"))
	require.NoError(t, err)

	got, err := s.ReadBlob(ctx, h)
	require.NoError(t, err)
	require.Equal(t, "secret config", string(got))
}

func TestEncryptedStoreHashMatchesGitStoreForSameContent(t *testing.T) {
	kp, _, _ := newTestKeyProvider(t)
	enc, err := NewEncryptedStore(filepath.Join(t.TempDir(), "store.db"), kp)
	require.NoError(t, err)
	defer enc.Close()

	git, err := NewGitStore(t.TempDir())
	require.NoError(t, err)
	defer git.Close()

	ctx := context.Background()
	h1, err := enc.InsertBlob(ctx, []byte("identical payload"))
	require.NoError(t, err)
	h2, err := git.InsertBlob(ctx, []byte("identical payload"))
	require.NoError(t, err)

	require.Equal(t, h2, h1, "object identity must not depend on which Store backend holds it")
}

func TestEncryptedStoreRefCAS(t *testing.T) {
	kp, _, _ := newTestKeyProvider(t)
	s, err := NewEncryptedStore(filepath.Join(t.TempDir(), "store.db"), kp)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	th, err := s.InsertTree(ctx, nil)
	require.NoError(t, err)
	c1, err := s.InsertCommit(ctx, CommitBuilder{TreeHash: th, Message: "c1"})
	require.NoError(t, err)
	c2, err := s.InsertCommit(ctx, CommitBuilder{TreeHash: th, ParentHash: c1, Message: "c2"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateRef(ctx, RefUpdate{Name: "refs/heads/master", New: c1}))
	err = s.UpdateRef(ctx, RefUpdate{Name: "refs/heads/master", New: c2})
	require.ErrorIs(t, err, ErrRefConflict)

	require.NoError(t, s.UpdateRef(ctx, RefUpdate{Name: "refs/heads/master", New: c2, OldExpected: &c1}))
	got, err := s.ResolveRef(ctx, "refs/heads/master")
	require.NoError(t, err)
	require.Equal(t, c2, got)
}

// TestKEKRotationLeavesObjectBytesUnchanged exercises the invariant
// that rotating the key-encryption-key only rewraps the store's DEK:
// every already-stored object keeps the exact same hash and decrypts
// to the exact same plaintext afterward.
func TestKEKRotationLeavesObjectBytesUnchanged(t *testing.T) {
	kp, path, k1 := newTestKeyProvider(t)
	dbPath := filepath.Join(t.TempDir(), "store.db")
	s, err := NewEncryptedStore(dbPath, kp)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	h, err := s.InsertBlob(ctx, []byte("rotate me not"))
	require.NoError(t, err)

	var k2 [32]byte
	for i := range k2 {
		k2[i] = byte(255 - i)
	}
	writeKeyFile(t, path, "v2", map[string][32]byte{"v1": k1, "v2": k2})
	require.NoError(t, kp.reload())

	require.NoError(t, s.RotateKEK(ctx))

	got, err := s.ReadBlob(ctx, h)
	require.NoError(t, err)
	require.Equal(t, "rotate me not", string(got))

	h2, err := s.InsertBlob(ctx, []byte("rotate me not"))
	require.NoError(t, err)
	require.Equal(t, h, h2, "rotation must not change an object's content hash")
}

func TestEncryptedStoreSurvivesRestartWithReloadedKeys(t *testing.T) {
	kp, _, _ := newTestKeyProvider(t)
	dbPath := filepath.Join(t.TempDir(), "store.db")
	s, err := NewEncryptedStore(dbPath, kp)
	require.NoError(t, err)

	ctx := context.Background()
	h, err := s.InsertBlob(ctx, []byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewEncryptedStore(dbPath, kp)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.ReadBlob(ctx, h)
	require.NoError(t, err)
	require.Equal(t, "persisted", string(got))
}
