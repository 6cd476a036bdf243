package objectstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyAllPreservesHashesAndRefs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src, err := NewGitStore(filepath.Join(dir, "src.git"))
	require.NoError(t, err)
	defer src.Close()

	blobHash, err := src.InsertBlob(ctx, []byte("hello"))
	require.NoError(t, err)
	treeHash, err := src.InsertTree(ctx, []TreeEntry{{Name: "a.txt", Mode: FileMode, Hash: blobHash}})
	require.NoError(t, err)
	sig := Signature{Name: "alice", Email: "alice@example.com", When: 1000}
	commitHash, err := src.InsertCommit(ctx, CommitBuilder{TreeHash: treeHash, Author: sig, Committer: sig, Message: "init"})
	require.NoError(t, err)
	require.NoError(t, src.UpdateRef(ctx, RefUpdate{Name: "refs/heads/master", New: commitHash}))

	dst, err := NewEncryptedStore(filepath.Join(dir, "dst.dogma"), fixedKeyProvider{})
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, CopyAll(ctx, src, dst))

	gotBlob, err := dst.ReadBlob(ctx, blobHash)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), gotBlob)

	gotRef, err := dst.ResolveRef(ctx, "refs/heads/master")
	require.NoError(t, err)
	require.Equal(t, commitHash, gotRef)

	gotCommit, err := dst.ReadCommit(ctx, commitHash)
	require.NoError(t, err)
	require.Equal(t, treeHash, gotCommit.TreeHash)
}

type fixedKeyProvider struct{}

func (fixedKeyProvider) CurrentKEK() (string, [32]byte, error) { return "k1", [32]byte{1}, nil }
func (fixedKeyProvider) KEK(id string) ([32]byte, error)       { return [32]byte{1}, nil }
