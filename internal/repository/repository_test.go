package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/centraldogma-project/centraldogma/internal/change"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/objectstore"
	"github.com/centraldogma-project/centraldogma/internal/revision"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	store, err := objectstore.NewGitStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	r, err := CreateRepository(context.Background(), store, "proj", "repo", 1000, Signature{Name: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	return r
}

func commitOne(t *testing.T, r *Repository, path string, value string) *CommitInfo {
	t.Helper()
	info, err := r.Commit(context.Background(), r.Head(), 1001,
		Signature{Name: "alice", Email: "alice@example.com"},
		Signature{Name: "alice", Email: "alice@example.com"},
		"update "+path, "", change.MarkupPlaintext,
		[]change.Change{{Kind: change.KindUpsertJSON, Path: path, Content: []byte(value)}},
		CommitOptions{})
	require.NoError(t, err)
	return info
}

func TestCreateRepositoryStartsAtRevisionOne(t *testing.T) {
	r := newTestRepo(t)
	require.Equal(t, int64(1), r.Head())
}

func TestGetAndExistsAfterCommit(t *testing.T) {
	r := newTestRepo(t)
	commitOne(t, r, "/a.json", `{"x":1}`)

	ok, err := r.Exists(context.Background(), revision.HeadRevision, "/a.json")
	require.NoError(t, err)
	require.True(t, ok)

	e, err := r.Get(context.Background(), revision.HeadRevision, "/a.json")
	require.NoError(t, err)
	require.Equal(t, change.EntryJSON, e.Type)
	require.JSONEq(t, `{"x":1}`, string(e.Content))
}

func TestGetMissingEntryFails(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.Get(context.Background(), revision.HeadRevision, "/missing.json")
	var derr *dogerrors.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dogerrors.CodeEntryNotFound, derr.Code)
}

func TestFindMatchesPattern(t *testing.T) {
	r := newTestRepo(t)
	commitOne(t, r, "/a.json", `{"x":1}`)
	_, err := r.Commit(context.Background(), r.Head(), 1002,
		Signature{Name: "alice"}, Signature{Name: "alice"},
		"add b", "", change.MarkupPlaintext,
		[]change.Change{{Kind: change.KindUpsertJSON, Path: "/dir/b.json", Content: []byte(`{"y":2}`)}},
		CommitOptions{})
	require.NoError(t, err)

	results, err := r.Find(context.Background(), revision.HeadRevision, "/**", FindOptions{FetchContent: true})
	require.NoError(t, err)

	paths := map[string]bool{}
	for _, res := range results {
		paths[res.Path] = true
	}
	require.True(t, paths["/a.json"])
	require.True(t, paths["/dir/b.json"])
}

func TestNormalizeRejectsRevisionAboveHead(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.Normalize(revision.Revision(99))
	var derr *dogerrors.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dogerrors.CodeRevisionNotFound, derr.Code)
}

func TestOpenRepositoryRecoversHead(t *testing.T) {
	store, err := objectstore.NewGitStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	r, err := CreateRepository(ctx, store, "proj", "repo", 1000, Signature{Name: "alice"})
	require.NoError(t, err)
	commitOne(t, r, "/a.json", `{"x":1}`)

	reopened, err := OpenRepository(ctx, store, "proj", "repo")
	require.NoError(t, err)
	require.Equal(t, int64(2), reopened.Head())

	e, err := reopened.Get(ctx, revision.HeadRevision, "/a.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(e.Content))
}
