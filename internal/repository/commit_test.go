package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/centraldogma-project/centraldogma/internal/change"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
)

func doCommit(t *testing.T, r *Repository, summary string, changes []change.Change) (*CommitInfo, error) {
	t.Helper()
	return r.Commit(context.Background(), r.Head(), 1001,
		Signature{Name: "alice", Email: "alice@example.com"},
		Signature{Name: "alice", Email: "alice@example.com"},
		summary, "", change.MarkupPlaintext, changes, CommitOptions{})
}

func TestRedundantUpsertIsRejected(t *testing.T) {
	r := newTestRepo(t)
	commitOne(t, r, "/a.json", `{"x":1}`)

	_, err := doCommit(t, r, "no-op", []change.Change{
		{Kind: change.KindUpsertJSON, Path: "/a.json", Content: []byte(`{"x":1}`)},
	})
	var derr *dogerrors.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dogerrors.CodeRedundantChange, derr.Code)
}

func TestEmptyChangeSetIsRejected(t *testing.T) {
	r := newTestRepo(t)
	_, err := doCommit(t, r, "nothing", nil)
	var derr *dogerrors.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dogerrors.CodeRedundantChange, derr.Code)
}

func TestCommitWithStaleBaseConflicts(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	stale := r.Head()
	commitOne(t, r, "/a.json", `{"x":1}`)

	_, err := r.Commit(ctx, stale, 1002,
		Signature{Name: "alice"}, Signature{Name: "alice"},
		"stale commit", "", change.MarkupPlaintext,
		[]change.Change{{Kind: change.KindUpsertJSON, Path: "/b.json", Content: []byte(`{"y":2}`)}},
		CommitOptions{})
	var derr *dogerrors.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dogerrors.CodeChangeConflict, derr.Code)
}

func TestApplyJSONPatch(t *testing.T) {
	r := newTestRepo(t)
	commitOne(t, r, "/a.json", `{"x":1}`)

	patch := []byte(`[{"op":"replace","path":"/x","value":2}]`)
	_, err := doCommit(t, r, "patch a", []change.Change{
		{Kind: change.KindApplyJSONPatch, Path: "/a.json", Content: patch},
	})
	require.NoError(t, err)

	e, err := r.Get(context.Background(), -1, "/a.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"x":2}`, string(e.Content))
}

func TestApplyJSONPatchOnMissingEntryFails(t *testing.T) {
	r := newTestRepo(t)
	patch := []byte(`[{"op":"replace","path":"/x","value":2}]`)
	_, err := doCommit(t, r, "patch missing", []change.Change{
		{Kind: change.KindApplyJSONPatch, Path: "/missing.json", Content: patch},
	})
	var derr *dogerrors.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dogerrors.CodeEntryNotFound, derr.Code)
}

func TestApplyTextPatch(t *testing.T) {
	r := newTestRepo(t)
	_, err := doCommit(t, r, "add text", []change.Change{
		{Kind: change.KindUpsertText, Path: "/a.txt", Content: mustJSONString(t, "hello world")},
	})
	require.NoError(t, err)

	dmpPatch := textPatchFor(t, "hello world", "hello there")
	_, err = doCommit(t, r, "patch text", []change.Change{
		{Kind: change.KindApplyTextPatch, Path: "/a.txt", Content: mustJSONString(t, dmpPatch)},
	})
	require.NoError(t, err)

	e, err := r.Get(context.Background(), -1, "/a.txt")
	require.NoError(t, err)
	text, err := e.TextContent()
	require.NoError(t, err)
	require.Equal(t, "hello there", text)
}

func TestRenameMovesFileAndRejectsExistingTarget(t *testing.T) {
	r := newTestRepo(t)
	commitOne(t, r, "/a.json", `{"x":1}`)
	commitOne(t, r, "/b.json", `{"y":2}`)

	_, err := doCommit(t, r, "rename a to c", []change.Change{
		{Kind: change.KindRename, Path: "/a.json", Content: mustJSONString(t, "/c.json")},
	})
	require.NoError(t, err)

	ok, err := r.Exists(context.Background(), -1, "/a.json")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = r.Exists(context.Background(), -1, "/c.json")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = doCommit(t, r, "rename c onto b", []change.Change{
		{Kind: change.KindRename, Path: "/c.json", Content: mustJSONString(t, "/b.json")},
	})
	var derr *dogerrors.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dogerrors.CodeChangeConflict, derr.Code)
}

func TestRemoveFileAndDirectory(t *testing.T) {
	r := newTestRepo(t)
	commitOne(t, r, "/dir/a.json", `{"x":1}`)

	_, err := doCommit(t, r, "remove dir", []change.Change{
		{Kind: change.KindRemove, Path: "/dir"},
	})
	require.NoError(t, err)

	ok, err := r.Exists(context.Background(), -1, "/dir/a.json")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPreviewDiffDoesNotMutateHead(t *testing.T) {
	r := newTestRepo(t)
	commitOne(t, r, "/a.json", `{"x":1}`)
	headBefore := r.Head()

	changes, err := r.PreviewDiff(context.Background(), r.Head(), []change.Change{
		{Kind: change.KindUpsertJSON, Path: "/b.json", Content: []byte(`{"y":2}`)},
	})
	require.NoError(t, err)
	require.Contains(t, changes, "/b.json")
	require.Equal(t, headBefore, r.Head())

	ok, err := r.Exists(context.Background(), -1, "/b.json")
	require.NoError(t, err)
	require.False(t, ok, "previewDiff must not persist anything")
}
