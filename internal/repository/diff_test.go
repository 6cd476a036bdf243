package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/centraldogma-project/centraldogma/internal/change"
	"github.com/centraldogma-project/centraldogma/internal/revision"
)

func TestDiffReportsModifiedAndAddedFiles(t *testing.T) {
	r := newTestRepo(t)
	commitOne(t, r, "/a.json", `{"x":1}`)
	from := r.Head()

	_, err := doCommit(t, r, "second", []change.Change{
		{Kind: change.KindUpsertJSON, Path: "/a.json", Content: []byte(`{"x":2}`)},
		{Kind: change.KindUpsertJSON, Path: "/b.json", Content: []byte(`{"y":1}`)},
	})
	require.NoError(t, err)
	to := r.Head()

	diff, err := r.Diff(context.Background(), revision.Revision(from), revision.Revision(to), "/**")
	require.NoError(t, err)
	require.Contains(t, diff, "/a.json")
	require.Equal(t, change.KindUpsertJSON, diff["/a.json"].Kind)
	require.Contains(t, diff, "/b.json")
}

func TestDiffDetectsUnambiguousRename(t *testing.T) {
	r := newTestRepo(t)
	commitOne(t, r, "/a.json", `{"x":1}`)
	from := r.Head()

	_, err := doCommit(t, r, "rename", []change.Change{
		{Kind: change.KindRename, Path: "/a.json", Content: mustJSONString(t, "/c.json")},
	})
	require.NoError(t, err)
	to := r.Head()

	diff, err := r.Diff(context.Background(), revision.Revision(from), revision.Revision(to), "/**")
	require.NoError(t, err)
	require.Len(t, diff, 1)
	c, ok := diff["/a.json"]
	require.True(t, ok)
	require.Equal(t, change.KindRename, c.Kind)
	target, err := c.TargetPath()
	require.NoError(t, err)
	require.Equal(t, "/c.json", target)
}

func TestDiffFiltersByPattern(t *testing.T) {
	r := newTestRepo(t)
	from := r.Head()

	_, err := doCommit(t, r, "two files", []change.Change{
		{Kind: change.KindUpsertJSON, Path: "/keep.json", Content: []byte(`{"k":1}`)},
		{Kind: change.KindUpsertText, Path: "/ignore.txt", Content: mustJSONString(t, "hi")},
	})
	require.NoError(t, err)
	to := r.Head()

	diff, err := r.Diff(context.Background(), revision.Revision(from), revision.Revision(to), "/*.json")
	require.NoError(t, err)
	require.Contains(t, diff, "/keep.json")
	require.NotContains(t, diff, "/ignore.txt")
}

func TestHistoryReturnsAscendingMatchingCommits(t *testing.T) {
	r := newTestRepo(t)
	commitOne(t, r, "/a.json", `{"x":1}`)
	commitOne(t, r, "/a.json", `{"x":2}`)
	_, err := doCommit(t, r, "unrelated", []change.Change{
		{Kind: change.KindUpsertText, Path: "/notes.txt", Content: mustJSONString(t, "hi")},
	})
	require.NoError(t, err)

	hist, err := r.History(context.Background(), revision.Revision(1), revision.HeadRevision, "/a.json", 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Less(t, hist[0].Revision, hist[1].Revision)
}
