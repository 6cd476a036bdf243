package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/centraldogma-project/centraldogma/internal/change"
	"github.com/centraldogma-project/centraldogma/internal/revision"
)

func TestWatchWakesOnMatchingCommit(t *testing.T) {
	r := newTestRepo(t)
	lastKnown := r.Head()

	resCh := make(chan WatchResult, 1)
	go func() {
		res, err := r.Watch(context.Background(), revision.Revision(lastKnown), "/test/**", 3*time.Second)
		require.NoError(t, err)
		resCh <- res
	}()

	for r.notifier.WaiterCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	_, err := doCommit(t, r, "add test file", []change.Change{
		{Kind: change.KindUpsertJSON, Path: "/test/a.json", Content: []byte(`{"x":1}`)},
	})
	require.NoError(t, err)

	select {
	case res := <-resCh:
		require.False(t, res.IsTimeout)
		require.Equal(t, r.Head(), res.Revision)
	case <-time.After(2 * time.Second):
		t.Fatal("watch never woke up")
	}
}

func TestWatchTimesOutWithNoMatch(t *testing.T) {
	r := newTestRepo(t)
	res, err := r.Watch(context.Background(), revision.Revision(r.Head()), "/nope/**", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.IsTimeout)
}

func TestWatchClosesRaceAgainstPastCommit(t *testing.T) {
	r := newTestRepo(t)
	lastKnown := r.Head()

	_, err := doCommit(t, r, "add test file", []change.Change{
		{Kind: change.KindUpsertJSON, Path: "/test/a.json", Content: []byte(`{"x":1}`)},
	})
	require.NoError(t, err)

	res, err := r.Watch(context.Background(), revision.Revision(lastKnown), "/test/**", 3*time.Second)
	require.NoError(t, err)
	require.False(t, res.IsTimeout)
	require.Equal(t, r.Head(), res.Revision)
}

func TestWatchRejectsLastKnownAboveHead(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.Watch(context.Background(), revision.Revision(r.Head()+50), "/**", 100*time.Millisecond)
	require.Error(t, err)
}
