package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/centraldogma-project/centraldogma/internal/pattern"
)

func noMatchHistory(_, _ int64, _ *pattern.Matcher) (bool, error) { return false, nil }

func TestWatchTimesOutWithNoMatchingChange(t *testing.T) {
	n := NewNotifier(5)
	m := pattern.MustCompile("/a.json")

	start := time.Now()
	res, err := n.Watch(context.Background(), 5, m, 50*time.Millisecond, noMatchHistory)
	require.NoError(t, err)
	require.True(t, res.IsTimeout)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWatchWakesOnMatchingNotify(t *testing.T) {
	n := NewNotifier(5)
	m := pattern.MustCompile("/a.json")

	resCh := make(chan Result, 1)
	go func() {
		res, err := n.Watch(context.Background(), 5, m, time.Second, noMatchHistory)
		require.NoError(t, err)
		resCh <- res
	}()

	// give the goroutine a chance to register before notifying
	for n.WaiterCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	n.Notify(6, []string{"/a.json"})

	select {
	case res := <-resCh:
		require.False(t, res.IsTimeout)
		require.Equal(t, int64(6), res.Revision)
	case <-time.After(time.Second):
		t.Fatal("watch never woke up")
	}
}

func TestWatchIgnoresNotifyForNonMatchingPath(t *testing.T) {
	n := NewNotifier(5)
	m := pattern.MustCompile("/a.json")

	resCh := make(chan Result, 1)
	go func() {
		res, _ := n.Watch(context.Background(), 5, m, 100*time.Millisecond, noMatchHistory)
		resCh <- res
	}()
	for n.WaiterCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	n.Notify(6, []string{"/other.json"})

	res := <-resCh
	require.True(t, res.IsTimeout, "watcher for /a.json must not wake on an unrelated path")
}

func TestWatchClosesRaceWhenAlreadyBehindHead(t *testing.T) {
	n := NewNotifier(10)
	m := pattern.MustCompile("/a.json")

	checked := false
	checker := func(from, to int64, mm *pattern.Matcher) (bool, error) {
		checked = true
		require.Equal(t, int64(5), from)
		require.Equal(t, int64(10), to)
		return true, nil
	}

	res, err := n.Watch(context.Background(), 5, m, time.Second, checker)
	require.NoError(t, err)
	require.True(t, checked)
	require.False(t, res.IsTimeout)
	require.Equal(t, int64(10), res.Revision)
	require.Equal(t, 0, n.WaiterCount(), "race-closed watch must not register a waiter")
}

func TestNotifyDeliversAtMostOncePerWaiter(t *testing.T) {
	n := NewNotifier(0)
	m := pattern.MustCompile("/**")

	resCh := make(chan Result, 1)
	go func() {
		res, _ := n.Watch(context.Background(), 0, m, time.Second, noMatchHistory)
		resCh <- res
	}()
	for n.WaiterCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	n.Notify(1, []string{"/x"})
	n.Notify(2, []string{"/x"}) // second notify must not double-deliver or panic

	res := <-resCh
	require.Equal(t, int64(1), res.Revision)
	require.Equal(t, 0, n.WaiterCount())
}
