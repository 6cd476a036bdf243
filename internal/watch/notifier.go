// Package watch implements the long-poll watch notifier from spec
// §4.4: per-repository multi-listener registration, one-shot wake-up,
// and the "did anything matching already happen between the client's
// last read and this call" race-closing check.
//
// Grounded on the teacher's internal/rpc.Server mutation pipeline
// (server_core.go: emitMutation/emitRichMutation, a non-blocking
// fan-out into a channel plus a bounded recent-events buffer) — the
// same "notify many listeners about a change without blocking the
// writer" shape, generalized here from one shared channel to
// per-waiter one-shot completion handles keyed by pattern, because a
// watch client must never silently miss its own wake-up the way a
// dropped broadcast event is allowed to be missed by a lagging daemon.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/centraldogma-project/centraldogma/internal/pattern"
)

// Result is what a waiter receives: the new HEAD revision that
// satisfied it, or IsTimeout true if no matching change arrived before
// the deadline.
type Result struct {
	Revision  int64
	IsTimeout bool
}

type waiter struct {
	id       uint64
	lastKnown int64
	matcher  *pattern.Matcher
	done     chan Result
	fired    bool
}

// HistoryChecker answers "did any commit in (from, to] touch a path
// matching m" — Repository.Watch backs this with Repository.Diff; tests
// can stub it directly.
type HistoryChecker func(from, to int64, m *pattern.Matcher) (bool, error)

// Notifier tracks the waiters for a single repository and wakes them
// as commits land.
type Notifier struct {
	mu      sync.Mutex
	waiters map[uint64]*waiter
	nextID  uint64
	head    int64
}

// NewNotifier creates a Notifier whose initial HEAD is head.
func NewNotifier(head int64) *Notifier {
	return &Notifier{waiters: make(map[uint64]*waiter), head: head}
}

// Watch implements spec §4.4's subscribe algorithm. checkHistory is
// consulted only when lastKnown is behind the notifier's current head,
// to close the race where a commit landed between the caller's last
// read and this call.
func (n *Notifier) Watch(ctx context.Context, lastKnown int64, m *pattern.Matcher, timeout time.Duration, checkHistory HistoryChecker) (Result, error) {
	n.mu.Lock()
	head := n.head
	if lastKnown < head {
		n.mu.Unlock()
		matched, err := checkHistory(lastKnown, head, m)
		if err != nil {
			return Result{}, err
		}
		if matched {
			return Result{Revision: head}, nil
		}
		n.mu.Lock()
	}

	w := &waiter{id: n.nextID, lastKnown: lastKnown, matcher: m, done: make(chan Result, 1)}
	n.nextID++
	n.waiters[w.id] = w
	n.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.done:
		return res, nil
	case <-timer.C:
		n.complete(w.id, Result{IsTimeout: true})
		return Result{IsTimeout: true}, nil
	case <-ctx.Done():
		n.complete(w.id, Result{IsTimeout: true})
		return Result{}, ctx.Err()
	}
}

// complete removes a waiter and delivers res exactly once; later
// callers racing on the same id are no-ops, matching spec §4.4's
// "subsequent wake-ups for the same waiter are ignored."
func (n *Notifier) complete(id uint64, res Result) {
	n.mu.Lock()
	w, ok := n.waiters[id]
	if !ok || w.fired {
		n.mu.Unlock()
		return
	}
	w.fired = true
	delete(n.waiters, id)
	n.mu.Unlock()
	w.done <- res
}

// Notify is called by the commit engine after a successful commit. It
// advances HEAD and wakes every waiter whose pattern matches a change
// in the new commit, without blocking the caller: each waiter's
// channel is buffered and written at most once, so fan-out can never
// stall on a slow watcher.
func (n *Notifier) Notify(newHead int64, changedPaths []string) {
	n.mu.Lock()
	n.head = newHead
	var toWake []*waiter
	for _, w := range n.waiters {
		if matchesAny(w.matcher, changedPaths) {
			toWake = append(toWake, w)
		}
	}
	n.mu.Unlock()

	for _, w := range toWake {
		n.complete(w.id, Result{Revision: newHead})
	}
}

func matchesAny(m *pattern.Matcher, paths []string) bool {
	for _, p := range paths {
		if m.Match(p) {
			return true
		}
	}
	return false
}

// WaiterCount reports the number of currently registered waiters;
// used by tests and by admin diagnostics.
func (n *Notifier) WaiterCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.waiters)
}
