package repository

import (
	"context"
	"time"

	"github.com/centraldogma-project/centraldogma/internal/pattern"
	"github.com/centraldogma-project/centraldogma/internal/revision"
)

// WatchResult mirrors watch.Result at the repository layer so callers
// outside internal/repository never need to import internal/watch
// directly.
type WatchResult struct {
	Revision  int64
	IsTimeout bool
}

// Watch long-polls for the next change under patternStr, starting from
// lastKnown (spec §4.4). A lastKnown strictly greater than HEAD is
// rejected as RevisionNotFound rather than silently blocked forever,
// per the decision recorded for this design.
func (r *Repository) Watch(ctx context.Context, lastKnown revision.Revision, patternStr string, timeout time.Duration) (WatchResult, error) {
	// Normalize enforces exactly the bound this design decided on for
	// watch: lastKnown > HEAD resolves to RevisionNotFound rather than
	// blocking forever, since it can never be satisfied by a future
	// commit (revisions only increase).
	abs, err := r.Normalize(lastKnown)
	if err != nil {
		return WatchResult{}, err
	}

	m, err := pattern.Compile(patternStr)
	if err != nil {
		return WatchResult{}, err
	}

	checker := func(from, to int64, mm *pattern.Matcher) (bool, error) {
		touched, err := r.Diff(ctx, revision.Revision(from), revision.Revision(to), mm.String())
		if err != nil {
			return false, err
		}
		return len(touched) > 0, nil
	}

	res, err := r.notifier.Watch(ctx, abs.Int64(), m, timeout, checker)
	if err != nil {
		return WatchResult{}, err
	}
	return WatchResult{Revision: res.Revision, IsTimeout: res.IsTimeout}, nil
}
