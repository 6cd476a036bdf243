package executor

import (
	"context"
	"encoding/json"
	"io"

	"github.com/hashicorp/raft"

	"github.com/centraldogma-project/centraldogma/internal/command"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/logging"
	"github.com/centraldogma-project/centraldogma/internal/project"
)

// fsm is the raft.FSM every replica runs: "followers consume the log in
// order and apply each entry to their local state" (spec §4.6 step 3).
// State itself lives in internal/catalog (sqlite) and the object stores
// each internal/repository.Repository wraps, not inside the FSM — so
// Snapshot/Restore are no-ops: a new follower catches up by replaying
// the log from index 0, same as the leader did, rather than by
// transferring a separate state blob.
type fsm struct {
	mgr      *project.Manager
	sessions *sessionStore
	status   *statusHolder
	log      logging.Logger
}

// applyResult is what fsm.Apply returns through raft.ApplyFuture.Response();
// business errors (Conflict, NotFound, ...) travel here rather than as a
// Go error from Apply itself, since a business-logic failure must not be
// confused with a raft-level failure to commit the log entry.
type applyResult struct {
	Result Result
	Err    error
}

// Apply applies one committed log entry. It never returns an error to
// raft itself (a panic is reserved for truly unrecoverable FSM bugs);
// command-level failures are carried in the returned applyResult.
func (f *fsm) Apply(entry *raft.Log) any {
	var cmd command.Command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return applyResult{Err: dogerrors.Wrap(dogerrors.CodeInvalidArgument, err, "decode log entry %d", entry.Index)}
	}

	if cmd.Type == command.TypeUpdateServerStatus {
		var p command.UpdateServerStatusPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return applyResult{Err: dogerrors.Wrap(dogerrors.CodeInvalidArgument, err, "decode UpdateServerStatus payload")}
		}
		f.status.set(ServerStatus(p.Status))
		return applyResult{}
	}

	if cmd.Type == command.TypePush {
		if result, handled, err := f.applyPushWithDivergenceCheck(cmd); handled {
			return applyResult{Result: result, Err: err}
		}
	}

	result, err := dispatch(context.Background(), f.mgr, f.sessions, cmd)
	return applyResult{Result: result, Err: err}
}

// applyPushWithDivergenceCheck implements spec §4.6 step 3's idempotent
// replay skip and step 4's divergence halt, both specific to Push
// (the only command carrying an explicit "expected base revision").
// handled is false when the entry should fall through to the ordinary
// dispatch path (base matches HEAD exactly: the common case).
func (f *fsm) applyPushWithDivergenceCheck(cmd command.Command) (result Result, handled bool, err error) {
	var p command.PushPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return Result{}, true, dogerrors.Wrap(dogerrors.CodeInvalidArgument, err, "decode Push payload")
	}
	repo, getErr := f.mgr.GetRepository(context.Background(), p.Project, p.Repo)
	if getErr != nil {
		return Result{}, true, getErr
	}
	head := repo.Head()
	switch {
	case head == p.Base:
		return Result{}, false, nil // ordinary path: base matches current HEAD
	case head >= p.Base+1:
		// Already applied by an earlier pass over this log (or this
		// replica started ahead via a prior direct apply) — spec's
		// "target revision already matches" replay skip.
		f.log.WithField("revision", head).Info("skipping already-applied push, idempotent replay")
		return Result{Revision: head}, true, nil
	default:
		// head < p.Base: this replica is missing commits the log entry
		// assumed were already present. Halt into read-only and let the
		// operator investigate rather than silently diverging further.
		f.status.set(StatusReadOnly)
		f.log.WithField("repository", p.Project+"/"+p.Repo).
			WithField("head", head).WithField("expectedBase", p.Base).
			Error("local HEAD behind log entry's expected base, halting into READ_ONLY")
		return Result{}, true, dogerrors.New(dogerrors.CodeDivergence, "%s/%s: HEAD %d behind expected base %d", p.Project, p.Repo, head, p.Base)
	}
}

// Snapshot/Restore are no-ops: see fsm's doc comment.
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) { return noopSnapshot{}, nil }
func (f *fsm) Restore(rc io.ReadCloser) error      { return rc.Close() }

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}
