// Package executor implements the Command Executor of spec §4.6: the
// single choke point every mutating operation passes through, in two
// interchangeable variants — standalone (direct) and replicated
// (consensus-log replay) — sharing one dispatch contract so callers
// never need to know which one they're talking to.
//
// Grounded on the teacher's internal/rpc package for the "one handler
// per operation, dispatched off a discriminator" shape (protocol.go's
// Operation switch), generalized here to command.Command's Type, and
// on other_examples' cuemby-warren storage package for the BoltDB-
// backed embedded-store idiom the replicated variant's log/stable
// store reuses (go.etcd.io/bbolt via hashicorp/raft-boltdb).
package executor

import (
	"context"
	"sync/atomic"

	"github.com/centraldogma-project/centraldogma/internal/audit"
	"github.com/centraldogma-project/centraldogma/internal/command"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/logging"
	"github.com/centraldogma-project/centraldogma/internal/project"
)

// ServerStatus is the cluster-wide write-availability mode (spec §4.6).
type ServerStatus string

const (
	// StatusWritable accepts and replicates all commands.
	StatusWritable ServerStatus = "WRITABLE"
	// StatusReplicationOnly rejects non-ForcePush mutations but still
	// replicates the log (a follower keeping state warm, say).
	StatusReplicationOnly ServerStatus = "REPLICATION_ONLY"
	// StatusReadOnly rejects all non-ForcePush mutations and does not
	// accept new log entries (spec §7: entered on Divergence/fatal error).
	StatusReadOnly ServerStatus = "READ_ONLY"
)

// Result is what Execute returns for a successfully applied command: a
// resulting revision for Push, zero for every other (Void) command.
type Result struct {
	Revision int64
}

// Executor is the shared contract spec §4.6 describes: "execute(cmd) →
// future of CommitResult (for Push) or Void". Both the standalone and
// replicated implementations satisfy it; callers depend only on this.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) (Result, error)
	Status() ServerStatus
	SetStatus(ServerStatus)
}

// statusHolder is the atomic.Value-backed ServerStatus shared by both
// executor variants — spec §5's "fine-grained atomic operations" for
// manager-adjacent state, applied here to the one piece of mutable
// state every command check reads on its hot path.
type statusHolder struct {
	v atomic.Value // ServerStatus
}

func newStatusHolder(initial ServerStatus) *statusHolder {
	h := &statusHolder{}
	h.v.Store(initial)
	return h
}

func (h *statusHolder) get() ServerStatus  { return h.v.Load().(ServerStatus) }
func (h *statusHolder) set(s ServerStatus) { h.v.Store(s) }

// checkWritable enforces spec §4.6's "in non-WRITABLE status, all
// mutating commands fail with ReadOnly except those flagged ForcePush."
func checkWritable(status ServerStatus, cmd command.Command) error {
	if status == StatusWritable || cmd.ForceBypass {
		return nil
	}
	return dogerrors.New(dogerrors.CodeReadOnly, "server status is %s, command %s requires WRITABLE or ForcePush", status, cmd.Type)
}

// auditConfig.dir, if non-empty, is where an executor records the audit trail
// of every executed command (SPEC_FULL §12).
type auditConfig struct {
	dir string
}

func recordAudit(cfg auditConfig, log logging.Logger, cmd command.Command, project, repo string, revision int64, execErr error) {
	if cfg.dir == "" {
		return
	}
	if err := audit.RecordCommand(cfg.dir, cmd, project, repo, revision, execErr); err != nil {
		log.WithField("error", err).Warn("failed to record audit entry")
	}
}

// commandTarget extracts the (project, repository) a command addresses,
// for audit logging and cluster-wide lock keying. Lifecycle commands on
// a project alone have an empty repository; CreateSession/RemoveSession/
// UpdateServerStatus address neither.
func commandTarget(cmd command.Command) (proj, repo string, err error) {
	switch cmd.Type {
	case command.TypeCreateProject, command.TypeRemoveProject, command.TypeUnremoveProject, command.TypePurgeProject:
		var p command.CreateProjectPayload
		if err := decodePayload(cmd, &p); err != nil {
			return "", "", err
		}
		return p.Name, "", nil
	case command.TypeCreateRepository:
		var p command.CreateRepositoryPayload
		if err := decodePayload(cmd, &p); err != nil {
			return "", "", err
		}
		return p.Project, p.Name, nil
	case command.TypeRemoveRepository, command.TypeUnremoveRepository, command.TypePurgeRepository:
		var p command.RepositoryNamePayload
		if err := decodePayload(cmd, &p); err != nil {
			return "", "", err
		}
		return p.Project, p.Name, nil
	case command.TypePush:
		var p command.PushPayload
		if err := decodePayload(cmd, &p); err != nil {
			return "", "", err
		}
		return p.Project, p.Repo, nil
	case command.TypeMigrateToEncryptedRepository:
		var p command.MigrateToEncryptedRepositoryPayload
		if err := decodePayload(cmd, &p); err != nil {
			return "", "", err
		}
		return p.Project, p.Name, nil
	default:
		return "", "", nil
	}
}

// dispatch applies one already-ForceBypass/status-checked command
// against mgr and the in-process session registry. It is the single
// place command semantics live, shared verbatim by the standalone
// executor and the replicated FSM's Apply, so the two variants can
// never drift in what a given Command actually does.
func dispatch(ctx context.Context, mgr *project.Manager, sessions *sessionStore, cmd command.Command) (Result, error) {
	switch cmd.Type {
	case command.TypeCreateProject:
		var p command.CreateProjectPayload
		if err := decodePayload(cmd, &p); err != nil {
			return Result{}, err
		}
		_, err := mgr.CreateProject(ctx, p.Name, cmd.Timestamp, authorOf(cmd))
		return Result{}, err

	case command.TypeRemoveProject:
		var p command.RemoveProjectPayload
		if err := decodePayload(cmd, &p); err != nil {
			return Result{}, err
		}
		return Result{}, mgr.RemoveProject(ctx, p.Name, cmd.Timestamp)

	case command.TypeUnremoveProject:
		var p command.RemoveProjectPayload
		if err := decodePayload(cmd, &p); err != nil {
			return Result{}, err
		}
		return Result{}, mgr.UnremoveProject(ctx, p.Name)

	case command.TypePurgeProject:
		var p command.RemoveProjectPayload
		if err := decodePayload(cmd, &p); err != nil {
			return Result{}, err
		}
		return Result{}, mgr.PurgeProject(ctx, p.Name)

	case command.TypeCreateRepository:
		var p command.CreateRepositoryPayload
		if err := decodePayload(cmd, &p); err != nil {
			return Result{}, err
		}
		_, err := mgr.CreateRepository(ctx, p.Project, p.Name, cmd.Timestamp, authorOf(cmd))
		return Result{}, err

	case command.TypeRemoveRepository:
		var p command.RepositoryNamePayload
		if err := decodePayload(cmd, &p); err != nil {
			return Result{}, err
		}
		return Result{}, mgr.RemoveRepository(ctx, p.Project, p.Name, cmd.Timestamp)

	case command.TypeUnremoveRepository:
		var p command.RepositoryNamePayload
		if err := decodePayload(cmd, &p); err != nil {
			return Result{}, err
		}
		return Result{}, mgr.UnremoveRepository(ctx, p.Project, p.Name)

	case command.TypePurgeRepository:
		var p command.RepositoryNamePayload
		if err := decodePayload(cmd, &p); err != nil {
			return Result{}, err
		}
		return Result{}, mgr.PurgeRepository(ctx, p.Project, p.Name)

	case command.TypeMigrateToEncryptedRepository:
		var p command.MigrateToEncryptedRepositoryPayload
		if err := decodePayload(cmd, &p); err != nil {
			return Result{}, err
		}
		return Result{}, mgr.MigrateRepositoryToEncrypted(ctx, p.Project, p.Name)

	case command.TypePush:
		var p command.PushPayload
		if err := decodePayload(cmd, &p); err != nil {
			return Result{}, err
		}
		repo, err := mgr.GetRepository(ctx, p.Project, p.Repo)
		if err != nil {
			return Result{}, err
		}
		info, err := repo.Commit(ctx, p.Base, cmd.Timestamp, authorOf(cmd), authorOf(cmd), p.Summary, p.Detail, p.Markup, p.Changes, repoCommitOptions())
		if err != nil {
			return Result{}, err
		}
		return Result{Revision: info.Revision}, nil

	case command.TypeCreateSession:
		var p command.SessionPayload
		if err := decodePayload(cmd, &p); err != nil {
			return Result{}, err
		}
		sessions.create(p.SessionID, p.Subject)
		return Result{}, nil

	case command.TypeRemoveSession:
		var p command.SessionPayload
		if err := decodePayload(cmd, &p); err != nil {
			return Result{}, err
		}
		return Result{}, sessions.remove(p.SessionID)

	case command.TypeUpdateServerStatus:
		// Handled by the caller (it owns the statusHolder the FSM
		// doesn't have direct access to); reaching here means a variant
		// forgot to special-case it.
		return Result{}, dogerrors.New(dogerrors.CodeInvalidArgument, "UpdateServerStatus must be handled by the executor, not dispatch")

	default:
		return Result{}, dogerrors.New(dogerrors.CodeInvalidArgument, "unknown command type %q", cmd.Type)
	}
}
