package executor

import (
	"context"
	"sync"
	"time"

	"github.com/centraldogma-project/centraldogma/internal/command"
	"github.com/centraldogma-project/centraldogma/internal/logging"
	"github.com/centraldogma-project/centraldogma/internal/project"
)

// Standalone is the direct-dispatch Command Executor (spec §4.6): "the
// command runs directly on the local Manager/Repository; the future
// completes when the on-disk refs are durable." There is no log, no
// leader election — each call to Execute IS the durable write.
type Standalone struct {
	mgr      *project.Manager
	sessions *sessionStore
	status   *statusHolder
	audit    auditConfig
	log      logging.Logger

	// repoLocks bounds in-flight mutations per repository at 1 (spec
	// §5's "the executor bounds in-flight mutations per repository at 1
	// by construction"); project/repository lifecycle commands share one
	// global lock, matching the replicated variant's "global lock for
	// project/repository lifecycle commands."
	mu        sync.Mutex
	repoLocks map[string]*sync.Mutex
	globalMu  sync.Mutex
}

// NewStandalone builds a Standalone executor over mgr, starting in
// WRITABLE status. auditDir, if non-empty, receives one JSONL line per
// executed command (SPEC_FULL §12).
func NewStandalone(mgr *project.Manager, auditDir string) *Standalone {
	return &Standalone{
		mgr:       mgr,
		sessions:  newSessionStore(),
		status:    newStatusHolder(StatusWritable),
		audit:     auditConfig{dir: auditDir},
		log:       logging.For("executor.standalone"),
		repoLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Standalone) Status() ServerStatus     { return s.status.get() }
func (s *Standalone) SetStatus(v ServerStatus) { s.status.set(v) }

func (s *Standalone) repoLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.repoLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.repoLocks[key] = l
	}
	return l
}

// Execute runs cmd to completion, recording an audit entry regardless
// of outcome.
func (s *Standalone) Execute(ctx context.Context, cmd command.Command) (Result, error) {
	cmd.Normalize(time.Now())

	if err := checkWritable(s.status.get(), cmd); err != nil {
		recordAudit(s.audit, s.log, cmd, "", "", 0, err)
		return Result{}, err
	}

	if cmd.Type == command.TypeUpdateServerStatus {
		var p command.UpdateServerStatusPayload
		if err := decodePayload(cmd, &p); err != nil {
			recordAudit(s.audit, s.log, cmd, "", "", 0, err)
			return Result{}, err
		}
		s.status.set(ServerStatus(p.Status))
		recordAudit(s.audit, s.log, cmd, "", "", 0, nil)
		return Result{}, nil
	}

	proj, repo, err := commandTarget(cmd)
	if err != nil {
		recordAudit(s.audit, s.log, cmd, "", "", 0, err)
		return Result{}, err
	}

	unlock := s.acquire(cmd, proj, repo)
	defer unlock()

	result, execErr := dispatch(ctx, s.mgr, s.sessions, cmd)
	recordAudit(s.audit, s.log, cmd, proj, repo, result.Revision, execErr)
	return result, execErr
}

// acquire takes the per-(project,repository) lock for Push, or the
// global lock for every lifecycle command — mirroring the replicated
// variant's locking rule (spec §4.6 step 2a) so both variants apply the
// same serialization even though only the replicated one needs it for
// correctness across a cluster.
func (s *Standalone) acquire(cmd command.Command, proj, repo string) func() {
	if cmd.Type == command.TypePush {
		l := s.repoLock(proj + "/" + repo)
		l.Lock()
		return l.Unlock
	}
	s.globalMu.Lock()
	return s.globalMu.Unlock
}

var _ Executor = (*Standalone)(nil)
