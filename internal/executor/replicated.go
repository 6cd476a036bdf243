package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/centraldogma-project/centraldogma/internal/command"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/logging"
	"github.com/centraldogma-project/centraldogma/internal/project"
)

// DefaultCommandTimeout is spec §5's "per-command default governed by
// server config with defaults of 60 seconds."
const DefaultCommandTimeout = 60 * time.Second

// ReplicatedConfig controls one replica's raft transport and storage.
type ReplicatedConfig struct {
	NodeID         string // raft.ServerID
	BindAddr       string // host:port this replica listens on and advertises
	DataDir        string // holds the raft log/stable store and snapshots
	Bootstrap      bool   // true for the node that founds a brand-new cluster
	CommandTimeout time.Duration
}

// Replicated is the consensus-log Command Executor variant (spec §4.6):
// "leader election via the external consensus service" (hashicorp/raft
// here), commands proposed as log entries, followers replaying in
// order. Grounded on other_examples/manifests/cuemby-warren's BoltDB-
// backed embedded storage idiom for the log/stable store
// (raft-boltdb wraps go.etcd.io/bbolt, the same embedded KV engine that
// package leans on directly).
type Replicated struct {
	mgr      *project.Manager
	sessions *sessionStore
	status   *statusHolder
	audit    auditConfig
	log      logging.Logger
	cfg      ReplicatedConfig

	raft *raft.Raft
	fsm  *fsm

	mu        sync.Mutex
	repoLocks map[string]*sync.Mutex
	globalMu  sync.Mutex
}

// NewReplicated wires raft over mgr's state and either bootstraps a new
// single-node cluster (cfg.Bootstrap) or joins an existing one (the
// caller is expected to issue a join request against the current
// leader out-of-band — spec.md treats cluster membership change as
// external consensus-service plumbing, not a Command).
func NewReplicated(mgr *project.Manager, auditDir string, cfg ReplicatedConfig) (*Replicated, error) {
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "create raft data directory %s", cfg.DataDir)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.bolt"))
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "open raft log store")
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.bolt"))
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "open raft stable store")
	}
	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "open raft snapshot store")
	}
	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "resolve raft bind address %s", cfg.BindAddr)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "open raft transport on %s", cfg.BindAddr)
	}

	status := newStatusHolder(StatusWritable)
	f := &fsm{
		mgr:      mgr,
		sessions: newSessionStore(),
		status:   status,
		log:      logging.For("executor.fsm"),
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	r, err := raft.NewRaft(raftCfg, f, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeReplicationFailed, err, "start raft node %s", cfg.NodeID)
	}

	if cfg.Bootstrap {
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
		})
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, dogerrors.Wrap(dogerrors.CodeReplicationFailed, err, "bootstrap raft cluster")
		}
	}

	e := &Replicated{
		mgr:       mgr,
		sessions:  f.sessions,
		status:    status,
		audit:     auditConfig{dir: auditDir},
		log:       logging.For("executor.replicated"),
		cfg:       cfg,
		raft:      r,
		fsm:       f,
		repoLocks: make(map[string]*sync.Mutex),
	}
	go e.watchLeadership()
	return e, nil
}

// watchLeadership logs transitions; spec §4.6 step 1's "onTakeLeadership"
// has no extra state to rebuild here (state lives outside the FSM), so
// the hook is purely observational.
func (e *Replicated) watchLeadership() {
	for leader := range e.raft.LeaderCh() {
		if leader {
			e.log.Info("took leadership")
		} else {
			e.log.Info("lost leadership")
		}
	}
}

func (e *Replicated) Status() ServerStatus     { return e.status.get() }
func (e *Replicated) SetStatus(v ServerStatus) { e.status.set(v) }

func (e *Replicated) repoLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.repoLocks[key]
	if !ok {
		l = &sync.Mutex{}
		e.repoLocks[key] = l
	}
	return l
}

func (e *Replicated) acquire(cmd command.Command, proj, repo string) func() {
	if cmd.Type == command.TypePush {
		l := e.repoLock(proj + "/" + repo)
		l.Lock()
		return l.Unlock
	}
	e.globalMu.Lock()
	return e.globalMu.Unlock
}

// Execute proposes cmd to the log and waits for it to commit (spec
// §4.6 step 2: "(b) appends the command to the replication log; (c)
// applies it locally; (d) replies to the client only after the log
// entry is committed"). Cancellation/timeout never un-applies an
// already-appended entry (spec §5): a Timeout here means the client
// gave up waiting, not that the write didn't happen.
func (e *Replicated) Execute(ctx context.Context, cmd command.Command) (Result, error) {
	cmd.Normalize(time.Now())

	if e.raft.State() != raft.Leader {
		return Result{}, dogerrors.New(dogerrors.CodeReadOnly, "not the leader; retry against the current leader")
	}
	if err := checkWritable(e.status.get(), cmd); err != nil {
		return Result{}, err
	}

	proj, repo, err := commandTarget(cmd)
	if err != nil {
		return Result{}, err
	}

	unlock := e.acquire(cmd, proj, repo)
	defer unlock()

	timeout := e.cfg.CommandTimeout
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < timeout {
			timeout = remaining
		}
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return Result{}, dogerrors.Wrap(dogerrors.CodeInvalidArgument, err, "encode command")
	}

	future := e.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if err == raft.ErrEnqueueTimeout {
			return Result{}, dogerrors.Wrap(dogerrors.CodeTimeout, err, "command %s timed out waiting for log commit", cmd.Type)
		}
		return Result{}, dogerrors.Wrap(dogerrors.CodeReplicationFailed, err, "command %s failed to replicate", cmd.Type)
	}

	resp, ok := future.Response().(applyResult)
	if !ok {
		return Result{}, dogerrors.New(dogerrors.CodeReplicationFailed, "unexpected FSM response type %T", future.Response())
	}
	recordAudit(e.audit, e.log, cmd, proj, repo, resp.Result.Revision, resp.Err)
	return resp.Result, resp.Err
}

// Shutdown stops the raft node and its transport, closing its bolt
// handles.
func (e *Replicated) Shutdown() error {
	if err := e.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("shutdown raft: %w", err)
	}
	return nil
}

var _ Executor = (*Replicated)(nil)
