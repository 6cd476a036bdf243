package executor

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/centraldogma-project/centraldogma/internal/change"
	"github.com/centraldogma-project/centraldogma/internal/command"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/project"
)

func newTestStandalone(t *testing.T) *Standalone {
	t.Helper()
	mgr, err := project.Open(project.Config{RootDir: filepath.Join(t.TempDir(), "projects")})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return NewStandalone(mgr, filepath.Join(t.TempDir(), "audit"))
}

func mustPayload(t *testing.T, typ command.Type, payload any) command.Command {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return command.Command{Type: typ, Author: "tester", Timestamp: 1000, Payload: data}
}

func TestStandaloneCreateAndPushRepository(t *testing.T) {
	s := newTestStandalone(t)
	ctx := context.Background()

	_, err := s.Execute(ctx, mustPayload(t, command.TypeCreateProject, command.CreateProjectPayload{Name: "foo"}))
	require.NoError(t, err)

	_, err = s.Execute(ctx, mustPayload(t, command.TypeCreateRepository, command.CreateRepositoryPayload{Project: "foo", Name: "bar"}))
	require.NoError(t, err)

	pushCmd, err := command.NewPush("foo", "bar", 1, "add file", "", change.MarkupPlaintext,
		[]change.Change{{Kind: change.KindUpsertJSON, Path: "/a.json", Content: []byte(`{"x":1}`)}},
		"tester", 2000)
	require.NoError(t, err)

	result, err := s.Execute(ctx, pushCmd)
	require.NoError(t, err)
	require.Equal(t, int64(2), result.Revision)
}

func TestStandaloneRejectsMutationsWhenReadOnly(t *testing.T) {
	s := newTestStandalone(t)
	ctx := context.Background()
	s.SetStatus(StatusReadOnly)

	_, err := s.Execute(ctx, mustPayload(t, command.TypeCreateProject, command.CreateProjectPayload{Name: "foo"}))
	require.Error(t, err)
	var derr *dogerrors.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dogerrors.CodeReadOnly, derr.Code)
}

func TestStandaloneForcePushBypassesReadOnly(t *testing.T) {
	s := newTestStandalone(t)
	ctx := context.Background()

	_, err := s.Execute(ctx, mustPayload(t, command.TypeCreateProject, command.CreateProjectPayload{Name: "foo"}))
	require.NoError(t, err)

	s.SetStatus(StatusReadOnly)

	cmd := command.WrapForcePush(mustPayload(t, command.TypeCreateRepository, command.CreateRepositoryPayload{Project: "foo", Name: "bar"}))
	_, err = s.Execute(ctx, cmd)
	require.NoError(t, err)
}

func TestStandaloneUpdateServerStatus(t *testing.T) {
	s := newTestStandalone(t)
	ctx := context.Background()

	_, err := s.Execute(ctx, mustPayload(t, command.TypeUpdateServerStatus, command.UpdateServerStatusPayload{Status: string(StatusReplicationOnly)}))
	require.NoError(t, err)
	require.Equal(t, StatusReplicationOnly, s.Status())
}

func TestStandaloneSessionLifecycle(t *testing.T) {
	s := newTestStandalone(t)
	ctx := context.Background()

	_, err := s.Execute(ctx, mustPayload(t, command.TypeCreateSession, command.SessionPayload{SessionID: "sess1", Subject: "alice"}))
	require.NoError(t, err)

	_, err = s.Execute(ctx, mustPayload(t, command.TypeRemoveSession, command.SessionPayload{SessionID: "sess1"}))
	require.NoError(t, err)

	_, err = s.Execute(ctx, mustPayload(t, command.TypeRemoveSession, command.SessionPayload{SessionID: "sess1"}))
	require.Error(t, err)
	var derr *dogerrors.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dogerrors.CodeSessionNotFound, derr.Code)
}

func TestStandaloneMigrateRepositoryToEncrypted(t *testing.T) {
	s := newTestStandalone(t)
	ctx := context.Background()

	_, err := s.Execute(ctx, mustPayload(t, command.TypeCreateProject, command.CreateProjectPayload{Name: "foo"}))
	require.NoError(t, err)
	_, err = s.Execute(ctx, mustPayload(t, command.TypeCreateRepository, command.CreateRepositoryPayload{Project: "foo", Name: "bar"}))
	require.NoError(t, err)

	_, err = s.Execute(ctx, mustPayload(t, command.TypeMigrateToEncryptedRepository, command.MigrateToEncryptedRepositoryPayload{Project: "foo", Name: "bar"}))
	require.Error(t, err) // KeyProvider isn't configured on this test Manager
}

func TestReplicatedSingleNodeBootstrapAndPush(t *testing.T) {
	mgr, err := project.Open(project.Config{RootDir: filepath.Join(t.TempDir(), "projects")})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	e, err := NewReplicated(mgr, filepath.Join(t.TempDir(), "audit"), ReplicatedConfig{
		NodeID:         "node1",
		BindAddr:       "127.0.0.1:0",
		DataDir:        filepath.Join(t.TempDir(), "raft"),
		Bootstrap:      true,
		CommandTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Shutdown() })

	require.Eventually(t, func() bool { return e.raft.State().String() == "Leader" }, 5*time.Second, 50*time.Millisecond)

	ctx := context.Background()
	_, err = e.Execute(ctx, mustPayload(t, command.TypeCreateProject, command.CreateProjectPayload{Name: "foo"}))
	require.NoError(t, err)

	_, err = e.Execute(ctx, mustPayload(t, command.TypeCreateRepository, command.CreateRepositoryPayload{Project: "foo", Name: "bar"}))
	require.NoError(t, err)

	pushCmd, err := command.NewPush("foo", "bar", 1, "add file", "", change.MarkupPlaintext,
		[]change.Change{{Kind: change.KindUpsertJSON, Path: "/a.json", Content: []byte(`{"x":1}`)}},
		"tester", 2000)
	require.NoError(t, err)

	result, err := e.Execute(ctx, pushCmd)
	require.NoError(t, err)
	require.Equal(t, int64(2), result.Revision)
}
