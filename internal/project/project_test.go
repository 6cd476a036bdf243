package project

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/centraldogma-project/centraldogma/internal/change"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/objectstore"
	"github.com/centraldogma-project/centraldogma/internal/repository"
	"github.com/centraldogma-project/centraldogma/internal/revision"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := Open(Config{RootDir: filepath.Join(t.TempDir(), "projects")})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func testAuthor() objectstore.Signature {
	return objectstore.Signature{Name: "tester", Email: "tester@example.com", When: 1000}
}

type fixedKeyProvider struct{}

func (fixedKeyProvider) CurrentKEK() (string, [32]byte, error) { return "k1", [32]byte{7}, nil }
func (fixedKeyProvider) KEK(string) ([32]byte, error)          { return [32]byte{7}, nil }

func TestCreateProjectSeedsWellKnownRepositories(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateProject(ctx, "foo", 1000, testAuthor())
	require.NoError(t, err)

	repos, err := m.ListRepositories(ctx, "foo")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{MetaRepositoryName, DogmaRepositoryName}, repos)
}

func TestCreateProjectTwiceFails(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.CreateProject(ctx, "foo", 1000, testAuthor())
	require.NoError(t, err)
	_, err = m.CreateProject(ctx, "foo", 1001, testAuthor())
	require.Error(t, err)
}

func TestGetRepositoryCachesHandle(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.CreateProject(ctx, "foo", 1000, testAuthor())
	require.NoError(t, err)

	r1, err := m.GetRepository(ctx, "foo", DogmaRepositoryName)
	require.NoError(t, err)
	r2, err := m.GetRepository(ctx, "foo", DogmaRepositoryName)
	require.NoError(t, err)
	require.Same(t, r1, r2)
}

func TestCommitThroughManagedRepository(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.CreateProject(ctx, "foo", 1000, testAuthor())
	require.NoError(t, err)

	r, err := m.GetRepository(ctx, "foo", DogmaRepositoryName)
	require.NoError(t, err)
	base := r.Head()

	_, err = r.Commit(ctx, base, 2000, testAuthor(), testAuthor(), "add file", "", change.MarkupPlaintext,
		[]change.Change{{Kind: change.KindUpsertJSON, Path: "/a.json", Content: []byte(`{"x":1}`)}},
		repository.CommitOptions{})
	require.NoError(t, err)
}

func TestRemoveUnremoveRepository(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.CreateProject(ctx, "foo", 1000, testAuthor())
	require.NoError(t, err)

	require.NoError(t, m.RemoveRepository(ctx, "foo", DogmaRepositoryName, 2000))
	_, err = m.GetRepository(ctx, "foo", DogmaRepositoryName)
	require.Error(t, err)

	removed, err := m.ListRemovedRepositories(ctx, "foo")
	require.NoError(t, err)
	require.Contains(t, removed, DogmaRepositoryName)

	require.NoError(t, m.UnremoveRepository(ctx, "foo", DogmaRepositoryName))
	_, err = m.GetRepository(ctx, "foo", DogmaRepositoryName)
	require.NoError(t, err)
}

func TestPurgeProjectRemovesDirectory(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.CreateProject(ctx, "foo", 1000, testAuthor())
	require.NoError(t, err)

	require.NoError(t, m.RemoveProject(ctx, "foo", 2000))
	require.NoError(t, m.PurgeProject(ctx, "foo"))

	_, err = m.GetProject(ctx, "foo")
	require.Error(t, err)
}

func TestMigrateRepositoryToEncryptedPreservesContent(t *testing.T) {
	m, err := Open(Config{RootDir: filepath.Join(t.TempDir(), "projects"), KeyProvider: fixedKeyProvider{}})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	ctx := context.Background()

	_, err = m.CreateProject(ctx, "foo", 1000, testAuthor())
	require.NoError(t, err)

	r, err := m.GetRepository(ctx, "foo", DogmaRepositoryName)
	require.NoError(t, err)
	base := r.Head()
	_, err = r.Commit(ctx, base, 2000, testAuthor(), testAuthor(), "add file", "", change.MarkupPlaintext,
		[]change.Change{{Kind: change.KindUpsertJSON, Path: "/a.json", Content: []byte(`{"x":1}`)}},
		repository.CommitOptions{})
	require.NoError(t, err)

	require.NoError(t, m.MigrateRepositoryToEncrypted(ctx, "foo", DogmaRepositoryName))

	r2, err := m.GetRepository(ctx, "foo", DogmaRepositoryName)
	require.NoError(t, err)
	require.NotSame(t, r, r2) // migration evicts the cached plaintext handle

	entry, err := r2.Get(ctx, revision.Revision(r2.Head()), "/a.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(entry.Content))

	// idempotent: migrating again is a no-op, not an error
	require.NoError(t, m.MigrateRepositoryToEncrypted(ctx, "foo", DogmaRepositoryName))
}

// TestWaitQuiescentTimesOutThenSucceeds exercises the quiescence wait
// PurgeRepository/PurgeProject rely on directly: a repository with a
// registered watcher is busy and waitQuiescent returns CodeTimeout
// within the configured bound; once the watcher's own deadline elapses
// and the waiter count drops back to zero, the same call succeeds.
func TestWaitQuiescentTimesOutThenSucceeds(t *testing.T) {
	m, err := Open(Config{RootDir: filepath.Join(t.TempDir(), "projects"), PurgeQuiescenceTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	ctx := context.Background()

	_, err = m.CreateProject(ctx, "foo", 1000, testAuthor())
	require.NoError(t, err)
	r, err := m.GetRepository(ctx, "foo", DogmaRepositoryName)
	require.NoError(t, err)

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		r.Watch(ctx, revision.Revision(r.Head()), "/unmatched/**", 300*time.Millisecond)
	}()
	require.Eventually(t, func() bool { return r.Busy() }, time.Second, time.Millisecond)

	key := cacheKey("foo", DogmaRepositoryName)
	err = m.waitQuiescent(ctx, key)
	require.Error(t, err)
	var derr *dogerrors.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dogerrors.CodeTimeout, derr.Code)

	<-watchDone // the watcher's own deadline elapses, dropping the waiter count to zero
	require.NoError(t, m.waitQuiescent(ctx, key))
}

func TestSweepDuePurges(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.CreateProject(ctx, "foo", 1000, testAuthor())
	require.NoError(t, err)
	require.NoError(t, m.RemoveRepository(ctx, "foo", MetaRepositoryName, 2000))

	require.NoError(t, m.SweepDuePurges(ctx, 2000+DefaultPurgeGraceSeconds))

	removed, err := m.ListRemovedRepositories(ctx, "foo")
	require.NoError(t, err)
	require.NotContains(t, removed, MetaRepositoryName)
}
