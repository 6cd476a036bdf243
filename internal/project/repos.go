package project

import (
	"context"
	"os"
	"time"

	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/objectstore"
	"github.com/centraldogma-project/centraldogma/internal/repository"
)

// openStore resolves the on-disk object store for an existing
// repository, choosing GitStore or EncryptedStore per the catalog's
// encrypted flag (set once and for all by MigrateRepositoryToEncrypted).
func (m *Manager) openStore(project, name string, encrypted bool) (objectstore.Store, error) {
	if !encrypted {
		store, err := objectstore.NewGitStore(m.repoDir(project, name))
		if err != nil {
			return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "open object store for %s/%s", project, name)
		}
		return store, nil
	}
	if m.cfg.KeyProvider == nil {
		return nil, dogerrors.New(dogerrors.CodeStorageFailed, "repository %s/%s is encrypted but no KeyProvider is configured", project, name)
	}
	store, err := objectstore.NewEncryptedStore(m.encryptedRepoDir(project, name), m.cfg.KeyProvider)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "open encrypted object store for %s/%s", project, name)
	}
	return store, nil
}

// CreateRepository creates a new repository within an already-active
// project: an on-disk object store plus its catalog row.
func (m *Manager) CreateRepository(ctx context.Context, project, name string, ts int64, author objectstore.Signature) (*repository.Repository, error) {
	if ts == 0 {
		ts = time.Now().Unix()
	}
	if _, err := m.catalog.GetProject(ctx, project); err != nil {
		return nil, err
	}
	unlock := m.lockName(cacheKey(project, name))
	defer unlock()
	return m.createRepositoryLocked(ctx, project, name, ts, author)
}

// createRepositoryLocked does the actual creation; callers must already
// hold the per-(project,name) logical lock. Used directly by
// CreateProject to seed the two well-known repositories without
// recursively acquiring a lock CreateRepository already holds.
func (m *Manager) createRepositoryLocked(ctx context.Context, project, name string, ts int64, author objectstore.Signature) (*repository.Repository, error) {
	if _, err := m.catalog.CreateRepositoryMeta(ctx, project, name, ts, author); err != nil {
		return nil, err
	}
	store, err := m.openStore(project, name, false)
	if err != nil {
		return nil, err
	}
	r, err := repository.CreateRepository(ctx, store, project, name, ts, author)
	if err != nil {
		return nil, err
	}
	m.cache.Add(cacheKey(project, name), r)
	return r, nil
}

// GetRepository resolves an active repository, serving from cache when
// warm and opening (and caching) it from disk otherwise.
func (m *Manager) GetRepository(ctx context.Context, project, name string) (*repository.Repository, error) {
	meta, err := m.catalog.GetRepositoryMeta(ctx, project, name)
	if err != nil {
		return nil, err
	}
	key := cacheKey(project, name)
	if r, ok := m.cache.Get(key); ok {
		return r, nil
	}

	unlock := m.lockName(key)
	defer unlock()
	if r, ok := m.cache.Get(key); ok { // re-check: another goroutine may have opened it while we waited
		return r, nil
	}
	store, err := m.openStore(project, name, meta.Encrypted)
	if err != nil {
		return nil, err
	}
	r, err := repository.OpenRepository(ctx, store, project, name)
	if err != nil {
		return nil, err
	}
	m.cache.Add(key, r)
	return r, nil
}

// ListRepositories returns the names of every active repository in
// project (catalog-backed; does not require opening each one).
func (m *Manager) ListRepositories(ctx context.Context, project string) ([]string, error) {
	rows, err := m.catalog.ListRepositoryMetas(ctx, project)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Name
	}
	return out, nil
}

// ListRemovedRepositories returns the names of every soft-deleted
// repository in project.
func (m *Manager) ListRemovedRepositories(ctx context.Context, project string) ([]string, error) {
	rows, err := m.catalog.ListRemovedRepositoryMetas(ctx, project)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Name
	}
	return out, nil
}

// RemoveRepository soft-deletes a repository: its handle is evicted
// from cache (spec §3's "watchers are weak references" wake-up on
// Shutdown) and it becomes invisible to Get/List, but remains on disk
// (renamed under a hidden prefix) until Purge.
func (m *Manager) RemoveRepository(ctx context.Context, project, name string, ts int64) error {
	if ts == 0 {
		ts = time.Now().Unix()
	}
	key := cacheKey(project, name)
	unlock := m.lockName(key)
	defer unlock()

	if err := m.catalog.RemoveRepositoryMeta(ctx, project, name, ts, m.cfg.PurgeGraceSeconds); err != nil {
		return err
	}
	if r, ok := m.cache.Get(key); ok {
		r.Shutdown()
	}
	m.cache.Remove(key)
	if err := os.Rename(m.repoDir(project, name), m.hiddenRepoDir(project, name)); err != nil && !os.IsNotExist(err) {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "hide removed repository %s/%s", project, name)
	}
	return nil
}

// UnremoveRepository restores a soft-deleted repository before purge.
func (m *Manager) UnremoveRepository(ctx context.Context, project, name string) error {
	unlock := m.lockName(cacheKey(project, name))
	defer unlock()
	if err := m.catalog.UnremoveRepositoryMeta(ctx, project, name); err != nil {
		return err
	}
	if err := os.Rename(m.hiddenRepoDir(project, name), m.repoDir(project, name)); err != nil && !os.IsNotExist(err) {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "restore removed repository %s/%s", project, name)
	}
	return nil
}

// PurgeRepository permanently deletes a soft-deleted repository's
// on-disk object store (hidden or not — defensive against a crash
// between RemoveRepository's rename and this call) and its catalog row.
// Blocks until the repository is quiescent (spec §13 Open Question 2:
// no in-flight commit, no registered watcher), failing with
// CodeTimeout if it stays busy past PurgeQuiescenceTimeout.
func (m *Manager) PurgeRepository(ctx context.Context, project, name string) error {
	key := cacheKey(project, name)
	unlock := m.lockName(key)
	defer unlock()

	if err := m.waitQuiescent(ctx, key); err != nil {
		return err
	}
	m.cache.Remove(key)
	if err := os.RemoveAll(m.hiddenRepoDir(project, name)); err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "remove object store for %s/%s", project, name)
	}
	if err := os.RemoveAll(m.repoDir(project, name)); err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "remove object store for %s/%s", project, name)
	}
	if err := os.RemoveAll(m.encryptedRepoDir(project, name)); err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "remove encrypted object store for %s/%s", project, name)
	}
	if err := os.RemoveAll(m.retiredRepoDir(project, name)); err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "remove retired object store for %s/%s", project, name)
	}
	return m.catalog.PurgeRepositoryMeta(ctx, project, name)
}

// MigrateRepositoryToEncrypted copies a plaintext repository's object
// store into a new EncryptedStore, byte-identical object hashes
// preserved (spec §4.1 invariant: migration "does NOT change object
// identity or content bytes"), then flips the repository to the
// encrypted backend and retires the plaintext directory. Idempotent:
// an already-encrypted repository is left untouched.
func (m *Manager) MigrateRepositoryToEncrypted(ctx context.Context, project, name string) error {
	key := cacheKey(project, name)
	unlock := m.lockName(key)
	defer unlock()

	meta, err := m.catalog.GetRepositoryMeta(ctx, project, name)
	if err != nil {
		return err
	}
	if meta.Encrypted {
		return nil
	}
	if m.cfg.KeyProvider == nil {
		return dogerrors.New(dogerrors.CodeStorageFailed, "cannot migrate %s/%s: no KeyProvider configured", project, name)
	}

	src, err := objectstore.NewGitStore(m.repoDir(project, name))
	if err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "open source object store for %s/%s", project, name)
	}
	defer src.Close()

	dst, err := objectstore.NewEncryptedStore(m.encryptedRepoDir(project, name), m.cfg.KeyProvider)
	if err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "create encrypted object store for %s/%s", project, name)
	}
	defer dst.Close()

	if err := objectstore.CopyAll(ctx, src, dst); err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "copy objects for %s/%s", project, name)
	}

	if r, ok := m.cache.Get(key); ok {
		r.Shutdown()
	}
	m.cache.Remove(key)

	if err := m.catalog.MarkRepositoryEncrypted(ctx, project, name); err != nil {
		return err
	}
	// Retire the plaintext directory under the same hidden-prefix idiom
	// soft-delete uses, rather than deleting outright: a failed
	// migration halfway through should never destroy recoverable data.
	if err := os.Rename(m.repoDir(project, name), m.retiredRepoDir(project, name)); err != nil && !os.IsNotExist(err) {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "retire plaintext store for %s/%s", project, name)
	}
	return nil
}

// SweepDuePurges permanently deletes every soft-deleted project and
// repository whose purge deadline has elapsed as of now. Intended to
// run periodically from a background ticker.
func (m *Manager) SweepDuePurges(ctx context.Context, now int64) error {
	dueRepos, err := m.catalog.DuePurgeRepositories(ctx, now)
	if err != nil {
		return err
	}
	for _, r := range dueRepos {
		if err := m.PurgeRepository(ctx, r.Project, r.Name); err != nil {
			return err
		}
	}
	dueProjects, err := m.catalog.DuePurgeProjects(ctx, now)
	if err != nil {
		return err
	}
	for _, p := range dueProjects {
		if err := m.PurgeProject(ctx, p.Name); err != nil {
			return err
		}
	}
	return nil
}
