// Package project implements the Project/Repository Manager of spec
// §4.5: durable metadata lives in internal/catalog, each repository's
// commit history lives in its own internal/repository.Repository
// backed by an on-disk internal/objectstore.GitStore (or an
// EncryptedStore once migrated), and a weighted
// cache keeps recently-resolved repositories warm without holding
// every project's full history open forever.
//
// Grounded on the teacher's internal/daemon/registry.go for the
// file-lock-guarded "one mutator at a time" idiom (here: per-name
// logical locking via gofrs/flock during project creation, same library
// the teacher's cmd/bd/sync.go uses for its own exclusive lock), and on
// beads.go's top-level Store/Manager wiring for how a CLI-facing
// manager type composes lower layers.
package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/centraldogma-project/centraldogma/internal/catalog"
	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/logging"
	"github.com/centraldogma-project/centraldogma/internal/objectstore"
	"github.com/centraldogma-project/centraldogma/internal/repository"
)

// DefaultPurgeGraceSeconds is the grace period before a soft-deleted
// project or repository becomes eligible for purge (spec §4.5,
// "configurable, default 7 days").
const DefaultPurgeGraceSeconds = 7 * 24 * 3600

// DefaultPurgeQuiescenceTimeout bounds how long Purge{Project,
// Repository} wait for an in-use repository to go idle (no in-flight
// commit, no registered watcher) before giving up with CodeTimeout.
const DefaultPurgeQuiescenceTimeout = 30 * time.Second

// quiescencePollInterval is how often a purge re-checks Repository.Busy
// while waiting it out.
const quiescencePollInterval = 50 * time.Millisecond

// Metadata and dogma are the two well-known repositories spec §6
// mandates inside every project, holding mirrors/credentials/tokens/
// members as ordinary JSON entries.
const (
	MetaRepositoryName  = "meta"
	DogmaRepositoryName = "dogma"
)

// Project is a read-only view of a project's catalog row plus its two
// well-known repositories.
type Project struct {
	Name      string
	CreatedAt int64
	Author    objectstore.Signature
}

// Config controls where a Manager lays out its projects on disk and
// the shape of its repository cache.
type Config struct {
	RootDir                string        // parent directory; one subdirectory per project
	PurgeGraceSeconds      int64         // 0 means DefaultPurgeGraceSeconds
	PurgeQuiescenceTimeout time.Duration // 0 means DefaultPurgeQuiescenceTimeout
	CacheMaxEntries        int           // max open repositories kept warm, 0 means a sane default
	CacheMaxWeight         int           // total weight budget, 0 means a sane default
	RepositoryWeigher      Weigher[*repository.Repository]

	// KeyProvider, if set, allows MigrateToEncryptedRepository to open
	// encrypted object stores (spec §4.1's optional encrypted backend).
	// Managers that never migrate a repository can leave this nil.
	KeyProvider objectstore.KeyProvider
}

// Manager is the Project/Repository Manager of spec §4.5.
type Manager struct {
	cfg     Config
	catalog *catalog.Catalog
	log     logging.Logger

	nameLocks sync.Map // name -> *sync.Mutex, serializes create/remove per logical name

	cache *weightedCache[*repository.Repository]
}

// Open opens (creating if absent) the manager's catalog database under
// cfg.RootDir and prepares its repository cache.
func Open(cfg Config) (*Manager, error) {
	if cfg.PurgeGraceSeconds == 0 {
		cfg.PurgeGraceSeconds = DefaultPurgeGraceSeconds
	}
	if cfg.PurgeQuiescenceTimeout == 0 {
		cfg.PurgeQuiescenceTimeout = DefaultPurgeQuiescenceTimeout
	}
	if cfg.CacheMaxEntries == 0 {
		cfg.CacheMaxEntries = 256
	}
	if cfg.CacheMaxWeight == 0 {
		cfg.CacheMaxWeight = 256
	}
	if cfg.RepositoryWeigher == nil {
		cfg.RepositoryWeigher = func(string, *repository.Repository) int { return 1 }
	}

	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "create project root %s", cfg.RootDir)
	}
	cat, err := catalog.Open(filepath.Join(cfg.RootDir, "catalog.db"))
	if err != nil {
		return nil, err
	}
	cache, err := newWeightedCache(cfg.CacheMaxEntries, cfg.CacheMaxWeight, cfg.RepositoryWeigher)
	if err != nil {
		cat.Close()
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "create repository cache")
	}

	return &Manager{
		cfg:     cfg,
		catalog: cat,
		log:     logging.For("project"),
		cache:   cache,
	}, nil
}

// Close releases the manager's catalog handle.
func (m *Manager) Close() error {
	return m.catalog.Close()
}

func (m *Manager) projectDir(name string) string {
	return filepath.Join(m.cfg.RootDir, name)
}

func (m *Manager) repoDir(project, repo string) string {
	return filepath.Join(m.projectDir(project), repo+".git")
}

// encryptedRepoDir is where an encrypted repository's EncryptedStore
// lives once MigrateToEncryptedRepository has run — kept under a
// distinct suffix from repoDir so the two backends never collide on
// disk during the copy step of a migration.
func (m *Manager) encryptedRepoDir(project, repo string) string {
	return filepath.Join(m.projectDir(project), repo+".dogma")
}

// retiredRepoDir is where a migrated-away plaintext store is kept
// (distinct from hiddenRepoDir, which soft-delete uses) so a later
// remove/unremove cycle on the now-encrypted repository never collides
// with leftover migration data.
func (m *Manager) retiredRepoDir(project, repo string) string {
	return filepath.Join(m.projectDir(project), "dogma-migrated."+repo+".git")
}

// hiddenRepoDir is where a soft-deleted repository's object store lives
// between RemoveRepository and PurgeRepository/UnremoveRepository — the
// "dogma-removed" prefix mirrors the teacher's own tombstone idiom of
// marking removed state by name rather than deleting data immediately.
func (m *Manager) hiddenRepoDir(project, repo string) string {
	return filepath.Join(m.projectDir(project), "dogma-removed."+repo+".git")
}

// lockName serializes create/remove/unremove/purge for one logical
// name (spec §5: "create/remove serialize on a per-name logical key").
func (m *Manager) lockName(name string) func() {
	v, _ := m.nameLocks.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// flockPath builds a cross-process advisory lock alongside the
// project's directory, guarding the CreateProject window across
// multiple server processes sharing one RootDir — the in-process
// nameLocks mutex only protects goroutines within this one Manager.
func (m *Manager) flockPath(name string) string {
	return filepath.Join(m.cfg.RootDir, "."+name+".lock")
}

func withProcessLock(path string, fn func() error) error {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return dogerrors.Wrap(dogerrors.CodeLockBusy, err, "acquire lock %s", path)
	}
	if !locked {
		return dogerrors.New(dogerrors.CodeLockBusy, "lock %s held by another process", path)
	}
	defer lock.Unlock()
	return fn()
}

// CreateProject creates a new project directory, its two well-known
// repositories (meta, dogma), and the catalog row (spec §4.5 create,
// §6 "meta and dogma repositories of each project").
func (m *Manager) CreateProject(ctx context.Context, name string, ts int64, author objectstore.Signature) (*Project, error) {
	if ts == 0 {
		ts = time.Now().Unix()
	}
	unlock := m.lockName(name)
	defer unlock()

	var p *Project
	err := withProcessLock(m.flockPath(name), func() error {
		if _, err := m.catalog.CreateProject(ctx, name, ts, author); err != nil {
			return err
		}
		if err := os.MkdirAll(m.projectDir(name), 0o755); err != nil {
			return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "create project directory for %s", name)
		}
		for _, repoName := range []string{MetaRepositoryName, DogmaRepositoryName} {
			if _, err := m.createRepositoryLocked(ctx, name, repoName, ts, author); err != nil {
				return fmt.Errorf("create well-known repository %s: %w", repoName, err)
			}
		}
		p = &Project{Name: name, CreatedAt: ts, Author: author}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetProject returns an active project's metadata.
func (m *Manager) GetProject(ctx context.Context, name string) (*Project, error) {
	p, err := m.catalog.GetProject(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Project{Name: p.Name, CreatedAt: p.CreatedAt, Author: p.Author}, nil
}

// ListProjects returns every active project.
func (m *Manager) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := m.catalog.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Project, len(rows))
	for i, p := range rows {
		out[i] = &Project{Name: p.Name, CreatedAt: p.CreatedAt, Author: p.Author}
	}
	return out, nil
}

// ListRemovedProjects returns every soft-deleted project.
func (m *Manager) ListRemovedProjects(ctx context.Context) ([]*Project, error) {
	rows, err := m.catalog.ListRemovedProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Project, len(rows))
	for i, p := range rows {
		out[i] = &Project{Name: p.Name, CreatedAt: p.CreatedAt, Author: p.Author}
	}
	return out, nil
}

// RemoveProject soft-deletes a project: it no longer appears in
// GetProject/ListProjects, and its repositories remain on disk until
// purge. GetRepository and ListRepositories do not check the project's
// removal state, so its repositories stay reachable through them.
func (m *Manager) RemoveProject(ctx context.Context, name string, ts int64) error {
	if ts == 0 {
		ts = time.Now().Unix()
	}
	unlock := m.lockName(name)
	defer unlock()
	return m.catalog.RemoveProject(ctx, name, ts, m.cfg.PurgeGraceSeconds)
}

// UnremoveProject restores a soft-deleted project before purge.
func (m *Manager) UnremoveProject(ctx context.Context, name string) error {
	unlock := m.lockName(name)
	defer unlock()
	return m.catalog.UnremoveProject(ctx, name)
}

// PurgeProject permanently deletes a soft-deleted project: its on-disk
// directory (all repositories' object stores) and its catalog rows.
// Blocks until every still-cached repository under the project is
// quiescent (spec §13 Open Question 2), failing with CodeTimeout if
// one stays busy past PurgeQuiescenceTimeout.
func (m *Manager) PurgeProject(ctx context.Context, name string) error {
	unlock := m.lockName(name)
	defer unlock()

	repos, err := m.catalog.ListRepositoryMetas(ctx, name)
	if err != nil {
		return err
	}
	removedRepos, err := m.catalog.ListRemovedRepositoryMetas(ctx, name)
	if err != nil {
		return err
	}
	all := append(repos, removedRepos...)
	for _, r := range all {
		if err := m.waitQuiescent(ctx, cacheKey(name, r.Name)); err != nil {
			return err
		}
	}
	for _, r := range all {
		m.cache.Remove(cacheKey(name, r.Name))
	}

	if err := os.RemoveAll(m.projectDir(name)); err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "remove project directory for %s", name)
	}
	return m.catalog.PurgeProject(ctx, name)
}

// waitQuiescent blocks until the cached repository at key has no
// in-flight commit and no registered watcher, or returns CodeTimeout
// once PurgeQuiescenceTimeout has elapsed. A repository that was never
// opened (not in cache) is trivially quiescent.
func (m *Manager) waitQuiescent(ctx context.Context, key string) error {
	r, ok := m.cache.Get(key)
	if !ok {
		return nil
	}
	deadline := time.Now().Add(m.cfg.PurgeQuiescenceTimeout)
	for r.Busy() {
		if !time.Now().Before(deadline) {
			return dogerrors.New(dogerrors.CodeTimeout, "repository %s did not become quiescent before purge deadline", key)
		}
		select {
		case <-ctx.Done():
			return dogerrors.Wrap(dogerrors.CodeTimeout, ctx.Err(), "purge wait cancelled for %s", key)
		case <-time.After(quiescencePollInterval):
		}
	}
	return nil
}

func cacheKey(project, repo string) string {
	return project + "/" + repo
}
