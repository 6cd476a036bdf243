package catalog

import (
	"context"
	"database/sql"

	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/objectstore"
)

// RepositoryMeta is one row of repository metadata (spec §4.5): the
// catalog only tracks lifecycle here, the actual commit history lives
// in internal/repository backed by the object store.
type RepositoryMeta struct {
	Project    string
	Name       string
	CreatedAt  int64
	Author     objectstore.Signature
	RemovedAt  *int64
	PurgeAfter *int64
	Encrypted  bool // set by MarkRepositoryEncrypted after a MigrateToEncryptedRepository command
}

const repositoryColumns = `project, name, created_at, author_name, author_email, removed_at, purge_after, encrypted`

// CreateRepositoryMeta registers a new active repository row under an
// already-active project. Fails with CodeRepositoryExists on an
// existing name, active or removed.
func (c *Catalog) CreateRepositoryMeta(ctx context.Context, project, name string, ts int64, author objectstore.Signature) (*RepositoryMeta, error) {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO repositories (project, name, created_at, author_name, author_email) VALUES (?, ?, ?, ?, ?)`,
		project, name, ts, author.Name, author.Email)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, dogerrors.New(dogerrors.CodeRepositoryExists, "repository %s/%s already exists", project, name)
		}
		return nil, wrapSQLErr(err, "create repository %s/%s", project, name)
	}
	return &RepositoryMeta{Project: project, Name: name, CreatedAt: ts, Author: author}, nil
}

// GetRepositoryMeta returns an active repository row.
func (c *Catalog) GetRepositoryMeta(ctx context.Context, project, name string) (*RepositoryMeta, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE project = ? AND name = ? AND removed_at IS NULL`, project, name)
	m, err := scanRepositoryMeta(row)
	if err == sql.ErrNoRows {
		return nil, dogerrors.New(dogerrors.CodeRepositoryNotFound, "repository %s/%s not found", project, name)
	}
	if err != nil {
		return nil, wrapSQLErr(err, "get repository %s/%s", project, name)
	}
	return m, nil
}

// ListRepositoryMetas returns every active repository of project,
// ordered by name.
func (c *Catalog) ListRepositoryMetas(ctx context.Context, project string) ([]*RepositoryMeta, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE project = ? AND removed_at IS NULL ORDER BY name`, project)
	if err != nil {
		return nil, wrapSQLErr(err, "list repositories of %s", project)
	}
	defer rows.Close()
	return scanRepositoryMetas(rows)
}

// ListRemovedRepositoryMetas returns every soft-deleted repository of
// project, ordered by name.
func (c *Catalog) ListRemovedRepositoryMetas(ctx context.Context, project string) ([]*RepositoryMeta, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE project = ? AND removed_at IS NOT NULL ORDER BY name`, project)
	if err != nil {
		return nil, wrapSQLErr(err, "list removed repositories of %s", project)
	}
	defer rows.Close()
	return scanRepositoryMetas(rows)
}

// RemoveRepositoryMeta soft-deletes an active repository.
func (c *Catalog) RemoveRepositoryMeta(ctx context.Context, project, name string, ts, graceSeconds int64) error {
	purgeAfter := ts + graceSeconds
	res, err := c.db.ExecContext(ctx,
		`UPDATE repositories SET removed_at = ?, purge_after = ? WHERE project = ? AND name = ? AND removed_at IS NULL`,
		ts, purgeAfter, project, name)
	return requireOneRowAffected(res, err, dogerrors.CodeRepositoryNotFound, "repository %s/%s not found or already removed", project, name)
}

// UnremoveRepositoryMeta restores a soft-deleted repository before its
// purge deadline elapses.
func (c *Catalog) UnremoveRepositoryMeta(ctx context.Context, project, name string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE repositories SET removed_at = NULL, purge_after = NULL WHERE project = ? AND name = ? AND removed_at IS NOT NULL`,
		project, name)
	return requireOneRowAffected(res, err, dogerrors.CodeRepositoryNotFound, "removed repository %s/%s not found", project, name)
}

// PurgeRepositoryMeta permanently deletes a soft-deleted repository's
// metadata row. Callers are expected to have already destroyed the
// repository's on-disk object store before calling this.
func (c *Catalog) PurgeRepositoryMeta(ctx context.Context, project, name string) error {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM repositories WHERE project = ? AND name = ? AND removed_at IS NOT NULL`, project, name)
	return requireOneRowAffected(res, err, dogerrors.CodeRepositoryNotFound, "removed repository %s/%s not found", project, name)
}

// MarkRepositoryEncrypted flips the encrypted flag of an active
// repository, recording that MigrateToEncryptedRepository has already
// run for it (the migration is a one-way door: spec §4.1 never
// describes migrating an encrypted repository back to plaintext).
func (c *Catalog) MarkRepositoryEncrypted(ctx context.Context, project, name string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE repositories SET encrypted = 1 WHERE project = ? AND name = ? AND removed_at IS NULL`,
		project, name)
	return requireOneRowAffected(res, err, dogerrors.CodeRepositoryNotFound, "repository %s/%s not found", project, name)
}

// DuePurgeRepositories returns every soft-deleted repository whose
// purge_after deadline is at or before now, across all projects — used
// by the background purge sweep (spec §4.5 "purge after grace period").
func (c *Catalog) DuePurgeRepositories(ctx context.Context, now int64) ([]*RepositoryMeta, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE removed_at IS NOT NULL AND purge_after <= ? ORDER BY project, name`, now)
	if err != nil {
		return nil, wrapSQLErr(err, "list due-purge repositories")
	}
	defer rows.Close()
	return scanRepositoryMetas(rows)
}

// DuePurgeProjects returns every soft-deleted project whose purge_after
// deadline is at or before now.
func (c *Catalog) DuePurgeProjects(ctx context.Context, now int64) ([]*Project, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, created_at, author_name, author_email, removed_at, purge_after
		 FROM projects WHERE removed_at IS NOT NULL AND purge_after <= ? ORDER BY name`, now)
	if err != nil {
		return nil, wrapSQLErr(err, "list due-purge projects")
	}
	defer rows.Close()
	return scanProjects(rows)
}

func scanRepositoryMeta(row *sql.Row) (*RepositoryMeta, error) {
	var m RepositoryMeta
	var removedAt, purgeAfter sql.NullInt64
	var encrypted bool
	if err := row.Scan(&m.Project, &m.Name, &m.CreatedAt, &m.Author.Name, &m.Author.Email, &removedAt, &purgeAfter, &encrypted); err != nil {
		return nil, err
	}
	if removedAt.Valid {
		m.RemovedAt = &removedAt.Int64
	}
	if purgeAfter.Valid {
		m.PurgeAfter = &purgeAfter.Int64
	}
	m.Encrypted = encrypted
	return &m, nil
}

func scanRepositoryMetas(rows *sql.Rows) ([]*RepositoryMeta, error) {
	var out []*RepositoryMeta
	for rows.Next() {
		var m RepositoryMeta
		var removedAt, purgeAfter sql.NullInt64
		var encrypted bool
		if err := rows.Scan(&m.Project, &m.Name, &m.CreatedAt, &m.Author.Name, &m.Author.Email, &removedAt, &purgeAfter, &encrypted); err != nil {
			return nil, wrapSQLErr(err, "scan repository row")
		}
		if removedAt.Valid {
			m.RemovedAt = &removedAt.Int64
		}
		if purgeAfter.Valid {
			m.PurgeAfter = &purgeAfter.Int64
		}
		m.Encrypted = encrypted
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQLErr(err, "iterate repository rows")
	}
	return out, nil
}
