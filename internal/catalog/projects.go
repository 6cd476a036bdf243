package catalog

import (
	"context"
	"database/sql"

	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/objectstore"
)

// Project is one row of project metadata (spec §4.5): a project is
// purely a namespace grouping repositories, with its own creation and
// removal lifecycle.
type Project struct {
	Name       string
	CreatedAt  int64
	Author     objectstore.Signature
	RemovedAt  *int64 // nil while active
	PurgeAfter *int64 // unix seconds after which Purge may reclaim it
}

func (p Project) removed() bool { return p.RemovedAt != nil }

// CreateProject registers a new active project. Fails with
// CodeProjectExists if the name is already taken, active or removed —
// callers must Unremove or Purge first (spec §4.5 create exclusivity).
func (c *Catalog) CreateProject(ctx context.Context, name string, ts int64, author objectstore.Signature) (*Project, error) {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO projects (name, created_at, author_name, author_email) VALUES (?, ?, ?, ?)`,
		name, ts, author.Name, author.Email)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, dogerrors.New(dogerrors.CodeProjectExists, "project %s already exists", name)
		}
		return nil, wrapSQLErr(err, "create project %s", name)
	}
	return &Project{Name: name, CreatedAt: ts, Author: author}, nil
}

// GetProject returns an active (non-removed) project by name.
func (c *Catalog) GetProject(ctx context.Context, name string) (*Project, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT name, created_at, author_name, author_email, removed_at, purge_after
		 FROM projects WHERE name = ? AND removed_at IS NULL`, name)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, dogerrors.New(dogerrors.CodeProjectNotFound, "project %s not found", name)
	}
	if err != nil {
		return nil, wrapSQLErr(err, "get project %s", name)
	}
	return p, nil
}

// ListProjects returns every active project, ordered by name.
func (c *Catalog) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, created_at, author_name, author_email, removed_at, purge_after
		 FROM projects WHERE removed_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, wrapSQLErr(err, "list projects")
	}
	defer rows.Close()
	return scanProjects(rows)
}

// ListRemovedProjects returns every soft-deleted project, ordered by
// name, for the listRemoved() view spec §4.5 requires.
func (c *Catalog) ListRemovedProjects(ctx context.Context) ([]*Project, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, created_at, author_name, author_email, removed_at, purge_after
		 FROM projects WHERE removed_at IS NOT NULL ORDER BY name`)
	if err != nil {
		return nil, wrapSQLErr(err, "list removed projects")
	}
	defer rows.Close()
	return scanProjects(rows)
}

// RemoveProject soft-deletes an active project, setting its purge
// deadline to ts+graceSeconds (default 7 days per spec §4.5).
func (c *Catalog) RemoveProject(ctx context.Context, name string, ts, graceSeconds int64) error {
	purgeAfter := ts + graceSeconds
	res, err := c.db.ExecContext(ctx,
		`UPDATE projects SET removed_at = ?, purge_after = ? WHERE name = ? AND removed_at IS NULL`,
		ts, purgeAfter, name)
	return requireOneRowAffected(res, err, dogerrors.CodeProjectNotFound, "project %s not found or already removed", name)
}

// UnremoveProject restores a soft-deleted project before its purge
// deadline elapses.
func (c *Catalog) UnremoveProject(ctx context.Context, name string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE projects SET removed_at = NULL, purge_after = NULL WHERE name = ? AND removed_at IS NOT NULL`,
		name)
	return requireOneRowAffected(res, err, dogerrors.CodeProjectNotFound, "removed project %s not found", name)
}

// PurgeProject permanently deletes a soft-deleted project's metadata
// row together with every repository row of that project, in one
// transaction. Callers are expected to have already destroyed the
// project's on-disk object store before calling this.
func (c *Catalog) PurgeProject(ctx context.Context, name string) error {
	return c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM repositories WHERE project = ?`, name); err != nil {
			return wrapSQLErr(err, "purge repositories of project %s", name)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE name = ? AND removed_at IS NOT NULL`, name)
		return requireOneRowAffected(res, err, dogerrors.CodeProjectNotFound, "removed project %s not found", name)
	})
}

func scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var removedAt, purgeAfter sql.NullInt64
	if err := row.Scan(&p.Name, &p.CreatedAt, &p.Author.Name, &p.Author.Email, &removedAt, &purgeAfter); err != nil {
		return nil, err
	}
	if removedAt.Valid {
		p.RemovedAt = &removedAt.Int64
	}
	if purgeAfter.Valid {
		p.PurgeAfter = &purgeAfter.Int64
	}
	return &p, nil
}

func scanProjects(rows *sql.Rows) ([]*Project, error) {
	var out []*Project
	for rows.Next() {
		var p Project
		var removedAt, purgeAfter sql.NullInt64
		if err := rows.Scan(&p.Name, &p.CreatedAt, &p.Author.Name, &p.Author.Email, &removedAt, &purgeAfter); err != nil {
			return nil, wrapSQLErr(err, "scan project row")
		}
		if removedAt.Valid {
			p.RemovedAt = &removedAt.Int64
		}
		if purgeAfter.Valid {
			p.PurgeAfter = &purgeAfter.Int64
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQLErr(err, "iterate project rows")
	}
	return out, nil
}
