// Package catalog persists the metadata the object store itself has no
// notion of: which projects and repositories exist, who created them,
// and their soft-delete/purge lifecycle (spec §4.5). The object store
// only ever sees commits and refs; a repository's removal bookkeeping
// lives here instead, exactly as the teacher keeps issue lifecycle
// metadata (dirty flags, tombstones, compaction state) in its own
// sqlite database alongside — but separate from — exported JSONL.
//
// Grounded on the teacher's internal/storage/sqlite package: schema.go's
// CREATE TABLE IF NOT EXISTS style, migrations.go's ordered migration
// list, and resurrection.go's soft-delete/tombstone/restore idiom,
// generalized from issues to projects and repositories.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/logging"
)

// Catalog is the durable store of project/repository metadata.
type Catalog struct {
	db  *sql.DB
	log logging.Logger
}

// Open opens (creating if needed) the sqlite database at path and
// applies the schema and migration set.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "open catalog database %s", path)
	}
	db.SetMaxOpenConns(1) // sqlite3 single-writer; avoid SQLITE_BUSY under concurrent commands

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "apply catalog schema")
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Catalog{db: db, log: logging.For("catalog")}, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// withTx runs fn inside a transaction, committing on success and
// rolling back on any error (including a panic, re-raised after
// rollback) — mirrors the teacher's conn/tx helper pattern used
// throughout internal/storage/sqlite.
func (c *Catalog) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "begin catalog transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "commit catalog transaction")
	}
	return nil
}

func wrapSQLErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, fmt.Sprintf(format, args...))
}

// isUniqueViolation reports whether err came from a UNIQUE constraint
// failure, by message match against the driver's error text (ncruces/
// go-sqlite3 surfaces sqlite's own wording directly).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

// requireOneRowAffected turns a zero-rows-affected ExecContext result
// into a not-found error of the given code, since sqlite's UPDATE/DELETE
// don't themselves distinguish "no match" from "matched and changed".
func requireOneRowAffected(res sql.Result, err error, notFoundCode dogerrors.Code, format string, args ...any) error {
	if err != nil {
		return wrapSQLErr(err, format, args...)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapSQLErr(err, format, args...)
	}
	if n == 0 {
		return dogerrors.New(notFoundCode, format, args...)
	}
	return nil
}
