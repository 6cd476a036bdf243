package catalog

import (
	"database/sql"
	"time"

	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
)

// Migration is one idempotent schema change applied after the base
// schema, recorded in schema_migrations so it never reapplies.
// Mirrors the teacher's migrations.go Migration{Name, Func} shape.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList runs in order, oldest first, after the base schema in
// schema.go: column/index additions (such as the repositories.encrypted
// flag) live here rather than in the base DDL.
var migrationsList = []Migration{
	{
		Name: "001_repositories_purge_index",
		Func: func(db *sql.DB) error {
			_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_repositories_purge_after ON repositories(purge_after) WHERE purge_after IS NOT NULL`)
			return err
		},
	},
	{
		Name: "002_repositories_encrypted_flag",
		Func: func(db *sql.DB) error {
			_, err := db.Exec(`ALTER TABLE repositories ADD COLUMN encrypted INTEGER NOT NULL DEFAULT 0`)
			return err
		},
	},
}

// MigrationInfo describes one migration for inspection by operators.
type MigrationInfo struct {
	Name    string
	Applied bool
}

func runMigrations(db *sql.DB) error {
	for _, m := range migrationsList {
		var applied bool
		row := db.QueryRow(`SELECT 1 FROM schema_migrations WHERE name = ?`, m.Name)
		if err := row.Scan(new(int)); err == nil {
			applied = true
		} else if err != sql.ErrNoRows {
			return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "check migration %s", m.Name)
		}
		if applied {
			continue
		}
		if err := m.Func(db); err != nil {
			return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "apply migration %s", m.Name)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, m.Name, time.Now().Unix()); err != nil {
			return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "record migration %s", m.Name)
		}
	}
	return nil
}

// ListMigrations reports every known migration and whether it has been
// applied to db, for diagnostic tooling.
func ListMigrations(db *sql.DB) ([]MigrationInfo, error) {
	out := make([]MigrationInfo, 0, len(migrationsList))
	for _, m := range migrationsList {
		var applied bool
		row := db.QueryRow(`SELECT 1 FROM schema_migrations WHERE name = ?`, m.Name)
		if err := row.Scan(new(int)); err == nil {
			applied = true
		} else if err != sql.ErrNoRows {
			return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "check migration %s", m.Name)
		}
		out = append(out, MigrationInfo{Name: m.Name, Applied: applied})
	}
	return out, nil
}
