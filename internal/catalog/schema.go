package catalog

// schema is applied on every Open; CREATE TABLE IF NOT EXISTS keeps it
// idempotent across restarts. Column shapes mirror the teacher's
// schema.go: a monotonic integer timestamp column for each lifecycle
// event, and a CHECK constraint wherever a column is a closed enum
// instead of a free string, rather than a separate lookup table.
const schema = `
CREATE TABLE IF NOT EXISTS projects (
	name          TEXT PRIMARY KEY,
	created_at    INTEGER NOT NULL,
	author_name   TEXT NOT NULL,
	author_email  TEXT NOT NULL,
	removed_at    INTEGER,
	purge_after   INTEGER
);

CREATE TABLE IF NOT EXISTS repositories (
	project       TEXT NOT NULL REFERENCES projects(name),
	name          TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	author_name   TEXT NOT NULL,
	author_email  TEXT NOT NULL,
	removed_at    INTEGER,
	purge_after   INTEGER,
	PRIMARY KEY (project, name)
);

CREATE INDEX IF NOT EXISTS idx_repositories_project ON repositories(project);

CREATE TABLE IF NOT EXISTS schema_migrations (
	name       TEXT PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
`
