// Package sqlite is the Schema & Migrator (C1) and Storage Engine (C2)
// implementation: a single embedded relational file with an FTS5 shadow
// table, following a repository layer shape (infrastructure/persistence)
// but backed by database/sql + github.com/mattn/go-sqlite3 instead of
// DynamoDB, per §1's no-network-egress non-goal and §6's single-file
// layout.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"slm-core/internal/apperrors"
)

// CurrentSchemaVersion is the latest schema version this binary knows how
// to produce and migrate to.
const CurrentSchemaVersion = 1

// Open opens (creating if absent) the database file at path and runs any
// pending migrations. Migrations are additive-only and idempotent: each
// step checks for column/table presence before applying, and a failing
// step aborts the whole migration transaction so the file is never left
// half-migrated (§4.1).
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, apperrors.IO(err, "open database")
	}
	// Single-writer, many-readers discipline: the sqlite3 driver already
	// serializes writers via its own lock (§5); cap the pool so readers
	// don't starve the busy_timeout.
	db.SetMaxOpenConns(8)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return apperrors.IO(err, "begin migration")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return apperrors.IO(err, "create schema_meta")
	}

	version, err := currentVersion(tx)
	if err != nil {
		return err
	}

	steps := []func(*sql.Tx) error{step1InitialSchema}
	for i := version; i < len(steps); i++ {
		if err := steps[i](tx); err != nil {
			return apperrors.IO(err, fmt.Sprintf("migration step %d", i+1))
		}
	}
	if err := setVersion(tx, len(steps)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.IO(err, "commit migration")
	}
	return nil
}

func currentVersion(tx *sql.Tx) (int, error) {
	var v string
	err := tx.QueryRow(`SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.IO(err, "read schema_version")
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, apperrors.Internal("corrupt schema_version %q", v)
	}
	return n, nil
}

func setVersion(tx *sql.Tx, n int) error {
	_, err := tx.Exec(`INSERT INTO schema_meta(key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fmt.Sprintf("%d", n))
	if err != nil {
		return apperrors.IO(err, "write schema_version")
	}
	return nil
}

func hasTable(tx *sql.Tx, name string) (bool, error) {
	var n int
	err := tx.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// step1InitialSchema creates every table/index named in §3. It is safe to
// re-run: every statement uses IF NOT EXISTS, and the table-existence
// check above lets future steps skip work already done.
func step1InitialSchema(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS notes (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			profile         TEXT NOT NULL DEFAULT 'default',
			content         TEXT NOT NULL,
			summary         TEXT NOT NULL DEFAULT '',
			content_hash    TEXT NOT NULL,
			tags            TEXT NOT NULL DEFAULT '[]',
			category        TEXT NOT NULL DEFAULT '',
			project_name    TEXT NOT NULL DEFAULT '',
			project_path    TEXT NOT NULL DEFAULT '',
			importance      INTEGER NOT NULL DEFAULT 5,
			memory_type     TEXT NOT NULL DEFAULT 'session',
			parent_id       INTEGER,
			tree_path       TEXT NOT NULL DEFAULT '/',
			depth           INTEGER NOT NULL DEFAULT 0,
			tier            INTEGER NOT NULL DEFAULT 1,
			cluster_id      INTEGER,
			created_at      TEXT NOT NULL,
			last_accessed   TEXT NOT NULL,
			access_count    INTEGER NOT NULL DEFAULT 0,
			UNIQUE(profile, content_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_profile ON notes(profile)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_tree_path ON notes(tree_path)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_parent ON notes(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_cluster ON notes(cluster_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(profile, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_accessed ON notes(profile, last_accessed)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_importance ON notes(profile, importance)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			content, summary, tags, project_name, category,
			content='notes', content_rowid='id', tokenize='porter unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS notes_ai AFTER INSERT ON notes BEGIN
			INSERT INTO notes_fts(rowid, content, summary, tags, project_name, category)
			VALUES (new.id, new.content, new.summary, new.tags, new.project_name, new.category);
		END`,
		`CREATE TRIGGER IF NOT EXISTS notes_ad AFTER DELETE ON notes BEGIN
			INSERT INTO notes_fts(notes_fts, rowid, content, summary, tags, project_name, category)
			VALUES ('delete', old.id, old.content, old.summary, old.tags, old.project_name, old.category);
		END`,
		`CREATE TRIGGER IF NOT EXISTS notes_au AFTER UPDATE ON notes BEGIN
			INSERT INTO notes_fts(notes_fts, rowid, content, summary, tags, project_name, category)
			VALUES ('delete', old.id, old.content, old.summary, old.tags, old.project_name, old.category);
			INSERT INTO notes_fts(rowid, content, summary, tags, project_name, category)
			VALUES (new.id, new.content, new.summary, new.tags, new.project_name, new.category);
		END`,

		`CREATE TABLE IF NOT EXISTS graph_nodes (
			memory_id INTEGER NOT NULL,
			profile   TEXT NOT NULL,
			entities  TEXT NOT NULL, -- JSON array of {term, weight}
			PRIMARY KEY (profile, memory_id)
		)`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
			profile           TEXT NOT NULL,
			source_memory_id  INTEGER NOT NULL,
			target_memory_id  INTEGER NOT NULL,
			similarity        REAL NOT NULL,
			relationship_type TEXT NOT NULL DEFAULT 'similar',
			shared_entities   TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (profile, source_memory_id, target_memory_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON graph_edges(profile, source_memory_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON graph_edges(profile, target_memory_id)`,

		`CREATE TABLE IF NOT EXISTS clusters (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			profile           TEXT NOT NULL,
			cluster_name      TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			memory_count      INTEGER NOT NULL DEFAULT 0,
			avg_importance    REAL NOT NULL DEFAULT 0,
			top_entities      TEXT NOT NULL DEFAULT '[]',
			summary           TEXT NOT NULL DEFAULT '',
			parent_cluster_id INTEGER,
			depth             INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clusters_profile ON clusters(profile)`,

		`CREATE TABLE IF NOT EXISTS identity_patterns (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			profile       TEXT NOT NULL,
			pattern_type  TEXT NOT NULL,
			pattern_key   TEXT NOT NULL,
			pattern_value TEXT NOT NULL,
			confidence    REAL NOT NULL,
			frequency     INTEGER NOT NULL DEFAULT 0,
			last_seen     TEXT NOT NULL,
			pinned        INTEGER NOT NULL DEFAULT 0,
			corrected_at  TEXT,
			UNIQUE(profile, pattern_type, pattern_key, pattern_value)
		)`,
		`CREATE TABLE IF NOT EXISTS pattern_examples (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern_id INTEGER NOT NULL,
			memory_id  INTEGER NOT NULL,
			context    TEXT NOT NULL,
			FOREIGN KEY(pattern_id) REFERENCES identity_patterns(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS archive_entries (
			original_memory_id INTEGER PRIMARY KEY,
			profile            TEXT NOT NULL,
			compressed_blob    BLOB NOT NULL,
			original_size      INTEGER NOT NULL,
			compressed_size    INTEGER NOT NULL,
			archived_at        TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS profiles (
			name        TEXT PRIMARY KEY,
			created_at  TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("%s: %w", s[:min(40, len(s))], err)
		}
	}
	// Seed the default profile idempotently.
	if _, err := tx.Exec(`INSERT OR IGNORE INTO profiles(name, created_at, description) VALUES ('default', datetime('now'), 'default profile')`); err != nil {
		return err
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
