// Package store provides SQLite-backed persistence for the mutation governor.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS dna_records (
	instance_id     TEXT PRIMARY KEY,
	version         TEXT NOT NULL DEFAULT '',
	generation      INTEGER NOT NULL DEFAULT 1,
	fitness_score   REAL NOT NULL DEFAULT 0.0,
	dna_json        TEXT NOT NULL DEFAULT '{}',
	checksum        TEXT NOT NULL DEFAULT '',
	state_version   INTEGER NOT NULL DEFAULT 1,
	updated_at_unix INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS mutation_log (
	mutation_id   TEXT PRIMARY KEY,
	instance_id   TEXT NOT NULL,
	generation    INTEGER NOT NULL,
	mutation_type TEXT NOT NULL,
	auto_approved INTEGER NOT NULL DEFAULT 0,
	record_json   TEXT NOT NULL DEFAULT '{}',
	applied_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mutation_log_instance ON mutation_log(instance_id, generation);

CREATE TABLE IF NOT EXISTS snapshots (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	snapshot_id   TEXT NOT NULL UNIQUE,
	instance_id   TEXT NOT NULL,
	label         TEXT NOT NULL DEFAULT '',
	generation    INTEGER NOT NULL DEFAULT 0,
	fitness_score REAL NOT NULL DEFAULT 0.0,
	version       TEXT NOT NULL DEFAULT '',
	dna_checksum  TEXT NOT NULL DEFAULT '',
	dna_data      TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_instance_created ON snapshots(instance_id, created_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_instance_generation ON snapshots(instance_id, generation);

CREATE TABLE IF NOT EXISTS audit_records (
	id            TEXT PRIMARY KEY,
	instance_id   TEXT NOT NULL,
	category      TEXT NOT NULL,
	actor         TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	request_json  TEXT NOT NULL DEFAULT '{}',
	decision_json TEXT NOT NULL DEFAULT '{}',
	severity      TEXT NOT NULL DEFAULT 'info',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_instance ON audit_records(instance_id, category);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
