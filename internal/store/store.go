// Package store provides SQLite-backed persistence for narrative
// projects, their trees, and the bounded edit history.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	root_node_id TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS nodes (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	parent_node_id TEXT,
	level          INTEGER NOT NULL DEFAULT 0,
	scene          TEXT NOT NULL DEFAULT '',
	ord            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	node_id    TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	speaker    TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL DEFAULT 'dialogue',
	ord        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS actions (
	id             TEXT PRIMARY KEY,
	node_id        TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	description    TEXT NOT NULL DEFAULT '',
	is_key_action  INTEGER NOT NULL DEFAULT 0,
	target_node_id TEXT,
	ord            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS story_edit_history (
	id                    TEXT PRIMARY KEY,
	project_id            TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	snapshot_data         TEXT NOT NULL,
	operation_type        TEXT NOT NULL DEFAULT '',
	operation_description TEXT NOT NULL DEFAULT '',
	affected_node_id      TEXT,
	created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_nodes_project ON nodes(project_id);
CREATE INDEX IF NOT EXISTS idx_events_node ON events(node_id);
CREATE INDEX IF NOT EXISTS idx_actions_node ON actions(node_id);
CREATE INDEX IF NOT EXISTS idx_history_project ON story_edit_history(project_id);
`

// DB wraps a sql.DB with narrative-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
