package cache

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is written to both the snapshot and the sidecar. A cache
// carrying any other version is ignored.
const SchemaVersion = "1"

const schemaSQL = `
CREATE TABLE schema_info (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE graph (
	id       INTEGER PRIMARY KEY CHECK (id = 1),
	root     TEXT NOT NULL,
	built_at INTEGER NOT NULL
);

CREATE TABLE documents (
	path       TEXT PRIMARY KEY,
	rel_path   TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	metadata   TEXT NOT NULL DEFAULT '{}',
	mod_time   INTEGER NOT NULL,
	word_count INTEGER NOT NULL DEFAULT 0,
	cluster_id INTEGER NOT NULL DEFAULT -1,
	centrality REAL NOT NULL DEFAULT 0
);

CREATE TABLE headings (
	path  TEXT NOT NULL,
	seq   INTEGER NOT NULL,
	level INTEGER NOT NULL,
	text  TEXT NOT NULL,
	line  INTEGER NOT NULL,
	slug  TEXT NOT NULL,
	PRIMARY KEY (path, seq)
);

CREATE TABLE links (
	source  TEXT NOT NULL,
	seq     INTEGER NOT NULL,
	target  TEXT NOT NULL DEFAULT '',
	kind    TEXT NOT NULL,
	text    TEXT NOT NULL,
	display TEXT NOT NULL DEFAULT '',
	context TEXT NOT NULL DEFAULT '',
	line    INTEGER NOT NULL,
	broken  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source, seq)
);

CREATE TABLE tags (
	path TEXT NOT NULL,
	tag  TEXT NOT NULL,
	PRIMARY KEY (path, tag)
);

CREATE TABLE clusters (
	cluster_id INTEGER NOT NULL,
	path       TEXT NOT NULL,
	PRIMARY KEY (cluster_id, path)
);

CREATE TABLE hubs (
	rank INTEGER PRIMARY KEY,
	path TEXT NOT NULL
);

CREATE TABLE orphans (
	path TEXT PRIMARY KEY
);
`

// snapshot wraps a sql.DB holding one serialized graph.
type snapshot struct {
	conn *sql.DB
}

// createSnapshot creates a fresh snapshot file at path and applies the
// schema. Any existing file at path must already be gone.
func createSnapshot(path string) (*snapshot, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=DELETE&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("cache: open snapshot: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}
	if _, err := conn.Exec(`INSERT INTO schema_info (key, value) VALUES ('version', ?)`, SchemaVersion); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: write version: %w", err)
	}
	return &snapshot{conn: conn}, nil
}

// openSnapshot opens an existing snapshot and checks its schema version.
func openSnapshot(path string) (*snapshot, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cache: stat snapshot: %w", err)
	}
	conn, err := sql.Open("sqlite3", path+"?_query_only=true")
	if err != nil {
		return nil, fmt.Errorf("cache: open snapshot: %w", err)
	}
	var version string
	if err := conn.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`).Scan(&version); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: read version: %w", err)
	}
	if version != SchemaVersion {
		conn.Close()
		return nil, fmt.Errorf("cache: snapshot version %q, want %q", version, SchemaVersion)
	}
	return &snapshot{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *snapshot) Close() error {
	return s.conn.Close()
}
