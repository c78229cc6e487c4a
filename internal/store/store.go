// Package store implements the record store: sqlite-backed domains, items,
// and the action audit trail, with optional FTS5 item search.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/magpielabs/magpie/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS domains (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	description  TEXT NOT NULL DEFAULT '',
	keywords     TEXT NOT NULL DEFAULT '[]',
	instructions TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS items (
	id         TEXT PRIMARY KEY,
	domain_id  TEXT NOT NULL REFERENCES domains(id),
	title      TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT 'note',
	data       TEXT NOT NULL DEFAULT '{}',
	tags       TEXT NOT NULL DEFAULT '[]',
	status     TEXT NOT NULL DEFAULT 'active',
	priority   INTEGER,
	due_at     DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS task_runs (
	id          TEXT PRIMARY KEY,
	agent       TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL DEFAULT '',
	entity_type TEXT NOT NULL DEFAULT '',
	entity_id   TEXT NOT NULL DEFAULT '',
	details     TEXT,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_items_domain ON items(domain_id);
CREATE INDEX IF NOT EXISTS idx_items_status ON items(domain_id, status);
CREATE INDEX IF NOT EXISTS idx_items_type   ON items(domain_id, type);
`

// Domain is a named category grouping items and memory notes.
type Domain struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Keywords     []string  `json:"keywords"`
	Instructions string    `json:"instructions"`
	CreatedAt    time.Time `json:"created_at"`
}

// Item is a structured record owned by exactly one domain. Data is an open
// map of JSON values; per-domain schemas, when present, validate it at the
// caller, not here.
type Item struct {
	ID        string         `json:"id"`
	DomainID  string         `json:"domain_id"`
	Domain    string         `json:"domain"`
	Title     string         `json:"title"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Tags      []string       `json:"tags"`
	Status    string         `json:"status"`
	Priority  *int           `json:"priority,omitempty"`
	Due       *time.Time     `json:"due,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DB wraps a sql.DB with record-store operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the sqlite database, applies the schema, and
// bootstraps the reserved general domain. Failure here is the one fatal
// condition in the core; callers abort the invocation.
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
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply fts schema: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.bootstrap(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// bootstrap seeds the reserved general domain on first open.
func (db *DB) bootstrap() error {
	var id string
	err := db.conn.QueryRow(`SELECT id FROM domains WHERE name = ?`, models.GeneralDomain).Scan(&id)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("store: bootstrap lookup: %w", err)
	}
	_, err = db.CreateDomain(Domain{
		Name:        models.GeneralDomain,
		Description: "Fallback domain for unclassified tasks and memories",
	})
	if err != nil {
		return fmt.Errorf("store: bootstrap general domain: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if s := string(b); s != "null" {
		return s, nil
	}
	return "", nil
}

func unmarshalStrings(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	return out
}
