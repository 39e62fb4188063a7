// Package search provides the SQLite-backed full-text index over the
// current vault's file map, with optional FTS5 search. It is a pure
// consumer: it re-syncs from snapshots on every change event and never
// mutates vault state.
package search

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/muninn/internal/checksum"
	"github.com/starford/muninn/internal/models"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS search_files (
	id       TEXT PRIMARY KEY,
	vault_id TEXT NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	content  TEXT NOT NULL DEFAULT '',
	checksum TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_search_files_vault ON search_files(vault_id);
`

// Indexer is the interface the rest of the system depends on.
type Indexer interface {
	Sync(vaultID string, files map[string]models.FileNode) error
	Search(vaultID, query string, limit int) ([]Result, error)
	DropVault(vaultID string) error
	Close() error
}

// Verify *DB satisfies Indexer at compile time.
var _ Indexer = (*DB)(nil)

// Result is one search hit.
type Result struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

// DB wraps a sql.DB with search index operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("search: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("search: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("search: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("search: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Sync brings the index for one vault up to date with the given file map:
// new/changed file nodes are upserted, removed nodes are deleted. Checksums
// over name+content skip unchanged rows.
func (db *DB) Sync(vaultID string, files map[string]models.FileNode) error {
	stored, err := db.checksums(vaultID)
	if err != nil {
		return err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("search: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	live := make(map[string]struct{}, len(files))
	for id, n := range files {
		if n.Kind != models.KindFile {
			continue
		}
		live[id] = struct{}{}

		cs := checksum.Sum([]byte(n.Name + "\x00" + n.Content))
		if stored[id] == cs {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO search_files (id, vault_id, name, content, checksum)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				vault_id = excluded.vault_id,
				name     = excluded.name,
				content  = excluded.content,
				checksum = excluded.checksum
		`, id, vaultID, n.Name, n.Content, cs); err != nil {
			return fmt.Errorf("search: upsert %s: %w", id, err)
		}
		if err := ftsUpsert(tx, id, vaultID, n.Name, n.Content); err != nil {
			return err
		}
	}

	for id := range stored {
		if _, ok := live[id]; ok {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM search_files WHERE id = ?`, id); err != nil {
			return fmt.Errorf("search: delete %s: %w", id, err)
		}
		ftsDelete(tx, id)
	}

	return tx.Commit()
}

// DropVault removes every indexed row for a vault.
func (db *DB) DropVault(vaultID string) error {
	stored, err := db.checksums(vaultID)
	if err != nil {
		return err
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("search: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM search_files WHERE vault_id = ?`, vaultID); err != nil {
		return fmt.Errorf("search: drop vault %s: %w", vaultID, err)
	}
	for id := range stored {
		ftsDelete(tx, id)
	}
	return tx.Commit()
}

// checksums returns id -> checksum for every indexed row of a vault.
func (db *DB) checksums(vaultID string) (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM search_files WHERE vault_id = ?`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("search: checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}
