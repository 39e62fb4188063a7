//go:build sqlite_fts5

package search

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS search_fts USING fts5(
			id UNINDEXED,
			vault_id UNINDEXED,
			name,
			content,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id, vaultID, name, content string) error {
	_, _ = tx.Exec(`DELETE FROM search_fts WHERE id = ?`, id)
	_, err := tx.Exec(`INSERT INTO search_fts (id, vault_id, name, content) VALUES (?, ?, ?, ?)`,
		id, vaultID, name, content)
	if err != nil {
		return fmt.Errorf("search: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id string) {
	_, _ = tx.Exec(`DELETE FROM search_fts WHERE id = ?`, id)
}

// Search performs an FTS5 full-text search over one vault's file nodes.
func (db *DB) Search(vaultID, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id,
		       name,
		       snippet(search_fts, 3, '<b>', '</b>', '...', 64)
		FROM search_fts
		WHERE search_fts MATCH ? AND vault_id = ?
		ORDER BY rank
		LIMIT ?
	`, query, vaultID, limit)
	if err != nil {
		return nil, fmt.Errorf("search: query: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
