//go:build sqlite_fts5

package store

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(
			item_id UNINDEXED,
			title,
			data,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, itemID, title, data, tags string) error {
	_, _ = tx.Exec(`DELETE FROM items_fts WHERE item_id = ?`, itemID)
	_, err := tx.Exec(`INSERT INTO items_fts (item_id, title, data, tags) VALUES (?, ?, ?, ?)`,
		itemID, title, data, tags)
	if err != nil {
		return fmt.Errorf("store: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, itemID string) {
	_, _ = tx.Exec(`DELETE FROM items_fts WHERE item_id = ?`, itemID)
}

// SearchItems performs an FTS5 search over item titles, payloads, and tags,
// optionally scoped to one domain.
func (db *DB) SearchItems(query, domain string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 20
	}
	sqlQuery := `
		SELECT ` + itemCols + `
		FROM items_fts fts
		JOIN items i ON i.id = fts.item_id
		JOIN domains d ON d.id = i.domain_id
		WHERE items_fts MATCH ?`
	params := []any{query}
	if domain != "" {
		d, err := db.GetDomain(domain)
		if err != nil {
			return nil, err
		}
		sqlQuery += ` AND i.domain_id = ?`
		params = append(params, d.ID)
	}
	sqlQuery += ` ORDER BY rank LIMIT ?`
	params = append(params, limit)

	rows, err := db.conn.Query(sqlQuery, params...)
	if err != nil {
		return nil, fmt.Errorf("store: search items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
