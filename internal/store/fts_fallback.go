//go:build !sqlite_fts5

package store

import (
	"database/sql"
	"fmt"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not compiled in; SearchItems uses the LIKE fallback below.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _, _ string) error { return nil }

func ftsDelete(_ *sql.Tx, _ string) {}

// SearchItems performs a LIKE-based substring search over item titles,
// payloads, and tags (fallback when FTS5 is not compiled in).
func (db *DB) SearchItems(query, domain string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	sqlQuery := `
		SELECT ` + itemCols + `
		FROM ` + itemTables + `
		WHERE (i.title LIKE ? OR i.data LIKE ? OR i.tags LIKE ?)`
	params := []any{like, like, like}
	if domain != "" {
		d, err := db.GetDomain(domain)
		if err != nil {
			return nil, err
		}
		sqlQuery += ` AND i.domain_id = ?`
		params = append(params, d.ID)
	}
	sqlQuery += ` ORDER BY i.updated_at DESC LIMIT ?`
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
