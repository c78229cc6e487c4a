package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magpielabs/magpie/internal/apperr"
)

const itemCols = `i.id, i.domain_id, d.name, i.title, i.type, i.data, i.tags, i.status, i.priority, i.due_at, i.created_at, i.updated_at`

const itemTables = `items i JOIN domains d ON d.id = i.domain_id`

func scanItem(row interface{ Scan(...any) error }) (Item, error) {
	var it Item
	var data, tags string
	var priority sql.NullInt64
	var due sql.NullTime
	err := row.Scan(&it.ID, &it.DomainID, &it.Domain, &it.Title, &it.Type, &data, &tags,
		&it.Status, &priority, &due, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return Item{}, err
	}
	if data != "" && data != "{}" {
		_ = json.Unmarshal([]byte(data), &it.Data)
	}
	it.Tags = unmarshalStrings(tags)
	if priority.Valid {
		p := int(priority.Int64)
		it.Priority = &p
	}
	if due.Valid {
		t := due.Time
		it.Due = &t
	}
	return it, nil
}

// CreateItem inserts an item into a domain. The domain is resolved by name
// or id; an unknown domain fails with ErrNotFound, a missing title or an
// unserializable payload with ErrValidation.
func (db *DB) CreateItem(domain string, it Item) (Item, error) {
	if strings.TrimSpace(it.Title) == "" {
		return Item{}, fmt.Errorf("store: item title required: %w", apperr.ErrValidation)
	}
	d, err := db.GetDomain(domain)
	if err != nil {
		return Item{}, err
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.Type == "" {
		it.Type = "note"
	}
	if it.Status == "" {
		it.Status = "active"
	}
	data, err := marshalJSON(it.Data)
	if err != nil {
		return Item{}, fmt.Errorf("store: item %q payload: %w", it.Title, apperr.ErrValidation)
	}
	if data == "" {
		data = "{}"
	}
	tags, err := marshalJSON(it.Tags)
	if err != nil || tags == "" {
		tags = "[]"
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return Item{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(
		`INSERT INTO items (id, domain_id, title, type, data, tags, status, priority, due_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, d.ID, it.Title, it.Type, data, tags, it.Status, nullableInt(it.Priority), nullableTime(it.Due),
	)
	if err != nil {
		return Item{}, fmt.Errorf("store: create item %q: %w", it.Title, err)
	}
	if err := ftsUpsert(tx, it.ID, it.Title, data, strings.Join(it.Tags, " ")); err != nil {
		return Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return Item{}, fmt.Errorf("store: commit item %q: %w", it.Title, err)
	}
	return db.GetItem(it.ID)
}

// GetItem returns an item by id.
func (db *DB) GetItem(id string) (Item, error) {
	row := db.conn.QueryRow(`SELECT `+itemCols+` FROM `+itemTables+` WHERE i.id = ?`, id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return Item{}, fmt.Errorf("store: item %q: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return Item{}, fmt.Errorf("store: get item %q: %w", id, err)
	}
	return it, nil
}

// ItemFilter narrows ListItems. Zero values mean "no filter".
type ItemFilter struct {
	Domain string
	Type   string
	Status string
	Tag    string
	Sort   string // created | updated | due | priority
	Limit  int
}

// ListItems returns items matching the filter.
func (db *DB) ListItems(f ItemFilter) ([]Item, error) {
	query := `SELECT ` + itemCols + ` FROM ` + itemTables + ` WHERE 1=1`
	var params []any
	if f.Domain != "" {
		d, err := db.GetDomain(f.Domain)
		if err != nil {
			return nil, err
		}
		query += ` AND i.domain_id = ?`
		params = append(params, d.ID)
	}
	if f.Type != "" {
		query += ` AND i.type = ?`
		params = append(params, f.Type)
	}
	if f.Status != "" {
		query += ` AND i.status = ?`
		params = append(params, f.Status)
	}

	sortMap := map[string]string{
		"created":  "i.created_at DESC",
		"updated":  "i.updated_at DESC",
		"due":      "i.due_at IS NULL, i.due_at ASC",
		"priority": "i.priority IS NULL, i.priority ASC, i.created_at DESC",
	}
	order, ok := sortMap[f.Sort]
	if !ok {
		order = sortMap["created"]
	}
	query += ` ORDER BY ` + order

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	// The tag match happens on the decoded JSON, so the limit must be
	// applied after it; SQL LIMIT would undercount tagged rows.
	if f.Tag == "" {
		query += ` LIMIT ?`
		params = append(params, limit)
	}

	rows, err := db.conn.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("store: list items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		if f.Tag != "" && !hasTag(it.Tags, f.Tag) {
			continue
		}
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

// ItemPatch holds optional item updates; nil fields are left unchanged.
type ItemPatch struct {
	Title    *string
	Type     *string
	Data     *map[string]any
	Tags     *[]string
	Status   *string
	Priority *int
	Due      *time.Time
}

// UpdateItem applies a partial patch and advances updated_at. The full
// mutated row is replaced in one transaction.
func (db *DB) UpdateItem(id string, p ItemPatch) (Item, error) {
	it, err := db.GetItem(id)
	if err != nil {
		return Item{}, err
	}
	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			return Item{}, fmt.Errorf("store: item title cannot be empty: %w", apperr.ErrValidation)
		}
		it.Title = *p.Title
	}
	if p.Type != nil {
		it.Type = *p.Type
	}
	if p.Data != nil {
		it.Data = *p.Data
	}
	if p.Tags != nil {
		it.Tags = *p.Tags
	}
	if p.Status != nil {
		it.Status = *p.Status
	}
	if p.Priority != nil {
		it.Priority = p.Priority
	}
	if p.Due != nil {
		it.Due = p.Due
	}

	data, err := marshalJSON(it.Data)
	if err != nil {
		return Item{}, fmt.Errorf("store: item %q payload: %w", id, apperr.ErrValidation)
	}
	if data == "" {
		data = "{}"
	}
	tags, err := marshalJSON(it.Tags)
	if err != nil || tags == "" {
		tags = "[]"
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return Item{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(
		`UPDATE items SET title = ?, type = ?, data = ?, tags = ?, status = ?,
		 priority = ?, due_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		it.Title, it.Type, data, tags, it.Status, nullableInt(it.Priority), nullableTime(it.Due), id,
	)
	if err != nil {
		return Item{}, fmt.Errorf("store: update item %q: %w", id, err)
	}
	if err := ftsUpsert(tx, id, it.Title, data, strings.Join(it.Tags, " ")); err != nil {
		return Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return Item{}, fmt.Errorf("store: commit item %q: %w", id, err)
	}
	return db.GetItem(id)
}

// DeleteItem removes an item.
func (db *DB) DeleteItem(id string) error {
	if _, err := db.GetItem(id); err != nil {
		return err
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete item %q: %w", id, err)
	}
	ftsDelete(tx, id)
	return tx.Commit()
}

// Stats summarizes a domain's items by type and status.
type Stats struct {
	Domain   string         `json:"domain"`
	Total    int            `json:"total"`
	ByType   map[string]int `json:"by_type"`
	ByStatus map[string]int `json:"by_status"`
}

// DomainStats returns item counts grouped by type and status.
func (db *DB) DomainStats(domain string) (Stats, error) {
	d, err := db.GetDomain(domain)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Domain: d.Name, ByType: map[string]int{}, ByStatus: map[string]int{}}

	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM items WHERE domain_id = ?`, d.ID).Scan(&s.Total); err != nil {
		return Stats{}, fmt.Errorf("store: stats for %q: %w", d.Name, err)
	}
	if err := db.groupCount(`SELECT type, COUNT(*) FROM items WHERE domain_id = ? GROUP BY type`, d.ID, s.ByType); err != nil {
		return Stats{}, err
	}
	if err := db.groupCount(`SELECT status, COUNT(*) FROM items WHERE domain_id = ? GROUP BY status`, d.ID, s.ByStatus); err != nil {
		return Stats{}, err
	}
	return s, nil
}

func (db *DB) groupCount(query, domainID string, into map[string]int) error {
	rows, err := db.conn.Query(query, domainID)
	if err != nil {
		return fmt.Errorf("store: group count: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var cnt int
		if err := rows.Scan(&key, &cnt); err != nil {
			return err
		}
		into[key] = cnt
	}
	return rows.Err()
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
