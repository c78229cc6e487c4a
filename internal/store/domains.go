package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/magpielabs/magpie/internal/apperr"
	"github.com/magpielabs/magpie/internal/models"
)

const domainCols = `id, name, description, keywords, instructions, created_at`

func scanDomain(row interface{ Scan(...any) error }) (Domain, error) {
	var d Domain
	var keywords string
	err := row.Scan(&d.ID, &d.Name, &d.Description, &keywords, &d.Instructions, &d.CreatedAt)
	if err != nil {
		return Domain{}, err
	}
	d.Keywords = unmarshalStrings(keywords)
	return d, nil
}

// CreateDomain inserts a new domain. The name must be unique; a duplicate
// fails with ErrAlreadyExists instead of merging into the existing domain.
func (db *DB) CreateDomain(d Domain) (Domain, error) {
	if strings.TrimSpace(d.Name) == "" {
		return Domain{}, fmt.Errorf("store: domain name required: %w", apperr.ErrValidation)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	keywords, err := marshalJSON(normalizeKeywords(d.Keywords))
	if err != nil {
		return Domain{}, fmt.Errorf("store: encode keywords for %q: %w", d.Name, apperr.ErrValidation)
	}
	_, err = db.conn.Exec(
		`INSERT INTO domains (id, name, description, keywords, instructions) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Description, keywords, d.Instructions,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Domain{}, fmt.Errorf("store: domain %q: %w", d.Name, apperr.ErrAlreadyExists)
		}
		return Domain{}, fmt.Errorf("store: create domain %q: %w", d.Name, err)
	}
	return db.GetDomain(d.ID)
}

// GetDomain finds a domain by exact id, then by case-insensitive name.
func (db *DB) GetDomain(nameOrID string) (Domain, error) {
	row := db.conn.QueryRow(`SELECT `+domainCols+` FROM domains WHERE id = ?`, nameOrID)
	d, err := scanDomain(row)
	if err == nil {
		return d, nil
	}
	if err != sql.ErrNoRows {
		return Domain{}, fmt.Errorf("store: get domain %q: %w", nameOrID, err)
	}
	row = db.conn.QueryRow(`SELECT `+domainCols+` FROM domains WHERE lower(name) = lower(?)`, nameOrID)
	d, err = scanDomain(row)
	if err == sql.ErrNoRows {
		return Domain{}, fmt.Errorf("store: domain %q: %w", nameOrID, apperr.ErrNotFound)
	}
	if err != nil {
		return Domain{}, fmt.Errorf("store: get domain %q: %w", nameOrID, err)
	}
	return d, nil
}

// ListDomains returns all domains ordered by name.
func (db *DB) ListDomains() ([]Domain, error) {
	rows, err := db.conn.Query(`SELECT ` + domainCols + ` FROM domains ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list domains: %w", err)
	}
	defer rows.Close()

	var out []Domain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DomainPatch holds optional domain updates; nil fields are left unchanged.
type DomainPatch struct {
	Name         *string
	Description  *string
	Keywords     *[]string
	Instructions *string
}

// UpdateDomain applies a partial patch. The whole mutated row is written in
// one statement, so concurrent writers cannot interleave field updates.
func (db *DB) UpdateDomain(nameOrID string, p DomainPatch) (Domain, error) {
	d, err := db.GetDomain(nameOrID)
	if err != nil {
		return Domain{}, err
	}
	if p.Name != nil {
		if strings.TrimSpace(*p.Name) == "" {
			return Domain{}, fmt.Errorf("store: domain name cannot be empty: %w", apperr.ErrValidation)
		}
		if d.Name == models.GeneralDomain && *p.Name != d.Name {
			return Domain{}, fmt.Errorf("store: domain %q is reserved and cannot be renamed: %w", d.Name, apperr.ErrConflict)
		}
		d.Name = *p.Name
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Keywords != nil {
		d.Keywords = normalizeKeywords(*p.Keywords)
	}
	if p.Instructions != nil {
		d.Instructions = *p.Instructions
	}
	keywords, err := marshalJSON(d.Keywords)
	if err != nil {
		return Domain{}, fmt.Errorf("store: encode keywords for %q: %w", d.Name, apperr.ErrValidation)
	}
	_, err = db.conn.Exec(
		`UPDATE domains SET name = ?, description = ?, keywords = ?, instructions = ? WHERE id = ?`,
		d.Name, d.Description, keywords, d.Instructions, d.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Domain{}, fmt.Errorf("store: domain %q: %w", d.Name, apperr.ErrAlreadyExists)
		}
		return Domain{}, fmt.Errorf("store: update domain %q: %w", nameOrID, err)
	}
	return db.GetDomain(d.ID)
}

// DeleteDomain removes a domain. When the domain still owns items the call
// fails with ErrConflict unless force is set, in which case the items are
// removed in the same transaction. Items of other domains are never touched.
// The reserved general domain is the classifier fallback and cannot go.
func (db *DB) DeleteDomain(nameOrID string, force bool) error {
	d, err := db.GetDomain(nameOrID)
	if err != nil {
		return err
	}
	if d.Name == models.GeneralDomain {
		return fmt.Errorf("store: domain %q is reserved and cannot be deleted: %w", d.Name, apperr.ErrConflict)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM items WHERE domain_id = ?`, d.ID).Scan(&count); err != nil {
		return fmt.Errorf("store: count items for %q: %w", d.Name, err)
	}
	if count > 0 && !force {
		return fmt.Errorf("store: domain %q still owns %d item(s): %w", d.Name, count, apperr.ErrConflict)
	}
	if count > 0 {
		rows, err := tx.Query(`SELECT id FROM items WHERE domain_id = ?`, d.ID)
		if err != nil {
			return fmt.Errorf("store: list items for %q: %w", d.Name, err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if _, err := tx.Exec(`DELETE FROM items WHERE domain_id = ?`, d.ID); err != nil {
			return fmt.Errorf("store: delete items for %q: %w", d.Name, err)
		}
		for _, id := range ids {
			ftsDelete(tx, id)
		}
	}
	if _, err := tx.Exec(`DELETE FROM domains WHERE id = ?`, d.ID); err != nil {
		return fmt.Errorf("store: delete domain %q: %w", d.Name, err)
	}
	return tx.Commit()
}

func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
