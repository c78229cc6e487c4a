package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action is one row of the task audit trail.
type Action struct {
	ID         string    `json:"id"`
	Agent      string    `json:"agent"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// LogAction records an agent action against an entity.
func (db *DB) LogAction(agent, action, entityType, entityID, details string) (Action, error) {
	id := uuid.NewString()
	_, err := db.conn.Exec(
		`INSERT INTO task_runs (id, agent, action, entity_type, entity_id, details) VALUES (?, ?, ?, ?, ?, ?)`,
		id, agent, action, entityType, entityID, details,
	)
	if err != nil {
		return Action{}, fmt.Errorf("store: log action: %w", err)
	}
	row := db.conn.QueryRow(
		`SELECT id, agent, action, entity_type, entity_id, COALESCE(details, ''), created_at FROM task_runs WHERE id = ?`, id)
	var a Action
	if err := row.Scan(&a.ID, &a.Agent, &a.Action, &a.EntityType, &a.EntityID, &a.Details, &a.CreatedAt); err != nil {
		return Action{}, fmt.Errorf("store: read back action: %w", err)
	}
	return a, nil
}

// ListActions returns the most recent audit entries, newest first.
func (db *DB) ListActions(limit int) ([]Action, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(
		`SELECT id, agent, action, entity_type, entity_id, COALESCE(details, ''), created_at
		 FROM task_runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list actions: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.Agent, &a.Action, &a.EntityType, &a.EntityID, &a.Details, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
