package api

import (
	"github.com/magpielabs/magpie/internal/consolidate"
	"github.com/magpielabs/magpie/internal/forget"
	"github.com/magpielabs/magpie/internal/models"
	"github.com/magpielabs/magpie/internal/store"
)

// CreateDomainRequest is the request body for creating a domain.
type CreateDomainRequest struct {
	Name         string   `json:"name" example:"fitness" validate:"required"`
	Description  string   `json:"description,omitempty"`
	Keywords     []string `json:"keywords,omitempty" example:"workout,gym"`
	Instructions string   `json:"instructions,omitempty"`
}

// UpdateDomainRequest is the request body for patching a domain.
// Absent fields are left unchanged.
type UpdateDomainRequest struct {
	Name         *string   `json:"name,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Keywords     *[]string `json:"keywords,omitempty"`
	Instructions *string   `json:"instructions,omitempty"`
}

// DomainListResponse wraps domain listings.
type DomainListResponse struct {
	Domains []store.Domain `json:"domains" validate:"required"`
	Total   int            `json:"total" example:"3" validate:"required"`
}

// CreateItemRequest is the request body for creating an item.
type CreateItemRequest struct {
	Domain   string         `json:"domain,omitempty" example:"jobs"`
	Title    string         `json:"title" example:"SWE at Acme" validate:"required"`
	Type     string         `json:"type,omitempty" example:"job"`
	Data     map[string]any `json:"data,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Status   string         `json:"status,omitempty" example:"active"`
	Priority *int           `json:"priority,omitempty"`
	Due      *string        `json:"due,omitempty" example:"2026-03-01T00:00:00Z"`
}

// UpdateItemRequest is the request body for patching an item.
type UpdateItemRequest struct {
	Title    *string         `json:"title,omitempty"`
	Type     *string         `json:"type,omitempty"`
	Data     *map[string]any `json:"data,omitempty"`
	Tags     *[]string       `json:"tags,omitempty"`
	Status   *string         `json:"status,omitempty"`
	Priority *int            `json:"priority,omitempty"`
	Due      *string         `json:"due,omitempty"`
}

// ItemListResponse wraps item listings.
type ItemListResponse struct {
	Items []store.Item `json:"items" validate:"required"`
	Total int          `json:"total" example:"12" validate:"required"`
}

// LogEpisodeRequest is the request body for appending an episodic entry.
type LogEpisodeRequest struct {
	Date       string   `json:"date,omitempty" example:"2026-02-14"`
	Agent      string   `json:"agent" example:"claude" validate:"required"`
	Domain     string   `json:"domain,omitempty" example:"fitness"`
	Task       string   `json:"task" validate:"required"`
	Outcome    string   `json:"outcome" validate:"required"`
	Importance int      `json:"importance,omitempty" example:"3"`
	Artifacts  []string `json:"artifacts,omitempty"`
	Followup   string   `json:"followup,omitempty"`
}

// EpisodicDatesResponse lists live and archived day files.
type EpisodicDatesResponse struct {
	Dates    []string `json:"dates" validate:"required"`
	Archived []string `json:"archived" validate:"required"`
}

// EpisodicDayResponse wraps one day's parsed entries.
type EpisodicDayResponse struct {
	Date    string         `json:"date" validate:"required"`
	Entries []models.Entry `json:"entries" validate:"required"`
}

// NoteListResponse wraps note listings for one memory kind.
type NoteListResponse struct {
	Notes []models.NoteMeta `json:"notes" validate:"required"`
	Total int               `json:"total" validate:"required"`
}

// UpdateNoteRequest is the request body for replacing a note.
type UpdateNoteRequest struct {
	Content string `json:"content" validate:"required"`
}

// DetectRequest is the request body for domain detection.
type DetectRequest struct {
	Text string `json:"text" example:"leg day at the gym" validate:"required"`
}

// DetectResponse is the detection result.
type DetectResponse struct {
	Domain string `json:"domain" example:"fitness" validate:"required"`
}

// ConsolidateRequest is the request body for a consolidation pass.
// Apply defaults to false: the pass previews unless asked to commit.
type ConsolidateRequest struct {
	Today         bool   `json:"today,omitempty"`
	Days          int    `json:"days,omitempty" example:"7"`
	MinImportance int    `json:"min_importance,omitempty" example:"3"`
	Domain        string `json:"domain,omitempty"`
	Apply         bool   `json:"apply,omitempty"`
}

// ForgetRequest is the request body for a forget pass. Apply defaults
// to false; Confirm acknowledges procedural deletions.
type ForgetRequest struct {
	Search  string `json:"search,omitempty"`
	Domain  string `json:"domain,omitempty"`
	Type    string `json:"type,omitempty" example:"episodic"`
	Before  string `json:"before,omitempty" example:"2026-01-01"`
	File    string `json:"file,omitempty"`
	All     bool   `json:"all,omitempty"`
	Apply   bool   `json:"apply,omitempty"`
	Confirm bool   `json:"confirm,omitempty"`
}

// ForgetResponse wraps the selection a forget pass deleted or would delete.
type ForgetResponse struct {
	Applied   bool             `json:"applied"`
	Count     int              `json:"count"`
	Selection forget.Selection `json:"selection"`
}

// ConsolidateResponse aliases the engine report.
type ConsolidateResponse = consolidate.Report

// ActionListResponse wraps the audit trail.
type ActionListResponse struct {
	Actions []store.Action `json:"actions" validate:"required"`
}
