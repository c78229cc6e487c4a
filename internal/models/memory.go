// Package models defines the shared memory types for Magpie.
package models

import "time"

// Kind identifies one of the three memory kinds.
type Kind string

// Memory kinds.
const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindProcedural Kind = "procedural"
)

// Valid reports whether k names a known memory kind.
func (k Kind) Valid() bool {
	switch k {
	case KindEpisodic, KindSemantic, KindProcedural:
		return true
	}
	return false
}

// Importance bounds for episodic entries. Values outside the range are
// clamped on parse; a missing field defaults to DefaultImportance.
const (
	MinImportance     = 1
	MaxImportance     = 5
	DefaultImportance = 2
)

// ClampImportance forces v into the [MinImportance, MaxImportance] range.
func ClampImportance(v int) int {
	if v < MinImportance {
		return MinImportance
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}

// Entry is a single logged interaction inside a day-bucketed episodic file.
type Entry struct {
	Date       string    `json:"date"` // YYYY-MM-DD, owning day file
	Time       string    `json:"time"` // HH:MM
	Agent      string    `json:"agent"`
	Domain     string    `json:"domain"`
	Task       string    `json:"task"`
	Outcome    string    `json:"outcome"`
	Importance int       `json:"importance"`
	Artifacts  []string  `json:"artifacts,omitempty"`
	Followup   string    `json:"followup,omitempty"`
	LoggedAt   time.Time `json:"-"`
}

// NoteMeta is the lightweight representation of a semantic or procedural
// note used by listings and the index builder.
type NoteMeta struct {
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name"` // bare note name, no extension
	Title     string    `json:"title"`
	Domain    string    `json:"domain"` // "untagged" when no marker present
	UpdatedAt time.Time `json:"updated_at"`
	Size      int64     `json:"size"`
}

// UntaggedDomain is the domain assigned to notes without a domain marker.
const UntaggedDomain = "untagged"

// GeneralDomain is the reserved fallback domain for classification.
const GeneralDomain = "general"
