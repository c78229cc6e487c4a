package consolidate

import (
	"fmt"
	"sort"

	"github.com/magpielabs/magpie/internal/models"
)

// Summarizer turns a domain's episodic entries into fact lines for the
// consolidated semantic note.
type Summarizer interface {
	Summarize(domain string, entries []models.Entry) []string
}

// TextSummarizer is the built-in deterministic summarizer: one fact line
// per entry, most important first, flagged entries marked with ⚑.
type TextSummarizer struct{}

func (TextSummarizer) Summarize(_ string, entries []models.Entry) []string {
	sorted := make([]models.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.Time < b.Time
	})

	facts := make([]string, 0, len(sorted))
	for _, e := range sorted {
		flag := ""
		if e.Importance == models.MaxImportance {
			flag = "⚑ "
		}
		facts = append(facts, fmt.Sprintf("- %s%s: %s (%s)", flag, e.Task, e.Outcome, e.Date))
	}
	return facts
}
