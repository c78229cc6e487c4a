// Package consolidate moves knowledge from episodic day files into
// durable semantic and procedural notes.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magpielabs/magpie/internal/apperr"
	"github.com/magpielabs/magpie/internal/memfs"
	"github.com/magpielabs/magpie/internal/memindex"
	"github.com/magpielabs/magpie/internal/models"
	"github.com/magpielabs/magpie/internal/parser"
)

// Report statuses.
const (
	StatusOK           = "ok"
	StatusNothingToDo  = "nothing-to-do"
	DefaultDays        = 7
	DefaultTodayMinImp = 3
)

// Options controls a consolidation pass. Days applies to Run (full
// consolidation), MinImportance to Today. Apply=false previews: the
// same selection and summaries are computed, nothing is written.
type Options struct {
	Days          int
	MinImportance int
	Domain        string
	Apply         bool
}

// Report describes what a consolidation pass did, or would do.
type Report struct {
	Status        string              `json:"status"`
	DryRun        bool                `json:"dry_run"`
	Days          int                 `json:"days,omitempty"`
	SelectedDates []string            `json:"selected_dates,omitempty"`
	EntryCount    int                 `json:"entry_count"`
	Summaries     map[string][]string `json:"summaries,omitempty"`
	Followups     map[string][]string `json:"followups,omitempty"`
	Added         int                 `json:"added"`
	Archived      []string            `json:"archived,omitempty"`
	Conflicts     []Conflict          `json:"conflicts,omitempty"`
	IndexRebuilt  bool                `json:"index_rebuilt"`
}

// Engine runs consolidation passes over a memory repository.
type Engine struct {
	repo   *memfs.Repo
	sum    Summarizer
	logger *slog.Logger

	// Now is the clock used for cutoffs and update stamps. Tests
	// override it; the zero value means time.Now.
	Now func() time.Time
}

func New(repo *memfs.Repo, sum Summarizer, logger *slog.Logger) *Engine {
	if sum == nil {
		sum = TextSummarizer{}
	}
	return &Engine{repo: repo, sum: sum, logger: logger}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Run consolidates day files strictly older than the cutoff (now minus
// opts.Days, default 7): entries are grouped by domain, summarized,
// merged into semantic/consolidated-<domain>.md, and the source files
// are archived. A Domain filter restricts which entries are merged and
// skips archiving, since the day files still carry other domains.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	days := opts.Days
	if days <= 0 {
		days = DefaultDays
	}
	cutoff := e.now().AddDate(0, 0, -days).Format(parser.DateLayout)

	dates, err := e.repo.ListEpisodicDates()
	if err != nil {
		return nil, fmt.Errorf("consolidate: list dates: %w", err)
	}

	report := &Report{Status: StatusOK, DryRun: !opts.Apply, Days: days}
	groups := make(map[string][]models.Entry)
	for _, d := range dates {
		if d >= cutoff {
			continue
		}
		entries, err := e.repo.ReadEpisodic(d)
		if err != nil {
			return nil, fmt.Errorf("consolidate: read %s: %w", d, err)
		}
		matched := filterDomain(entries, opts.Domain)
		if len(matched) == 0 {
			continue
		}
		report.SelectedDates = append(report.SelectedDates, d)
		report.EntryCount += len(matched)
		for _, en := range matched {
			groups[en.Domain] = append(groups[en.Domain], en)
		}
	}

	if report.EntryCount == 0 {
		report.Status = StatusNothingToDo
		return report, nil
	}

	if opts.Apply {
		release, err := e.repo.Lock("consolidate")
		if err != nil {
			return nil, err
		}
		defer release()
	}

	if err := e.mergeSummaries(ctx, report, groups, opts.Apply); err != nil {
		return nil, err
	}

	// A domain-filtered pass never archives, so when the merge added
	// nothing there is no mutation left and a re-run must say so.
	if opts.Domain != "" && report.Added == 0 {
		report.Status = StatusNothingToDo
		return report, nil
	}

	if opts.Apply && opts.Domain == "" {
		if err := e.repo.ArchiveEpisodic(report.SelectedDates); err != nil {
			return nil, fmt.Errorf("consolidate: archive: %w", err)
		}
		report.Archived = report.SelectedDates
	}
	if opts.Apply {
		if err := memindex.Rebuild(e.repo); err != nil {
			return nil, err
		}
		report.IndexRebuilt = true
	}

	e.logger.Info("consolidation finished",
		slog.String("status", report.Status),
		slog.Bool("dry_run", report.DryRun),
		slog.Int("entries", report.EntryCount),
		slog.Int("added", report.Added),
		slog.Int("archived", len(report.Archived)))
	return report, nil
}

// Today consolidates the current day's important entries without
// archiving anything. Entries below MinImportance (default 3) are left
// for the regular pass. Followup lines accumulate in a per-domain
// procedural note so the next session picks them up.
func (e *Engine) Today(ctx context.Context, opts Options) (*Report, error) {
	minImp := opts.MinImportance
	if minImp <= 0 {
		minImp = DefaultTodayMinImp
	}
	date := e.now().Format(parser.DateLayout)

	entries, err := e.repo.ReadEpisodic(date)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("consolidate: read %s: %w", date, err)
	}

	report := &Report{Status: StatusOK, DryRun: !opts.Apply}
	groups := make(map[string][]models.Entry)
	followups := make(map[string][]string)
	for _, en := range filterDomain(entries, opts.Domain) {
		if en.Importance < minImp {
			continue
		}
		groups[en.Domain] = append(groups[en.Domain], en)
		report.EntryCount++
		if en.Followup != "" {
			followups[en.Domain] = append(followups[en.Domain],
				fmt.Sprintf("- %s (%s)", en.Followup, en.Date))
		}
	}

	if report.EntryCount == 0 {
		report.Status = StatusNothingToDo
		return report, nil
	}
	report.SelectedDates = []string{date}

	if opts.Apply {
		release, err := e.repo.Lock("consolidate")
		if err != nil {
			return nil, err
		}
		defer release()
	}

	if err := e.mergeSummaries(ctx, report, groups, opts.Apply); err != nil {
		return nil, err
	}
	if err := e.mergeFollowups(report, followups, opts.Apply); err != nil {
		return nil, err
	}

	// Today never archives, so a re-run that adds nothing is a no-op.
	if report.Added == 0 {
		report.Status = StatusNothingToDo
		return report, nil
	}

	if opts.Apply {
		if err := memindex.Rebuild(e.repo); err != nil {
			return nil, err
		}
		report.IndexRebuilt = true
	}

	e.logger.Info("today consolidation finished",
		slog.String("status", report.Status),
		slog.Bool("dry_run", report.DryRun),
		slog.Int("entries", report.EntryCount),
		slog.Int("added", report.Added))
	return report, nil
}

// mergeSummaries summarizes each domain group and merges the fact lines
// into that domain's consolidated semantic note. Dry runs compute the
// merge against the current note content without writing it.
func (e *Engine) mergeSummaries(ctx context.Context, report *Report, groups map[string][]models.Entry, apply bool) error {
	report.Summaries = make(map[string][]string, len(groups))
	for _, domain := range sortedDomains(groups) {
		if err := ctx.Err(); err != nil {
			return err
		}
		facts := e.sum.Summarize(domain, groups[domain])
		report.Summaries[domain] = facts

		note := "consolidated-" + domain
		title := "Consolidated Memory: " + domain
		merge := func(existing []byte) ([]byte, error) {
			res := mergeNote(note, title, domain, existing, facts, e.now())
			report.Added += res.added
			report.Conflicts = append(report.Conflicts, res.conflicts...)
			return res.content, nil
		}

		if apply {
			if err := e.repo.UpsertNote(models.KindSemantic, note, merge); err != nil {
				return fmt.Errorf("consolidate: merge %s: %w", note, err)
			}
			continue
		}
		existing, err := e.repo.ReadNote(models.KindSemantic, note)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("consolidate: read %s: %w", note, err)
		}
		if _, err := merge(existing); err != nil {
			return err
		}
	}
	return nil
}

// mergeFollowups appends followup lines to procedural
// <domain>-followups.md notes.
func (e *Engine) mergeFollowups(report *Report, followups map[string][]string, apply bool) error {
	if len(followups) == 0 {
		return nil
	}
	report.Followups = followups
	for _, domain := range sortedDomains(followups) {
		note := domain + "-followups"
		title := "Followups: " + domain
		lines := append([]string{"When: starting a new session in " + domain}, followups[domain]...)
		merge := func(existing []byte) ([]byte, error) {
			res := mergeNote(note, title, domain, existing, lines, e.now())
			report.Added += res.added
			report.Conflicts = append(report.Conflicts, res.conflicts...)
			return res.content, nil
		}

		if apply {
			if err := e.repo.UpsertNote(models.KindProcedural, note, merge); err != nil {
				return fmt.Errorf("consolidate: merge %s: %w", note, err)
			}
			continue
		}
		existing, err := e.repo.ReadNote(models.KindProcedural, note)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("consolidate: read %s: %w", note, err)
		}
		if _, err := merge(existing); err != nil {
			return err
		}
	}
	return nil
}

func filterDomain(entries []models.Entry, domain string) []models.Entry {
	if domain == "" {
		return entries
	}
	var out []models.Entry
	for _, e := range entries {
		if e.Domain == domain {
			out = append(out, e)
		}
	}
	return out
}
