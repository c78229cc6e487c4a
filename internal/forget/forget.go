// Package forget implements targeted deletion of memory: surgical
// removal of episodic entries and whole-file removal of notes.
package forget

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magpielabs/magpie/internal/apperr"
	"github.com/magpielabs/magpie/internal/memfs"
	"github.com/magpielabs/magpie/internal/memindex"
	"github.com/magpielabs/magpie/internal/models"
	"github.com/magpielabs/magpie/internal/parser"
)

// Type filter values. Empty means all three.
const (
	TypeEpisodic   = "episodic"
	TypeSemantic   = "semantic"
	TypeProcedural = "procedural"
)

// Filters narrows what gets forgotten. At least one filter must be set;
// All additionally requires Type, so a whole memory kind can only be
// wiped deliberately.
type Filters struct {
	Search string
	Domain string
	Type   string
	Before string
	File   string
	All    bool
}

// FileRef identifies a whole file slated for deletion.
type FileRef struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Archived bool   `json:"archived,omitempty"`
}

// EntryRemoval is a surgical edit of one episodic day file: Remove goes,
// Keep stays. Apply rewrites the file in place with only the removed
// blocks cut out; when nothing but the header would remain the file
// itself is deleted.
type EntryRemoval struct {
	Date     string         `json:"date"`
	Archived bool           `json:"archived,omitempty"`
	Remove   []models.Entry `json:"remove"`
	Keep     []models.Entry `json:"-"`
}

// Selection is what a forget pass would delete. List and dry-run Forget
// return it untouched; apply commits exactly it.
type Selection struct {
	Files    []FileRef      `json:"files,omitempty"`
	Removals []EntryRemoval `json:"removals,omitempty"`
}

// Count returns the number of files plus individual entries selected.
func (s Selection) Count() int {
	n := len(s.Files)
	for _, r := range s.Removals {
		n += len(r.Remove)
	}
	return n
}

// Empty reports whether nothing matched.
func (s Selection) Empty() bool { return len(s.Files) == 0 && len(s.Removals) == 0 }

// HasProcedural reports whether the selection would delete procedural
// memory, which requires explicit confirmation.
func (s Selection) HasProcedural() bool {
	for _, f := range s.Files {
		if f.Type == TypeProcedural {
			return true
		}
	}
	return false
}

func (f Filters) validate() error {
	if f.All && f.Type == "" {
		return fmt.Errorf("forget: --all requires a type: %w", apperr.ErrValidation)
	}
	if !f.All && f.Search == "" && f.Domain == "" && f.Before == "" && f.File == "" {
		return fmt.Errorf("forget: no filters given: %w", apperr.ErrValidation)
	}
	switch f.Type {
	case "", TypeEpisodic, TypeSemantic, TypeProcedural:
	default:
		return fmt.Errorf("forget: unknown type %q: %w", f.Type, apperr.ErrValidation)
	}
	if f.Before != "" {
		if _, err := parserDate(f.Before); err != nil {
			return err
		}
	}
	return nil
}

// Select computes what fs matches without touching anything. It is the
// single selection path: previews and applies cannot drift apart.
func Select(repo *memfs.Repo, fs Filters) (Selection, error) {
	var sel Selection
	if err := fs.validate(); err != nil {
		return sel, err
	}

	if fs.Type == "" || fs.Type == TypeEpisodic {
		if err := selectEpisodic(repo, fs, &sel); err != nil {
			return Selection{}, err
		}
	}
	for _, kind := range []models.Kind{models.KindSemantic, models.KindProcedural} {
		if fs.Type != "" && fs.Type != string(kind) {
			continue
		}
		if err := selectNotes(repo, kind, fs, &sel); err != nil {
			return Selection{}, err
		}
	}
	return sel, nil
}

// selectEpisodic walks live and archived day files. Date-level filters
// (Before, File, All) delete whole files; entry-level filters (Search,
// Domain) remove matching entries and leave the rest.
func selectEpisodic(repo *memfs.Repo, fs Filters, sel *Selection) error {
	live, err := repo.ListEpisodicDates()
	if err != nil {
		return err
	}
	archived, err := repo.ListArchiveDates()
	if err != nil {
		return err
	}

	entryLevel := fs.Search != "" || fs.Domain != ""
	scan := func(dates []string, inArchive bool) error {
		for _, date := range dates {
			if fs.Before != "" && date >= fs.Before {
				continue
			}
			if fs.File != "" && date != fs.File {
				continue
			}
			if !entryLevel {
				sel.Files = append(sel.Files, FileRef{Type: TypeEpisodic, Name: date, Archived: inArchive})
				continue
			}

			data, err := repo.ReadEpisodicRaw(date, inArchive)
			if err != nil {
				return err
			}
			var remove, keep []models.Entry
			for _, e := range parser.ParseEntries(date, data) {
				if entryMatches(e, fs) {
					remove = append(remove, e)
				} else {
					keep = append(keep, e)
				}
			}
			if len(remove) == 0 {
				continue
			}
			sel.Removals = append(sel.Removals, EntryRemoval{
				Date: date, Archived: inArchive, Remove: remove, Keep: keep,
			})
		}
		return nil
	}

	if err := scan(live, false); err != nil {
		return err
	}
	return scan(archived, true)
}

func entryMatches(e models.Entry, fs Filters) bool {
	if fs.Domain != "" && !strings.EqualFold(e.Domain, fs.Domain) {
		return false
	}
	if fs.Search != "" && !parser.EntryMatches(e, fs.Search) {
		return false
	}
	return true
}

// selectNotes matches semantic and procedural notes. Notes are deleted
// whole: a matching search hit anywhere in the file selects the file.
func selectNotes(repo *memfs.Repo, kind models.Kind, fs Filters, sel *Selection) error {
	notes, err := repo.ListNotes(kind, fs.Domain)
	if err != nil {
		return err
	}
	for _, n := range notes {
		if fs.File != "" && n.Name != fs.File {
			continue
		}
		if fs.Before != "" {
			cutoff, err := parserDate(fs.Before)
			if err != nil {
				return err
			}
			if n.UpdatedAt.IsZero() || !n.UpdatedAt.Before(cutoff) {
				continue
			}
		}
		if fs.Search != "" {
			data, err := repo.ReadNote(kind, n.Name)
			if err != nil {
				return err
			}
			hay := strings.ToLower(n.Name + "\n" + string(data))
			if !strings.Contains(hay, strings.ToLower(fs.Search)) {
				continue
			}
		}
		sel.Files = append(sel.Files, FileRef{Type: string(kind), Name: n.Name})
	}
	return nil
}

// List previews a forget pass.
func List(repo *memfs.Repo, fs Filters) (Selection, error) {
	return Select(repo, fs)
}

// Forget deletes the selection. apply=false returns the selection with
// no side effects. Procedural deletions abort with
// ErrConfirmationRequired before any mutation unless confirmProcedural
// is set.
func Forget(repo *memfs.Repo, logger *slog.Logger, fs Filters, apply, confirmProcedural bool) (Selection, error) {
	sel, err := Select(repo, fs)
	if err != nil {
		return Selection{}, err
	}
	if !apply || sel.Empty() {
		return sel, nil
	}
	if sel.HasProcedural() && !confirmProcedural {
		return Selection{}, fmt.Errorf("forget: selection includes procedural memory: %w", apperr.ErrConfirmationRequired)
	}

	release, err := repo.Lock("forget")
	if err != nil {
		return Selection{}, err
	}
	defer release()

	notesTouched := false
	for _, r := range sel.Removals {
		data, err := repo.ReadEpisodicRaw(r.Date, r.Archived)
		if err != nil {
			return Selection{}, err
		}
		rest := parser.RemoveEntries(r.Date, data, r.Remove)
		if emptyDay(r.Date, rest) {
			if err := repo.DeleteEpisodic(r.Date, r.Archived); err != nil {
				return Selection{}, err
			}
			continue
		}
		if err := repo.RewriteEpisodic(r.Date, r.Archived, rest); err != nil {
			return Selection{}, err
		}
	}
	for _, f := range sel.Files {
		switch f.Type {
		case TypeEpisodic:
			if err := repo.DeleteEpisodic(f.Name, f.Archived); err != nil && !errors.Is(err, apperr.ErrNotFound) {
				return Selection{}, err
			}
		default:
			notesTouched = true
			if err := repo.DeleteNote(models.Kind(f.Type), f.Name); err != nil && !errors.Is(err, apperr.ErrNotFound) {
				return Selection{}, err
			}
		}
	}

	if notesTouched {
		if err := memindex.Rebuild(repo); err != nil {
			return Selection{}, err
		}
	}

	logger.Info("forget applied",
		slog.Int("files", len(sel.Files)),
		slog.Int("entries", sel.Count()-len(sel.Files)))
	return sel, nil
}

// emptyDay reports whether nothing but the day header is left, in which
// case the file itself goes. Any hand-written remainder keeps it alive.
func emptyDay(date string, data []byte) bool {
	rest := strings.TrimSpace(string(data))
	return rest == "" || rest == strings.TrimSpace(parser.DayHeader(date))
}

func parserDate(s string) (time.Time, error) {
	t, err := time.Parse(parser.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("forget: bad date %q: %w", s, apperr.ErrValidation)
	}
	return t, nil
}
