package memfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/magpielabs/magpie/internal/apperr"
	"github.com/magpielabs/magpie/internal/models"
	"github.com/magpielabs/magpie/internal/parser"
)

func (r *Repo) dayPath(date string, archived bool) string {
	if archived {
		return filepath.Join(r.root, episodicDir, archiveDir, date+".md")
	}
	return filepath.Join(r.root, episodicDir, date+".md")
}

// ReadEpisodic parses the entries of a live day file.
func (r *Repo) ReadEpisodic(date string) ([]models.Entry, error) {
	data, err := r.ReadEpisodicRaw(date, false)
	if err != nil {
		return nil, err
	}
	return parser.ParseEntries(date, data), nil
}

// ReadEpisodicRaw returns the raw bytes of a day file, live or archived.
func (r *Repo) ReadEpisodicRaw(date string, archived bool) ([]byte, error) {
	if err := validDate(date); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.dayPath(date, archived))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("memfs: episodic %s: %w", date, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("memfs: read episodic %s: %w", date, err)
	}
	return data, nil
}

// AppendEpisodic adds an entry to a day file, creating it with the day
// header if absent. Prior bytes are never modified: the new content is the
// old content plus a separator and the rendered entry, written atomically.
func (r *Repo) AppendEpisodic(date string, e models.Entry) error {
	if err := validDate(date); err != nil {
		return err
	}
	if e.Task == "" && e.Outcome == "" {
		return fmt.Errorf("memfs: entry needs a task or an outcome: %w", apperr.ErrValidation)
	}
	e.Date = date
	if e.Time == "" {
		at := e.LoggedAt
		if at.IsZero() {
			at = time.Now()
		}
		e.Time = at.Format("15:04")
	}
	if e.Domain == "" {
		e.Domain = models.GeneralDomain
	}
	if e.Importance == 0 {
		e.Importance = models.DefaultImportance
	}

	abs := r.dayPath(date, false)
	existing, err := os.ReadFile(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("memfs: read episodic %s: %w", date, err)
		}
		existing = []byte(parser.DayHeader(date))
	}

	buf := existing
	if len(buf) > 0 && buf[len(buf)-1] != '\n' {
		buf = append(buf, '\n')
	}
	buf = append(buf, '\n')
	buf = append(buf, parser.FormatEntry(e)...)
	return r.writeAtomic(abs, buf)
}

// RewriteEpisodic replaces a day file's content outright. Only the
// forgetting engine uses this, to remove matched entries; everything else
// must go through AppendEpisodic.
func (r *Repo) RewriteEpisodic(date string, archived bool, content []byte) error {
	if err := validDate(date); err != nil {
		return err
	}
	return r.writeAtomic(r.dayPath(date, archived), content)
}

// DeleteEpisodic unlinks a day file, live or archived.
func (r *Repo) DeleteEpisodic(date string, archived bool) error {
	if err := validDate(date); err != nil {
		return err
	}
	if err := os.Remove(r.dayPath(date, archived)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("memfs: episodic %s: %w", date, apperr.ErrNotFound)
		}
		return fmt.Errorf("memfs: delete episodic %s: %w", date, err)
	}
	return nil
}

// ListEpisodicDates returns the live day-file dates, sorted ascending.
// Template files and stems that are not calendar dates are skipped.
func (r *Repo) ListEpisodicDates() ([]string, error) {
	return r.listDates(filepath.Join(r.root, episodicDir))
}

// ListArchiveDates returns the archived day-file dates, sorted ascending.
func (r *Repo) ListArchiveDates() ([]string, error) {
	return r.listDates(filepath.Join(r.root, episodicDir, archiveDir))
}

func (r *Repo) listDates(dir string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("memfs: list %s: %w", dir, err)
	}
	var dates []string
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".md") {
			continue
		}
		stem := strings.TrimSuffix(name, ".md")
		if _, err := time.Parse(parser.DateLayout, stem); err != nil {
			continue
		}
		dates = append(dates, stem)
	}
	sort.Strings(dates)
	return dates, nil
}

// ArchiveEpisodic moves whole day files into episodic/archive/ via rename,
// preserving the original bytes. A date that is already archived fails with
// ErrConflict before anything is moved, so the operation never leaves a
// partially duplicated state.
func (r *Repo) ArchiveEpisodic(dates []string) error {
	for _, date := range dates {
		if err := validDate(date); err != nil {
			return err
		}
		if _, err := os.Stat(r.dayPath(date, true)); err == nil {
			return fmt.Errorf("memfs: archive already holds %s: %w", date, apperr.ErrConflict)
		}
	}
	for _, date := range dates {
		src := r.dayPath(date, false)
		dst := r.dayPath(date, true)
		if err := os.Rename(src, dst); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("memfs: episodic %s: %w", date, apperr.ErrNotFound)
			}
			return fmt.Errorf("memfs: archive %s: %w", date, err)
		}
	}
	return nil
}
