package memfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/magpielabs/magpie/internal/apperr"
	"github.com/magpielabs/magpie/internal/models"
	"github.com/magpielabs/magpie/internal/parser"
)

func noteKindDir(kind models.Kind) (string, error) {
	switch kind {
	case models.KindSemantic, models.KindProcedural:
		return string(kind), nil
	}
	return "", fmt.Errorf("memfs: kind %q has no note directory: %w", kind, apperr.ErrValidation)
}

func (r *Repo) notePath(kind models.Kind, name string) (string, error) {
	dir, err := noteKindDir(kind)
	if err != nil {
		return "", err
	}
	if err := validName(name); err != nil {
		return "", err
	}
	return filepath.Join(r.root, dir, name+".md"), nil
}

// ListNotes returns metadata for every note of a kind, optionally filtered
// by domain tag. Results are sorted by name for stable output.
func (r *Repo) ListNotes(kind models.Kind, domainFilter string) ([]models.NoteMeta, error) {
	dir, err := noteKindDir(kind)
	if err != nil {
		return nil, err
	}
	des, err := os.ReadDir(filepath.Join(r.root, dir))
	if err != nil {
		return nil, fmt.Errorf("memfs: list %s notes: %w", kind, err)
	}

	var out []models.NoteMeta
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.root, dir, name))
		if err != nil {
			return nil, fmt.Errorf("memfs: read %s/%s: %w", dir, name, err)
		}
		meta := models.NoteMeta{
			Kind:      kind,
			Name:      strings.TrimSuffix(name, ".md"),
			Title:     parser.NoteTitle(data),
			Domain:    parser.NoteDomain(data),
			UpdatedAt: parser.NoteLastUpdated(data),
			Size:      int64(len(data)),
		}
		if meta.UpdatedAt.IsZero() {
			if info, err := de.Info(); err == nil {
				meta.UpdatedAt = info.ModTime()
			}
		}
		if domainFilter != "" && meta.Domain != domainFilter {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReadNote returns the raw bytes of a note.
func (r *Repo) ReadNote(kind models.Kind, name string) ([]byte, error) {
	abs, err := r.notePath(kind, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("memfs: %s/%s: %w", kind, name, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("memfs: read %s/%s: %w", kind, name, err)
	}
	return data, nil
}

// MergeFunc takes the existing note content (nil when the note does not
// exist yet) and returns the full replacement content. Returning nil
// content leaves the note untouched.
type MergeFunc func(existing []byte) ([]byte, error)

// UpsertNote loads the note if present, applies merge, and writes the result
// atomically. Merge target selection is by exact name; there is no fuzzy
// matching, so repeated merges are deterministic. A nil merge result skips
// the write, so no-op merges never disturb the file.
func (r *Repo) UpsertNote(kind models.Kind, name string, merge MergeFunc) error {
	abs, err := r.notePath(kind, name)
	if err != nil {
		return err
	}
	existing, err := os.ReadFile(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("memfs: read %s/%s: %w", kind, name, err)
		}
		existing = nil
	}
	merged, err := merge(existing)
	if err != nil {
		return err
	}
	if merged == nil {
		return nil
	}
	return r.writeAtomic(abs, merged)
}

// DeleteNote unlinks a note file.
func (r *Repo) DeleteNote(kind models.Kind, name string) error {
	abs, err := r.notePath(kind, name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("memfs: %s/%s: %w", kind, name, apperr.ErrNotFound)
		}
		return fmt.Errorf("memfs: delete %s/%s: %w", kind, name, err)
	}
	return nil
}
