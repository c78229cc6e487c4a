// Package memfs implements the memory file repository: a guarded directory
// tree holding episodic day logs, semantic notes, and procedural notes.
//
// Layout under the root:
//
//	episodic/YYYY-MM-DD.md   append-only day logs
//	episodic/archive/        consolidated originals, byte-identical
//	semantic/<name>.md       merge-updated fact notes
//	procedural/<name>.md     workflow rule notes
//	index.md                 regenerable retrieval index
//
// All writes go through an atomic temp-file-then-rename path so a concurrent
// reader never observes a torn file.
package memfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/magpielabs/magpie/internal/apperr"
	"github.com/magpielabs/magpie/internal/models"
	"github.com/magpielabs/magpie/internal/parser"
)

// Subdirectory names under the memory root.
const (
	episodicDir = "episodic"
	archiveDir  = "archive"
	indexFile   = "index.md"
	lockFile    = ".magpie.lock"
)

// Repo is a memory file repository rooted at a single directory.
type Repo struct {
	root string
}

// New creates a Repo rooted at dir, creating the memory subdirectories if
// they do not exist yet.
func New(dir string) (*Repo, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("memfs: resolve root: %w", err)
	}
	for _, sub := range []string{
		episodicDir,
		filepath.Join(episodicDir, archiveDir),
		string(models.KindSemantic),
		string(models.KindProcedural),
	} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("memfs: create %s: %w", sub, err)
		}
	}
	return &Repo{root: abs}, nil
}

// Root returns the absolute memory root path.
func (r *Repo) Root() string { return r.root }

// validName rejects anything that could escape the memory root or collide
// with reserved files: path separators, parent components, absolute paths,
// and the template prefix. Checked before any filesystem operation.
func validName(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return fmt.Errorf("memfs: empty or reserved name %q: %w", name, apperr.ErrInvalidName)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("memfs: name %q contains a path separator: %w", name, apperr.ErrInvalidName)
	case strings.Contains(name, ".."):
		return fmt.Errorf("memfs: name %q contains a parent component: %w", name, apperr.ErrInvalidName)
	case filepath.IsAbs(name):
		return fmt.Errorf("memfs: absolute name %q: %w", name, apperr.ErrInvalidName)
	case strings.HasPrefix(name, "_") || strings.HasPrefix(name, "."):
		return fmt.Errorf("memfs: name %q is reserved: %w", name, apperr.ErrInvalidName)
	case strings.HasSuffix(name, ".md"):
		return fmt.Errorf("memfs: name %q must not carry the extension: %w", name, apperr.ErrInvalidName)
	}
	return nil
}

// validDate rejects anything that is not a bare YYYY-MM-DD calendar date.
func validDate(date string) error {
	if _, err := time.Parse(parser.DateLayout, date); err != nil {
		return fmt.Errorf("memfs: bad date %q: %w", date, apperr.ErrInvalidName)
	}
	return nil
}

// writeAtomic writes content via temp file, fsync, and rename.
func (r *Repo) writeAtomic(abs string, content []byte) error {
	dir := filepath.Dir(abs)
	tmp, err := os.CreateTemp(dir, ".magpie-tmp-*")
	if err != nil {
		return fmt.Errorf("memfs: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("memfs: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("memfs: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("memfs: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("memfs: rename: %w", err)
	}
	success = true
	return nil
}

// WriteIndex replaces index.md wholesale.
func (r *Repo) WriteIndex(content []byte) error {
	return r.writeAtomic(filepath.Join(r.root, indexFile), content)
}

// ReadIndex returns the current index.md, or ErrNotFound when absent.
// Consumers fall back to scanning the note set when the index is missing.
func (r *Repo) ReadIndex() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(r.root, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("memfs: index.md: %w", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("memfs: read index: %w", err)
	}
	return data, nil
}

// Lock acquires the repository operation lock, serializing consolidation and
// forgetting across processes. The returned release function must be called
// on every exit path.
func (r *Repo) Lock(op string) (func(), error) {
	path := filepath.Join(r.root, lockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("memfs: another operation holds the lock (%s): %w", path, apperr.ErrConflict)
		}
		return nil, fmt.Errorf("memfs: acquire lock: %w", err)
	}
	fmt.Fprintf(f, "%s pid=%d\n", op, os.Getpid())
	_ = f.Close()
	return func() { _ = os.Remove(path) }, nil
}
