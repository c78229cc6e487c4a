package memfs

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/magpielabs/magpie/internal/apperr"
	"github.com/magpielabs/magpie/internal/models"
)

func tempRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func entry(task string, importance int) models.Entry {
	return models.Entry{
		Time: "10:00", Agent: "claude", Domain: "general",
		Task: task, Outcome: "done", Importance: importance,
	}
}

func TestNewCreatesLayout(t *testing.T) {
	r := tempRepo(t)
	for _, sub := range []string{"episodic", "episodic/archive", "semantic", "procedural"} {
		if info, err := os.Stat(filepath.Join(r.Root(), sub)); err != nil || !info.IsDir() {
			t.Errorf("missing dir %s: %v", sub, err)
		}
	}
}

func TestAppendEpisodicCreatesWithHeader(t *testing.T) {
	r := tempRepo(t)
	if err := r.AppendEpisodic("2026-03-01", entry("first task", 3)); err != nil {
		t.Fatalf("AppendEpisodic: %v", err)
	}
	data, err := r.ReadEpisodicRaw("2026-03-01", false)
	if err != nil {
		t.Fatalf("ReadEpisodicRaw: %v", err)
	}
	if !strings.HasPrefix(string(data), "# 2026-03-01\n") {
		t.Errorf("missing day header:\n%s", data)
	}
	if !strings.Contains(string(data), "first task") {
		t.Errorf("entry missing:\n%s", data)
	}
}

func TestAppendEpisodicPrefixProperty(t *testing.T) {
	// Prior bytes must be a strict prefix of the file after every append.
	r := tempRepo(t)
	var prev []byte
	for _, task := range []string{"one", "two", "three"} {
		if err := r.AppendEpisodic("2026-03-01", entry(task, 2)); err != nil {
			t.Fatalf("AppendEpisodic(%s): %v", task, err)
		}
		cur, err := r.ReadEpisodicRaw("2026-03-01", false)
		if err != nil {
			t.Fatalf("ReadEpisodicRaw: %v", err)
		}
		if !bytes.HasPrefix(cur, prev) {
			t.Fatalf("append rewrote prior bytes after %q", task)
		}
		if len(cur) <= len(prev) {
			t.Fatalf("append did not grow the file after %q", task)
		}
		prev = cur
	}
	entries, err := r.ReadEpisodic("2026-03-01")
	if err != nil {
		t.Fatalf("ReadEpisodic: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("entries = %d, want 3", len(entries))
	}
}

func TestReadEpisodicNotFound(t *testing.T) {
	r := tempRepo(t)
	if _, err := r.ReadEpisodic("2026-01-01"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendEpisodicRejectsBadDate(t *testing.T) {
	r := tempRepo(t)
	for _, date := range []string{"not-a-date", "../2026-03-01", "/etc/passwd", "2026-13-40"} {
		if err := r.AppendEpisodic(date, entry("x", 2)); !errors.Is(err, apperr.ErrInvalidName) {
			t.Errorf("date %q: err = %v, want ErrInvalidName", date, err)
		}
	}
}

func TestArchiveEpisodicByteIdentical(t *testing.T) {
	r := tempRepo(t)
	_ = r.AppendEpisodic("2026-02-01", entry("old work", 4))
	before, _ := r.ReadEpisodicRaw("2026-02-01", false)

	if err := r.ArchiveEpisodic([]string{"2026-02-01"}); err != nil {
		t.Fatalf("ArchiveEpisodic: %v", err)
	}
	after, err := r.ReadEpisodicRaw("2026-02-01", true)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Error("archived content differs from original")
	}
	if _, err := r.ReadEpisodicRaw("2026-02-01", false); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("live file should be gone, err = %v", err)
	}
}

func TestArchiveEpisodicConflictLeavesSourceIntact(t *testing.T) {
	r := tempRepo(t)
	_ = r.AppendEpisodic("2026-02-01", entry("a", 2))
	_ = r.AppendEpisodic("2026-02-02", entry("b", 2))
	_ = r.ArchiveEpisodic([]string{"2026-02-01"})
	_ = r.AppendEpisodic("2026-02-01", entry("again", 2))

	err := r.ArchiveEpisodic([]string{"2026-02-02", "2026-02-01"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	// Nothing may have moved.
	if _, err := r.ReadEpisodicRaw("2026-02-02", false); err != nil {
		t.Errorf("2026-02-02 should still be live: %v", err)
	}
}

func TestListEpisodicDatesSkipsJunk(t *testing.T) {
	r := tempRepo(t)
	_ = r.AppendEpisodic("2026-03-02", entry("b", 2))
	_ = r.AppendEpisodic("2026-03-01", entry("a", 2))
	_ = os.WriteFile(filepath.Join(r.Root(), "episodic", "_template.md"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(r.Root(), "episodic", "notes.txt"), []byte("x"), 0o644)

	dates, err := r.ListEpisodicDates()
	if err != nil {
		t.Fatalf("ListEpisodicDates: %v", err)
	}
	if len(dates) != 2 || dates[0] != "2026-03-01" || dates[1] != "2026-03-02" {
		t.Errorf("dates = %v", dates)
	}
}

func TestUpsertNoteMergeAndRead(t *testing.T) {
	r := tempRepo(t)
	err := r.UpsertNote(models.KindSemantic, "prefs", func(existing []byte) ([]byte, error) {
		if existing != nil {
			t.Error("expected nil existing on first upsert")
		}
		return []byte("# Prefs\n\n<!-- domain: general -->\n\n- likes tea\n"), nil
	})
	if err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}
	err = r.UpsertNote(models.KindSemantic, "prefs", func(existing []byte) ([]byte, error) {
		return append(existing, []byte("- drinks coffee\n")...), nil
	})
	if err != nil {
		t.Fatalf("UpsertNote merge: %v", err)
	}
	data, err := r.ReadNote(models.KindSemantic, "prefs")
	if err != nil {
		t.Fatalf("ReadNote: %v", err)
	}
	if !strings.Contains(string(data), "likes tea") || !strings.Contains(string(data), "drinks coffee") {
		t.Errorf("merged content wrong:\n%s", data)
	}
}

func TestUpsertNoteNilMergeSkipsWrite(t *testing.T) {
	r := tempRepo(t)
	content := []byte("# Prefs\n\n<!-- domain: general -->\n\n- likes tea\n")
	err := r.UpsertNote(models.KindSemantic, "prefs", func([]byte) ([]byte, error) {
		return content, nil
	})
	if err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}

	err = r.UpsertNote(models.KindSemantic, "prefs", func([]byte) ([]byte, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("nil merge: %v", err)
	}
	data, err := r.ReadNote(models.KindSemantic, "prefs")
	if err != nil {
		t.Fatalf("ReadNote: %v", err)
	}
	if string(data) != string(content) {
		t.Errorf("note changed on nil merge:\n%s", data)
	}
}

func TestNoteNameTraversalBlocked(t *testing.T) {
	r := tempRepo(t)
	cases := []string{
		"../escape",
		"../../etc/passwd",
		"/abs/path",
		"sub/dir",
		"_template",
		".hidden",
		"prefs.md",
		"",
	}
	for _, name := range cases {
		err := r.UpsertNote(models.KindSemantic, name, func([]byte) ([]byte, error) {
			return []byte("x"), nil
		})
		if !errors.Is(err, apperr.ErrInvalidName) {
			t.Errorf("name %q: err = %v, want ErrInvalidName", name, err)
		}
		if _, err := r.ReadNote(models.KindProcedural, name); !errors.Is(err, apperr.ErrInvalidName) {
			t.Errorf("read name %q: err = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestListNotesDomainFilter(t *testing.T) {
	r := tempRepo(t)
	write := func(name, domain string) {
		_ = r.UpsertNote(models.KindSemantic, name, func([]byte) ([]byte, error) {
			return []byte("# T\n\n<!-- domain: " + domain + " -->\n"), nil
		})
	}
	write("fit", "fitness")
	write("gen", "general")

	metas, err := r.ListNotes(models.KindSemantic, "fitness")
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(metas) != 1 || metas[0].Name != "fit" {
		t.Errorf("metas = %+v", metas)
	}

	all, _ := r.ListNotes(models.KindSemantic, "")
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
}

func TestListNotesUntaggedDefault(t *testing.T) {
	r := tempRepo(t)
	_ = r.UpsertNote(models.KindProcedural, "bare", func([]byte) ([]byte, error) {
		return []byte("# Bare\n\n- rule\n"), nil
	})
	metas, _ := r.ListNotes(models.KindProcedural, "")
	if len(metas) != 1 || metas[0].Domain != models.UntaggedDomain {
		t.Errorf("metas = %+v", metas)
	}
}

func TestDeleteNote(t *testing.T) {
	r := tempRepo(t)
	_ = r.UpsertNote(models.KindProcedural, "rule", func([]byte) ([]byte, error) {
		return []byte("# R\n"), nil
	})
	if err := r.DeleteNote(models.KindProcedural, "rule"); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if _, err := r.ReadNote(models.KindProcedural, "rule"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLockExclusion(t *testing.T) {
	r := tempRepo(t)
	release, err := r.Lock("consolidate")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := r.Lock("forget"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second lock err = %v, want ErrConflict", err)
	}
	release()
	release2, err := r.Lock("forget")
	if err != nil {
		t.Fatalf("re-lock after release: %v", err)
	}
	release2()
}

func TestAtomicWriteNoLeftoverTemp(t *testing.T) {
	r := tempRepo(t)
	_ = r.UpsertNote(models.KindSemantic, "a", func([]byte) ([]byte, error) {
		return []byte("# A\n"), nil
	})
	matches, _ := filepath.Glob(filepath.Join(r.Root(), "semantic", ".magpie-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}
