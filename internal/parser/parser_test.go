package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/magpielabs/magpie/internal/models"
)

const sampleDay = `# 2026-03-01

## 09:15 — morning sync
- **Agent**: claude
- **Domain**: general
- **Task**: morning sync
- **Outcome**: reviewed inbox
- **Importance**: 2

## 14:30 — deploy fix
- **Agent**: codex
- **Domain**: infra
- **Task**: deploy fix
- **Outcome**: rolled out hotfix
- **Importance**: 5
- **Artifacts**: logs/deploy.txt, diff.patch
- **Followup**: always run smoke tests after deploy
`

func TestParseEntries(t *testing.T) {
	entries := ParseEntries("2026-03-01", []byte(sampleDay))
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	first := entries[0]
	if first.Time != "09:15" || first.Agent != "claude" || first.Importance != 2 {
		t.Errorf("first entry = %+v", first)
	}
	second := entries[1]
	if second.Domain != "infra" || second.Importance != 5 {
		t.Errorf("second entry = %+v", second)
	}
	if len(second.Artifacts) != 2 || second.Artifacts[0] != "logs/deploy.txt" {
		t.Errorf("artifacts = %v", second.Artifacts)
	}
	if second.Followup == "" {
		t.Error("followup missing")
	}
}

func TestParseEntriesDefaultsImportance(t *testing.T) {
	data := "## 10:00 — x\n- **Task**: something\n- **Outcome**: done\n"
	entries := ParseEntries("2026-03-01", []byte(data))
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if entries[0].Importance != models.DefaultImportance {
		t.Errorf("importance = %d, want %d", entries[0].Importance, models.DefaultImportance)
	}
}

func TestParseEntriesClampsImportance(t *testing.T) {
	low := "## 10:00 — x\n- **Task**: a\n- **Importance**: 0\n"
	high := "## 11:00 — y\n- **Task**: b\n- **Importance**: 9\n"
	if got := ParseEntries("2026-03-01", []byte(low))[0].Importance; got != 1 {
		t.Errorf("low clamp = %d, want 1", got)
	}
	if got := ParseEntries("2026-03-01", []byte(high))[0].Importance; got != 5 {
		t.Errorf("high clamp = %d, want 5", got)
	}
}

func TestParseEntriesSkipsFieldlessBlocks(t *testing.T) {
	data := "## 10:00 — note to self\njust prose, no fields\n"
	if entries := ParseEntries("2026-03-01", []byte(data)); len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestRemoveEntriesPreservesUnparsedBlocks(t *testing.T) {
	data := sampleDay + "\n## 23:00\nscratch note, no fields\n"
	entries := ParseEntries("2026-03-01", []byte(data))
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}

	out := string(RemoveEntries("2026-03-01", []byte(data), entries[:1]))
	if !strings.HasPrefix(out, "# 2026-03-01") {
		t.Errorf("header lost:\n%s", out)
	}
	if strings.Contains(out, "morning sync") {
		t.Error("removed entry still present")
	}
	if !strings.Contains(out, "deploy fix") {
		t.Error("kept entry missing")
	}
	if !strings.Contains(out, "scratch note, no fields") {
		t.Error("unparsed block dropped")
	}
}

func TestFormatEntryRoundTrip(t *testing.T) {
	e := models.Entry{
		Date: "2026-03-01", Time: "14:30", Agent: "codex", Domain: "infra",
		Task: "deploy fix", Outcome: "rolled out", Importance: 5,
		Artifacts: []string{"a.txt"}, Followup: "check logs",
	}
	parsed := ParseEntries("2026-03-01", []byte(FormatEntry(e)))
	if len(parsed) != 1 {
		t.Fatalf("len = %d, want 1", len(parsed))
	}
	got := parsed[0]
	got.LoggedAt = time.Time{}
	if got.Task != e.Task || got.Outcome != "rolled out" || got.Importance != 5 ||
		got.Followup != e.Followup || len(got.Artifacts) != 1 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestNoteMarkers(t *testing.T) {
	note := []byte("# Fitness Goals\n\n<!-- domain: fitness -->\n\n- prefers morning workouts\n\n<!-- Last updated: 2026-02-15 10:30 -->\n")
	if d := NoteDomain(note); d != "fitness" {
		t.Errorf("domain = %q", d)
	}
	if title := NoteTitle(note); title != "Fitness Goals" {
		t.Errorf("title = %q", title)
	}
	want := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)
	if got := NoteLastUpdated(note); !got.Equal(want) {
		t.Errorf("last updated = %v, want %v", got, want)
	}
}

func TestNoteMarkersAbsent(t *testing.T) {
	note := []byte("# Bare\n\nno markers here\n")
	if d := NoteDomain(note); d != models.UntaggedDomain {
		t.Errorf("domain = %q, want %q", d, models.UntaggedDomain)
	}
	if !NoteLastUpdated(note).IsZero() {
		t.Error("expected zero time for missing marker")
	}
}

func TestNoteLastUpdatedDateOnly(t *testing.T) {
	note := []byte("<!-- Last updated: 2026-02-20 -->\n")
	if got := NoteLastUpdated(note); got.Format(DateLayout) != "2026-02-20" {
		t.Errorf("last updated = %v", got)
	}
}

func TestStampLastUpdatedReplacesExisting(t *testing.T) {
	content := "# N\n\n<!-- Last updated: 2026-01-01 00:00 -->\n"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := StampLastUpdated(content, now)
	if strings.Count(got, "Last updated") != 1 {
		t.Errorf("marker duplicated:\n%s", got)
	}
	if !strings.Contains(got, "2026-03-01 12:00") {
		t.Errorf("new timestamp missing:\n%s", got)
	}
}

func TestEntryMatchesCaseInsensitive(t *testing.T) {
	e := models.Entry{Time: "10:00", Task: "Configure Tailscale", Outcome: "done"}
	if !EntryMatches(e, "tailscale") {
		t.Error("expected match")
	}
	if EntryMatches(e, "gmail") {
		t.Error("unexpected match")
	}
}
