// Package parser reads and writes the Magpie memory file formats: day-bucketed
// episodic logs, and the comment markers carried by semantic and procedural notes.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/magpielabs/magpie/internal/models"
)

var (
	entryHeaderRe = regexp.MustCompile(`(?m)^## (\d{2}:\d{2})(?:\s+—\s+(.*))?$`)
	fieldRe       = regexp.MustCompile(`^[-*]?\s*\*\*([A-Za-z]+)\*\*:\s*(.*)$`)
	domainRe      = regexp.MustCompile(`<!--\s*domain:\s*(\S+)\s*-->`)
	updatedRe     = regexp.MustCompile(`<!--\s*Last updated:\s*([0-9]{4}-[0-9]{2}-[0-9]{2}(?:\s+[0-9]{2}:[0-9]{2})?)\s*-->`)
)

// LastUpdatedLayout is the timestamp format inside the Last updated marker.
const LastUpdatedLayout = "2006-01-02 15:04"

// DateLayout is the calendar-date format used for day file stems.
const DateLayout = "2006-01-02"

// DayHeader returns the leading line of a new episodic day file.
func DayHeader(date string) string {
	return "# " + date + "\n"
}

// block is one `## HH:MM` section of a day file. entry is nil when the
// block carries neither a task nor an outcome; such blocks are invisible
// to ParseEntries but survive rewrites verbatim.
type block struct {
	raw   string
	entry *models.Entry
}

// splitBlocks cuts a day file into its leading prefix (header and any
// text before the first entry) and the entry blocks that follow.
func splitBlocks(date, content string) (string, []block) {
	locs := entryHeaderRe.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		return content, nil
	}

	prefix := content[:locs[0][0]]
	blocks := make([]block, 0, len(locs))
	for i, loc := range locs {
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		raw := content[loc[0]:end]

		header := entryHeaderRe.FindStringSubmatch(raw)
		e := models.Entry{
			Date:       date,
			Time:       header[1],
			Importance: models.DefaultImportance,
		}
		for _, line := range strings.Split(raw, "\n") {
			m := fieldRe.FindStringSubmatch(strings.TrimSpace(line))
			if m == nil {
				continue
			}
			val := strings.TrimSpace(m[2])
			switch strings.ToLower(m[1]) {
			case "agent":
				e.Agent = val
			case "domain":
				e.Domain = val
			case "task":
				e.Task = val
			case "outcome":
				e.Outcome = val
			case "importance":
				if n, err := strconv.Atoi(val); err == nil {
					e.Importance = models.ClampImportance(n)
				}
			case "artifacts":
				e.Artifacts = splitList(val)
			case "followup":
				e.Followup = val
			}
		}
		b := block{raw: raw}
		if e.Task != "" || e.Outcome != "" {
			b.entry = &e
		}
		blocks = append(blocks, b)
	}
	return prefix, blocks
}

// ParseEntries extracts the episodic entries from a day file. Blocks that
// carry neither a task nor an outcome are skipped, matching the tolerance
// the log consumers need for hand-edited files.
func ParseEntries(date string, data []byte) []models.Entry {
	_, blocks := splitBlocks(date, string(data))
	var entries []models.Entry
	for _, b := range blocks {
		if b.entry != nil {
			entries = append(entries, *b.entry)
		}
	}
	return entries
}

// RemoveEntries rewrites a day file with the given entries removed. The
// header, hand-edited text, and blocks ParseEntries cannot read all pass
// through byte for byte, so a surgical rewrite never deletes more than
// what was selected.
func RemoveEntries(date string, data []byte, remove []models.Entry) []byte {
	drop := make(map[string]int, len(remove))
	for _, e := range remove {
		drop[entryKey(e)]++
	}

	prefix, blocks := splitBlocks(date, string(data))
	var b strings.Builder
	b.WriteString(prefix)
	for _, bl := range blocks {
		if bl.entry != nil {
			if k := entryKey(*bl.entry); drop[k] > 0 {
				drop[k]--
				continue
			}
		}
		b.WriteString(bl.raw)
	}
	return []byte(b.String())
}

func entryKey(e models.Entry) string {
	return e.Time + "\x00" + e.Task + "\x00" + e.Outcome
}

// FormatEntry renders an entry as a log block, trailing newline included.
func FormatEntry(e models.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s — %s\n", e.Time, e.Task)
	fmt.Fprintf(&b, "- **Agent**: %s\n", e.Agent)
	fmt.Fprintf(&b, "- **Domain**: %s\n", e.Domain)
	fmt.Fprintf(&b, "- **Task**: %s\n", e.Task)
	fmt.Fprintf(&b, "- **Outcome**: %s\n", e.Outcome)
	fmt.Fprintf(&b, "- **Importance**: %d\n", models.ClampImportance(e.Importance))
	if len(e.Artifacts) > 0 {
		fmt.Fprintf(&b, "- **Artifacts**: %s\n", strings.Join(e.Artifacts, ", "))
	}
	if e.Followup != "" {
		fmt.Fprintf(&b, "- **Followup**: %s\n", e.Followup)
	}
	return b.String()
}

// EntryMatches reports whether the rendered form of an entry contains the
// query, case-insensitively. Used by keyword-scoped forgetting so preview
// and deletion share one match rule.
func EntryMatches(e models.Entry, query string) bool {
	return strings.Contains(strings.ToLower(FormatEntry(e)), strings.ToLower(query))
}

// NoteDomain extracts the domain marker, or models.UntaggedDomain when absent.
func NoteDomain(data []byte) string {
	if m := domainRe.FindSubmatch(data); m != nil {
		return string(m[1])
	}
	return models.UntaggedDomain
}

// NoteLastUpdated extracts the Last updated marker. The zero time is
// returned when the marker is absent or malformed.
func NoteLastUpdated(data []byte) time.Time {
	m := updatedRe.FindSubmatch(data)
	if m == nil {
		return time.Time{}
	}
	raw := string(m[1])
	if t, err := time.Parse(LastUpdatedLayout, raw); err == nil {
		return t
	}
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t
	}
	return time.Time{}
}

// NoteTitle returns the first H1 heading, or "" when none exists.
func NoteTitle(data []byte) string {
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// DomainMarker renders the domain tag comment.
func DomainMarker(domain string) string {
	return fmt.Sprintf("<!-- domain: %s -->", domain)
}

// LastUpdatedMarker renders the Last updated comment.
func LastUpdatedMarker(t time.Time) string {
	return fmt.Sprintf("<!-- Last updated: %s -->", t.Format(LastUpdatedLayout))
}

// StripLastUpdated removes the Last updated marker and any trailing blank
// lines, leaving the note body ready for appending.
func StripLastUpdated(content string) string {
	return strings.TrimRight(updatedRe.ReplaceAllString(content, ""), "\n")
}

// StampLastUpdated replaces the existing Last updated marker, or appends one
// when the content has none. Content is returned with a trailing newline.
func StampLastUpdated(content string, t time.Time) string {
	marker := LastUpdatedMarker(t)
	if updatedRe.MatchString(content) {
		content = updatedRe.ReplaceAllString(content, marker)
	} else {
		content = strings.TrimRight(content, "\n") + "\n\n" + marker
	}
	return strings.TrimRight(content, "\n") + "\n"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
