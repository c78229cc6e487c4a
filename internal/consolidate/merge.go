package consolidate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/magpielabs/magpie/internal/parser"
)

// Conflict is a pair of fact lines about the same topic that disagree.
// Both lines stay in the note; the pair is surfaced in the report for a
// human (or a smarter agent) to resolve.
type Conflict struct {
	Note     string `json:"note"`
	Existing string `json:"existing"`
	Incoming string `json:"incoming"`
}

// mergeResult is the outcome of merging incoming fact lines into an
// existing note body. content is nil when nothing new was added to an
// existing note: the file must stay untouched, stamp included.
type mergeResult struct {
	content   []byte
	added     int
	conflicts []Conflict
}

// mergeNote merges incoming fact lines into an existing note, or renders
// a fresh note when existing is nil. Lines already present (compared
// case-insensitively after whitespace normalization) are dropped. Lines
// that share a topic with an existing line but state something different
// are kept alongside it and reported as conflicts. New lines are appended
// before the Last updated marker; the rest of the note, headings and all,
// passes through unchanged.
func mergeNote(note, title, domain string, existing []byte, incoming []string, now time.Time) mergeResult {
	lines := noteLines(existing)

	seen := make(map[string]bool, len(lines))
	topics := make(map[string]string, len(lines))
	for _, l := range lines {
		seen[normalizeLine(l)] = true
		if k := topicKey(l); k != "" {
			topics[k] = l
		}
	}

	res := mergeResult{}
	var fresh []string
	for _, in := range incoming {
		in = strings.TrimSpace(in)
		if in == "" || seen[normalizeLine(in)] {
			continue
		}
		if k := topicKey(in); k != "" {
			if prev, ok := topics[k]; ok {
				res.conflicts = append(res.conflicts, Conflict{Note: note, Existing: prev, Incoming: in})
			} else {
				topics[k] = in
			}
		}
		seen[normalizeLine(in)] = true
		fresh = append(fresh, in)
		res.added++
	}

	if existing == nil {
		var buf strings.Builder
		fmt.Fprintf(&buf, "# %s\n\n%s\n\n", title, parser.DomainMarker(domain))
		for _, l := range fresh {
			buf.WriteString(l)
			buf.WriteByte('\n')
		}
		buf.WriteString("\n" + parser.LastUpdatedMarker(now) + "\n")
		res.content = []byte(buf.String())
		return res
	}
	if res.added == 0 {
		return res
	}

	var buf strings.Builder
	buf.WriteString(parser.StripLastUpdated(string(existing)))
	buf.WriteByte('\n')
	for _, l := range fresh {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	res.content = []byte(parser.StampLastUpdated(buf.String(), now))
	return res
}

// noteLines extracts the fact lines of a note body, skipping headings,
// markers, and blanks.
func noteLines(body []byte) []string {
	var lines []string
	for _, l := range strings.Split(string(body), "\n") {
		t := strings.TrimSpace(l)
		if t == "" || strings.HasPrefix(t, "#") || strings.HasPrefix(t, "<!--") {
			continue
		}
		lines = append(lines, t)
	}
	return lines
}

// normalizeLine is the dedupe key: lowercase, collapsed whitespace.
func normalizeLine(l string) string {
	return strings.Join(strings.Fields(strings.ToLower(l)), " ")
}

// topicKey identifies what a fact line is about: the text between the
// leading bullet and the first colon. Lines without a colon have no
// topic and never conflict.
func topicKey(l string) string {
	l = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "-"))
	l = strings.TrimSpace(strings.TrimPrefix(l, "⚑"))
	i := strings.Index(l, ":")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(l[:i]))
}

// sortedDomains returns map keys in stable order.
func sortedDomains[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
