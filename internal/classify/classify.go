// Package classify assigns free text to a memory domain by keyword scoring.
package classify

import (
	"regexp"
	"strings"

	"github.com/magpielabs/magpie/internal/models"
	"github.com/magpielabs/magpie/internal/store"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Detect returns the name of the best-matching domain for text. Each
// occurrence of a domain keyword (or the domain name itself) as a whole
// word counts one point. Ties go to the most recently created domain.
// When nothing matches, the general domain is returned.
func Detect(text string, domains []store.Domain) string {
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 || len(domains) == 0 {
		return models.GeneralDomain
	}

	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
	}

	bestScore := 0
	var best *store.Domain
	for i := range domains {
		d := &domains[i]
		score := counts[strings.ToLower(d.Name)]
		for _, kw := range d.Keywords {
			score += countPhrase(counts, words, kw)
		}
		if score == 0 {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && moreRecent(d, best)) {
			best, bestScore = d, score
		}
	}
	if best == nil {
		return models.GeneralDomain
	}
	return best.Name
}

// countPhrase scores a keyword. Single-word keywords use the word count
// map; multi-word keywords match as a consecutive word sequence.
func countPhrase(counts map[string]int, words []string, kw string) int {
	parts := wordRe.FindAllString(strings.ToLower(kw), -1)
	switch len(parts) {
	case 0:
		return 0
	case 1:
		return counts[parts[0]]
	}
	n := 0
	for i := 0; i+len(parts) <= len(words); i++ {
		match := true
		for j, p := range parts {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			n++
		}
	}
	return n
}

func moreRecent(a, b *store.Domain) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Name > b.Name
}
