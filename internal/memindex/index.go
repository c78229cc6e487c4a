// Package memindex renders and maintains index.md, the retrieval index
// agents read to discover what long-term memory exists.
package memindex

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/magpielabs/magpie/internal/memfs"
	"github.com/magpielabs/magpie/internal/models"
	"github.com/magpielabs/magpie/internal/parser"
)

const header = "# Memory Index\n<!-- Generated file. Do not edit; rebuilt on consolidation. -->\n"

// Build renders the full index from note listings. The output is a pure
// function of its inputs: same notes in, same bytes out.
func Build(semantic, procedural []models.NoteMeta) []byte {
	var buf bytes.Buffer
	buf.WriteString(header)
	writeSection(&buf, "Semantic Memory", semantic)
	writeSection(&buf, "Procedural Memory", procedural)
	return buf.Bytes()
}

func writeSection(buf *bytes.Buffer, title string, notes []models.NoteMeta) {
	fmt.Fprintf(buf, "\n## %s\n\n", title)
	if len(notes) == 0 {
		buf.WriteString("(none)\n")
		return
	}

	sorted := make([]models.NoteMeta, len(notes))
	copy(sorted, notes)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Domain != sorted[j].Domain {
			return sorted[i].Domain < sorted[j].Domain
		}
		return sorted[i].Name < sorted[j].Name
	})

	for _, n := range sorted {
		title := n.Title
		if title == "" {
			title = n.Name
		}
		fmt.Fprintf(buf, "- [%s](%s/%s.md) — domain: %s, updated: %s\n",
			title, n.Kind, n.Name, n.Domain, n.UpdatedAt.Format(parser.LastUpdatedLayout))
	}
}

// Rebuild lists both note kinds and writes a fresh index.md.
func Rebuild(repo *memfs.Repo) error {
	semantic, err := repo.ListNotes(models.KindSemantic, "")
	if err != nil {
		return fmt.Errorf("list semantic: %w", err)
	}
	procedural, err := repo.ListNotes(models.KindProcedural, "")
	if err != nil {
		return fmt.Errorf("list procedural: %w", err)
	}
	if err := repo.WriteIndex(Build(semantic, procedural)); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}
