package mcpserver

// MemoryFormatContract describes the canonical memory file layout that
// LLM consumers should follow when reading or writing memory directly.
const MemoryFormatContract = `# Magpie Memory Format Contract

Magpie keeps agent memory as Markdown files in three directories plus a
generated index.

## Layout

` + "```" + `
memory/
  index.md              # generated overview; never edit by hand
  episodic/             # one file per day, append-only
    2026-02-14.md
    archive/            # day files moved here by consolidation
  semantic/             # durable facts, one note per topic
  procedural/           # how-to knowledge and standing rules
` + "```" + `

Files whose name starts with ` + "`_`" + ` are templates and are ignored
everywhere (listings, the index, forgetting).

## Episodic day files

` + "```" + `markdown
# 2026-02-14

## 09:30 — short task label
- **Agent**: claude
- **Domain**: fitness
- **Task**: what was attempted
- **Outcome**: what happened
- **Importance**: 3
- **Artifacts**: path/or/url, another
- **Followup**: what the next session should pick up
` + "```" + `

Rules:

1. The ` + "`# YYYY-MM-DD`" + ` header is the first line of the file.
2. Entries are appended, never rewritten. Each starts with
   ` + "`## HH:MM — label`" + `.
3. **Task** and **Outcome** are required; blocks carrying neither are
   ignored by parsers.
4. **Importance** is an integer 1-5 (default 2). 5 means critical and
   is flagged with ⚑ in summaries.
5. **Artifacts** is a comma-separated list; **Artifacts** and
   **Followup** may be omitted.

## Semantic and procedural notes

` + "```" + `markdown
# Human-readable title

<!-- domain: fitness -->

- one fact per line
- topic: statement   (colon form groups facts about the same topic)

<!-- Last updated: 2026-02-14 09:30 -->
` + "```" + `

Rules:

1. The first line is a ` + "`# Title`" + ` heading.
2. The ` + "`<!-- domain: ... -->`" + ` marker ties the note to a domain;
   without it the note counts as ` + "`untagged`" + `.
3. Facts are single lines starting with ` + "`- `" + `. Consolidation
   deduplicates them case-insensitively, so keep wording stable.
4. The ` + "`<!-- Last updated: ... -->`" + ` marker is maintained by the
   tools; keep it last in the file.
5. Procedural notes hold a ` + "`When: ...`" + ` trigger line followed by
   an ordered rule list.

## Encoding

UTF-8, forward slashes, ` + "`.md`" + ` extension, trailing newline.
`
