package mcpserver

const linkSyntaxURI = "notegraph://link-syntax"

// LinkSyntax describes how notes are read into the graph, for LLM
// consumers deciding how to reference notes.
const LinkSyntax = `# Notegraph Link Syntax

Every ` + "`" + `.md` + "`" + ` file below the notes root is a node. Hidden files and
folders (names starting with ` + "`" + `.` + "`" + `) are ignored.

## Links

- **Wiki links:** ` + "`" + `[[note]]` + "`" + `, ` + "`" + `[[note|shown text]]` + "`" + `, ` + "`" + `[[note#Heading]]` + "`" + `,
  ` + "`" + `[[folder/note]]` + "`" + `. A bare name resolves by file stem: exact first, then
  case-insensitive, then a stem containing the name (same folder first). When several notes
  share a stem, the one in the linking note's folder wins, then the first
  path in lexical order. ` + "`" + `[[#Heading]]` + "`" + ` points at the note itself.
- **Markdown links:** ` + "`" + `[text](other.md)` + "`" + ` resolve relative to the linking
  note; a leading ` + "`" + `/` + "`" + ` is relative to the notes root. ` + "`" + `#section` + "`" + ` suffixes
  are ignored. URLs (http, https, ftp, mailto) are not links.
- A link that resolves to no note is **broken**. It still counts as an
  outgoing link of its source.

## Tags

Inline ` + "`" + `#tag` + "`" + ` (letters, digits, ` + "`" + `_` + "`" + `, ` + "`" + `-` + "`" + `) after whitespace or at the start
of a line, plus the ` + "`" + `tags` + "`" + ` field of the metadata block (a YAML list or a
comma separated string).

## Metadata

An optional YAML block fenced by ` + "`" + `---` + "`" + ` lines at the very top of the file.
Invalid YAML is ignored and the whole file is treated as body.

## Headings and title

ATX headings (` + "`" + `#` + "`" + ` to ` + "`" + `######` + "`" + ` followed by a space). The title is the
first heading of the body, else the file name without ` + "`" + `.md` + "`" + `.

## Example

` + "```" + `markdown
---
tags: [meeting-notes, project-x]
---

# Weekly standup

- [[alice]] to review the [[design-doc#Risks|design risks]]
- see [the roadmap](../project-x/roadmap.md) #followup
` + "```" + `
`
