// Package parser extracts headings, links, tags and the metadata block from
// Markdown documents.
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"gopkg.in/yaml.v3"

	"github.com/starford/notegraph/internal/models"
)

// ContextChars is how many characters of text around a match are kept as
// link or search context.
const ContextChars = 100

const maxHeadingIndent = 3

var (
	wikilinkRe = regexp.MustCompile(`\[\[([^\]]+)\]\]`)
	mdLinkRe   = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	tagRe      = regexp.MustCompile(`(?m)(?:^|\s)#([A-Za-z0-9_-]+)`)
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

	slugStripRe = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	slugDashRe  = regexp.MustCompile(`[-\s]+`)
)

var externalSchemes = []string{"http://", "https://", "ftp://", "mailto:"}

// ParseFile reads and parses the document at path. Only I/O failures are
// returned; malformed content always yields a document.
func ParseFile(path, root string) (*models.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("parser: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("parser: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: read %s: %w", path, err)
	}
	return Parse(path, root, data, info.ModTime()), nil
}

// Parse builds a Document from raw bytes. Invalid UTF-8 falls back to a
// Windows-1252 decode and an unparsable metadata block is treated as absent.
func Parse(path, root string, data []byte, modTime time.Time) *models.Document {
	content := Decode(data)

	meta, body := splitMetadata(content)
	headings := extractHeadings(body)

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if len(headings) > 0 {
		title = headings[0].Text
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}

	if meta == nil {
		meta = map[string]any{}
	}

	return &models.Document{
		Path:      path,
		RelPath:   rel,
		Title:     title,
		Headings:  headings,
		Links:     extractLinks(body, path),
		Tags:      extractTags(body, meta),
		Metadata:  meta,
		ModTime:   modTime,
		WordCount: len(strings.Fields(body)),
	}
}

// Decode returns data as text, decoding it as Windows-1252 when it is not
// valid UTF-8. A leading byte-order mark is dropped.
func Decode(data []byte) string {
	if utf8.Valid(data) {
		return strings.TrimPrefix(string(data), "\ufeff")
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "\ufffd")
	}
	return string(out)
}

// splitMetadata separates a YAML block between leading --- lines from the
// body. Without a well-formed block the entire content is body.
func splitMetadata(content string) (map[string]any, string) {
	lines := strings.SplitAfter(content, "\n")
	if len(lines) < 2 || !isDelimiter(lines[0]) {
		return nil, content
	}
	for i := 1; i < len(lines); i++ {
		if !isDelimiter(lines[i]) {
			continue
		}
		block := strings.Join(lines[1:i], "")
		body := strings.Join(lines[i+1:], "")

		var meta map[string]any
		if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
			return nil, content
		}
		if meta == nil {
			meta = map[string]any{}
		}
		for k, v := range meta {
			meta[k] = jsonSafe(v)
		}
		return meta, body
	}
	// No closing delimiter.
	return nil, content
}

// jsonSafe converts the map[any]any values yaml.v3 produces for mappings
// with non-string keys into map[string]any, recursively.
func jsonSafe(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonSafe(val)
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = jsonSafe(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = jsonSafe(val)
		}
		return t
	}
	return v
}

func isDelimiter(line string) bool {
	return strings.TrimRight(line, " \t\r\n") == "---"
}

func extractHeadings(body string) []models.Heading {
	var out []models.Heading
	for i, line := range strings.Split(body, "\n") {
		// Up to three spaces of indentation; more is a code block.
		line = strings.TrimRight(line, " \t\r")
		trimmed := strings.TrimLeft(line, " ")
		if len(line)-len(trimmed) > maxHeadingIndent {
			continue
		}
		m := headingRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[2])
		out = append(out, models.Heading{
			Level: len(m[1]),
			Text:  text,
			Line:  i + 1,
			Slug:  Slug(text),
		})
	}
	return out
}

// extractLinks returns wiki and Markdown links in document order, line by
// line. External URLs are not links.
func extractLinks(body, source string) []*models.Link {
	var out []*models.Link
	offset := 0
	for i, line := range strings.Split(body, "\n") {
		for _, m := range wikilinkRe.FindAllStringSubmatchIndex(line, -1) {
			raw := line[m[2]:m[3]]
			target, display := raw, raw
			if j := strings.Index(raw, "|"); j >= 0 {
				target, display = raw[:j], raw[j+1:]
			}
			out = append(out, &models.Link{
				Source:  source,
				Kind:    models.LinkWiki,
				Text:    strings.TrimSpace(target),
				Display: strings.TrimSpace(display),
				Context: Context(body, offset+m[0], offset+m[1], ContextChars),
				Line:    i + 1,
			})
		}
		for _, m := range mdLinkRe.FindAllStringSubmatchIndex(line, -1) {
			target := strings.TrimSpace(line[m[4]:m[5]])
			if isExternal(target) {
				continue
			}
			out = append(out, &models.Link{
				Source:  source,
				Kind:    models.LinkMarkdown,
				Text:    target,
				Display: line[m[2]:m[3]],
				Context: Context(body, offset+m[0], offset+m[1], ContextChars),
				Line:    i + 1,
			})
		}
		offset += len(line) + 1
	}
	return out
}

func isExternal(target string) bool {
	for _, scheme := range externalSchemes {
		if strings.HasPrefix(target, scheme) {
			return true
		}
	}
	return false
}

// extractTags collects inline #tags from body and the metadata "tags" field,
// returned sorted and unique.
func extractTags(body string, meta map[string]any) []string {
	seen := make(map[string]struct{})
	add := func(t string) {
		t = strings.TrimPrefix(strings.TrimSpace(t), "#")
		if t != "" {
			seen[t] = struct{}{}
		}
	}

	switch v := meta["tags"].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case string:
		for _, s := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
			add(s)
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}

	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Context returns up to width bytes of content on each side of
// content[start:end] with whitespace collapsed. An ellipsis marks each side
// that was cut short.
func Context(content string, start, end, width int) string {
	from := max(0, start-width)
	to := min(len(content), end+width)
	for from > 0 && !utf8.RuneStart(content[from]) {
		from--
	}
	for to < len(content) && !utf8.RuneStart(content[to]) {
		to++
	}

	ctx := strings.Join(strings.Fields(content[from:to]), " ")
	if from > 0 {
		ctx = "..." + ctx
	}
	if to < len(content) {
		ctx += "..."
	}
	return ctx
}

// Slug lowercases text, strips punctuation and joins words with hyphens.
func Slug(text string) string {
	s := slugStripRe.ReplaceAllString(strings.ToLower(text), "")
	s = slugDashRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
