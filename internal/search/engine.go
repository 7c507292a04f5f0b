// Package search runs content, path, tag and heading queries over a built
// graph and merges them into one ranking.
package search

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/parser"
	"github.com/starford/notegraph/internal/resolver"
	"github.com/starford/notegraph/internal/storage"
)

// Match types.
const (
	MatchText    = "text"
	MatchPath    = "path"
	MatchTag     = "tag"
	MatchHeading = "heading"
)

const (
	// DefaultLimit is used by Search when the caller passes no limit.
	DefaultLimit = 50

	crossStrategyBoost = 1.5
	maxMergedContexts  = 3
)

// Engine answers queries against one graph. Document text is read through
// the storage provider on demand.
type Engine struct {
	g      *models.KnowledgeGraph
	store  storage.Provider
	nodes  []*models.GraphNode // sorted by path
	logger *slog.Logger
}

// New returns an engine over g reading content from store.
func New(g *models.KnowledgeGraph, store storage.Provider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	nodes := make([]*models.GraphNode, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Doc.Path < nodes[j].Doc.Path })
	return &Engine{g: g, store: store, nodes: nodes, logger: logger}
}

// Search runs every strategy and returns the merged results, best first.
func (e *Engine) Search(query string, limit int) []models.SearchResult {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	var all []models.SearchResult
	all = append(all, e.Content(query)...)
	all = append(all, e.Paths(query)...)
	all = append(all, e.Tags(query)...)
	all = append(all, e.Headings(query)...)

	merged := Merge(all)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// compile treats q as a case-insensitive pattern, or as a literal when it
// does not compile.
func compile(q string) *regexp.Regexp {
	re, err := regexp.Compile("(?im)" + q)
	if err != nil {
		re = regexp.MustCompile("(?im)" + regexp.QuoteMeta(q))
	}
	return re
}

// Content scores each document by the number of pattern matches in its
// text.
func (e *Engine) Content(pattern string) []models.SearchResult {
	if pattern == "" {
		return nil
	}
	re := compile(pattern)
	var out []models.SearchResult
	for _, n := range e.nodes {
		content, ok := e.read(n)
		if !ok {
			continue
		}
		matches := re.FindAllStringIndex(content, -1)
		if len(matches) == 0 {
			continue
		}
		first := matches[0]
		out = append(out, e.result(n, float64(len(matches)), MatchText,
			parser.Context(content, first[0], first[1], parser.ContextChars),
			strings.Count(content[:first[0]], "\n")+1))
	}
	return out
}

// Paths scores the file stem (10 exact, 5 partial) plus one per relative
// path segment containing the query.
func (e *Engine) Paths(query string) []models.SearchResult {
	q := strings.ToLower(query)
	if q == "" {
		return nil
	}
	var out []models.SearchResult
	for _, n := range e.nodes {
		score := 0.0
		stem := strings.ToLower(resolver.Stem(n.Doc.Path))
		switch {
		case stem == q:
			score = 10
		case strings.Contains(stem, q):
			score = 5
		}
		for _, part := range strings.Split(filepath.ToSlash(n.Doc.RelPath), "/") {
			if strings.Contains(strings.ToLower(part), q) {
				score++
			}
		}
		if score > 0 {
			out = append(out, e.result(n, score, MatchPath, "Path: "+n.Doc.RelPath, 0))
		}
	}
	return out
}

// Tags scores 3 per exact and 1 per partial tag match. A leading # on the
// query is ignored.
func (e *Engine) Tags(query string) []models.SearchResult {
	q := strings.TrimPrefix(strings.ToLower(query), "#")
	if q == "" {
		return nil
	}
	var out []models.SearchResult
	for _, n := range e.nodes {
		score := 0.0
		var hits []string
		for _, tag := range n.Doc.Tags {
			lower := strings.ToLower(tag)
			if !strings.Contains(lower, q) {
				continue
			}
			hits = append(hits, "#"+tag)
			if lower == q {
				score += 3
			} else {
				score++
			}
		}
		if len(hits) > 0 {
			out = append(out, e.result(n, score, MatchTag, "Tags: "+strings.Join(hits, ", "), 0))
		}
	}
	return out
}

// Headings keeps the best of the title match (5 exact, 2 partial) and each
// heading match (3 exact, 1 partial) per document.
func (e *Engine) Headings(query string) []models.SearchResult {
	q := strings.ToLower(query)
	if q == "" {
		return nil
	}
	var out []models.SearchResult
	for _, n := range e.nodes {
		var (
			best     float64
			bestText string
			bestLine int
		)
		consider := func(text string, exact, partial float64, line int) {
			lower := strings.ToLower(text)
			if !strings.Contains(lower, q) {
				return
			}
			score := partial
			if lower == q {
				score = exact
			}
			if score > best {
				best, bestText, bestLine = score, text, line
			}
		}
		consider(n.Doc.Title, 5, 2, 0)
		for _, h := range n.Doc.Headings {
			consider(h.Text, 3, 1, h.Line)
		}
		if best > 0 {
			out = append(out, e.result(n, best, MatchHeading, "Heading: "+bestText, bestLine))
		}
	}
	return out
}

// Merge groups results by document. Documents hit by more than one
// strategy get their scores summed and boosted by 1.5, their match types
// joined with "+" and up to three contexts joined with " | ". The result is
// sorted by descending score, then path.
func Merge(results []models.SearchResult) []models.SearchResult {
	groups := make(map[string][]models.SearchResult)
	var order []string
	for _, r := range results {
		if _, ok := groups[r.Path]; !ok {
			order = append(order, r.Path)
		}
		groups[r.Path] = append(groups[r.Path], r)
	}

	out := make([]models.SearchResult, 0, len(order))
	for _, p := range order {
		grp := groups[p]
		if len(grp) == 1 {
			out = append(out, grp[0])
			continue
		}
		merged := grp[0]
		merged.Score = 0
		merged.Line = 0
		types := make(map[string]struct{})
		var contexts []string
		for _, r := range grp {
			merged.Score += r.Score
			types[r.MatchType] = struct{}{}
			if r.Context != "" && len(contexts) < maxMergedContexts && !slices.Contains(contexts, r.Context) {
				contexts = append(contexts, r.Context)
			}
			if merged.Line == 0 {
				merged.Line = r.Line
			}
		}
		if len(types) > 1 {
			merged.Score *= crossStrategyBoost
		}
		labels := make([]string, 0, len(types))
		for t := range types {
			labels = append(labels, t)
		}
		sort.Strings(labels)
		merged.MatchType = strings.Join(labels, "+")
		merged.Context = strings.Join(contexts, " | ")
		out = append(out, merged)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Glob returns the paths of documents whose relative path or file name
// matches pattern, sorted. "**" crosses directories.
func (e *Engine) Glob(pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("search: glob %q: %w", pattern, doublestar.ErrBadPattern)
	}
	var out []string
	for _, n := range e.nodes {
		rel := filepath.ToSlash(n.Doc.RelPath)
		ok, _ := doublestar.Match(pattern, rel)
		if !ok {
			ok, _ = doublestar.Match(pattern, filepath.Base(rel))
		}
		if ok {
			out = append(out, n.Doc.Path)
		}
	}
	return out, nil
}

// GrepMatch is one matching line with its surrounding lines.
type GrepMatch struct {
	Path    string   `json:"path"`
	RelPath string   `json:"rel_path"`
	Line    int      `json:"line"`
	Text    string   `json:"text"`
	Context []string `json:"context"`
}

// Grep returns every line matching pattern with up to contextLines lines on
// each side.
func (e *Engine) Grep(pattern string, contextLines int) []GrepMatch {
	if pattern == "" {
		return nil
	}
	contextLines = max(0, contextLines)
	re := compile(pattern)
	var out []GrepMatch
	for _, n := range e.nodes {
		content, ok := e.read(n)
		if !ok {
			continue
		}
		lines := strings.Split(content, "\n")
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			from := max(0, i-contextLines)
			to := min(len(lines), i+contextLines+1)
			out = append(out, GrepMatch{
				Path:    n.Doc.Path,
				RelPath: n.Doc.RelPath,
				Line:    i + 1,
				Text:    strings.TrimSpace(line),
				Context: append([]string(nil), lines[from:to]...),
			})
		}
	}
	return out
}

func (e *Engine) read(n *models.GraphNode) (string, bool) {
	data, err := e.store.Read(n.Doc.RelPath)
	if err != nil {
		e.logger.Debug("search: read failed", slog.String("path", n.Doc.Path), slog.String("error", err.Error()))
		return "", false
	}
	return parser.Decode(data), true
}

func (e *Engine) result(n *models.GraphNode, score float64, kind, context string, line int) models.SearchResult {
	return models.SearchResult{
		Path:      n.Doc.Path,
		RelPath:   n.Doc.RelPath,
		Score:     score,
		MatchType: kind,
		Context:   context,
		Line:      line,
		Node:      n,
	}
}
