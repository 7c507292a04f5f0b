// Package noteservice wires storage, the graph builder, the cache and the
// query layers into the operations exposed by the CLI and the MCP server.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/starford/notegraph/internal/apperr"
	"github.com/starford/notegraph/internal/cache"
	"github.com/starford/notegraph/internal/graph"
	"github.com/starford/notegraph/internal/metrics"
	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/parser"
	"github.com/starford/notegraph/internal/search"
	"github.com/starford/notegraph/internal/storage"
)

// Graph sources reported by Source.
const (
	SourceCache       = "cache"
	SourceIncremental = "incremental"
	SourceBuild       = "build"
)

// Options configures Open.
type Options struct {
	Root        string
	Workers     int
	UseCache    bool
	CacheDir    string
	Incremental bool // patch a stale cache instead of rebuilding
}

// view is one consistent graph with the query layers built over it.
type view struct {
	g        *models.KnowledgeGraph
	analyzer *graph.Analyzer
	engine   *search.Engine
	source   string
}

// Service answers queries against the graph of one root. Queries are safe
// for concurrent use; Rebuild swaps the graph atomically.
type Service struct {
	store       *storage.FS
	builder     *graph.Builder
	cache       *cache.Manager // nil when caching is off
	incremental bool
	logger      *slog.Logger

	buildMu sync.Mutex
	mu      sync.RWMutex
	cur     *view
}

// Open loads the graph for opts.Root from the cache when it is valid and
// builds it otherwise. Only an unusable root is fatal.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := storage.NewFS(opts.Root, storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrNoRoot, err)
	}
	builder, err := graph.NewBuilder(store, graph.WithWorkers(opts.Workers), graph.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrNoRoot, err)
	}
	s := &Service{store: store, builder: builder, incremental: opts.Incremental, logger: logger}
	if opts.UseCache {
		if s.cache, err = cache.New(store, opts.CacheDir, logger); err != nil {
			return nil, err
		}
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) load(ctx context.Context) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	if s.cache != nil {
		if g, ok := s.cache.Load(); ok {
			s.swap(g, SourceCache)
			return nil
		}
		if s.incremental {
			if g, ok := s.patchStale(ctx); ok {
				s.save(g)
				s.swap(g, SourceIncremental)
				return nil
			}
		}
	}

	g, err := s.builder.Build(ctx, nil)
	if err != nil {
		return err
	}
	s.save(g)
	s.swap(g, SourceBuild)
	return nil
}

func (s *Service) patchStale(ctx context.Context) (*models.KnowledgeGraph, bool) {
	g, meta, ok := s.cache.LoadStale()
	if !ok {
		return nil, false
	}
	changed, removed, err := s.cache.Changes(meta.Fingerprint)
	if err != nil {
		s.logger.Warn("noteservice: diff cache", slog.String("error", err.Error()))
		return nil, false
	}
	if err := s.builder.Update(ctx, g, changed, removed); err != nil {
		s.logger.Warn("noteservice: incremental update", slog.String("error", err.Error()))
		return nil, false
	}
	return g, true
}

// save writes g to the cache. A failed save leaves no cache behind and is
// only logged; the in-memory graph stays usable.
func (s *Service) save(g *models.KnowledgeGraph) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Save(g); err != nil {
		s.logger.Warn("noteservice: cache save failed", slog.String("error", err.Error()))
	}
}

func (s *Service) swap(g *models.KnowledgeGraph, source string) {
	v := &view{
		g:        g,
		analyzer: graph.NewAnalyzer(g, s.logger),
		engine:   search.New(g, s.store, s.logger),
		source:   source,
	}
	s.mu.Lock()
	s.cur = v
	s.mu.Unlock()
	metrics.GraphNodes.Set(float64(len(g.Nodes)))
}

func (s *Service) view() *view {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Root returns the indexed root.
func (s *Service) Root() string { return s.store.Root() }

// Graph returns the current graph. Callers must not mutate it.
func (s *Service) Graph() *models.KnowledgeGraph { return s.view().g }

// Source reports where the current graph came from.
func (s *Service) Source() string { return s.view().source }

// Rebuild discards the cache, builds the graph from scratch and saves it.
// A failed save is returned after the new graph has been installed.
func (s *Service) Rebuild(ctx context.Context) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	if s.cache != nil {
		s.cache.Clear()
	}
	g, err := s.builder.Build(ctx, nil)
	if err != nil {
		return err
	}
	s.swap(g, SourceBuild)
	if s.cache != nil {
		return s.cache.Save(g)
	}
	return nil
}

// ClearCache removes this root's cache files.
func (s *Service) ClearCache() {
	if s.cache != nil {
		s.cache.Clear()
	}
}

// CacheStats describes this root's cache files.
func (s *Service) CacheStats() (*cache.Stats, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Stats()
}

// Find resolves ref to one document. A document whose path or relative path
// equals ref wins; otherwise ref must be a substring of exactly one.
func (s *Service) Find(ref string) (*models.GraphNode, error) {
	return find(s.view().g, ref)
}

func find(g *models.KnowledgeGraph, ref string) (*models.GraphNode, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", apperr.ErrNotFound)
	}
	slashed := filepath.ToSlash(ref)
	var matches []*models.GraphNode
	for p, n := range g.Nodes {
		rel := filepath.ToSlash(n.Doc.RelPath)
		if p == ref || rel == slashed || rel == slashed+models.DocExt {
			return n, nil
		}
		if strings.Contains(p, ref) || strings.Contains(rel, slashed) {
			matches = append(matches, n)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, ref)
	case 1:
		return matches[0], nil
	}
	names := make([]string, len(matches))
	for i, n := range matches {
		names[i] = n.Doc.RelPath
	}
	sort.Strings(names)
	return nil, &AmbiguousError{Ref: ref, Candidates: names}
}

// AmbiguousError lists the documents a reference matched.
type AmbiguousError struct {
	Ref        string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%q matches %d notes: %s", e.Ref, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// Is makes errors.Is(err, apperr.ErrAmbiguous) hold.
func (e *AmbiguousError) Is(target error) bool { return target == apperr.ErrAmbiguous }

// HubSummary is one hub in an Overview.
type HubSummary struct {
	RelPath     string `json:"rel_path"`
	Title       string `json:"title"`
	Connections int    `json:"connections"`
}

// ClusterSummary names a cluster by the directory of its first member.
type ClusterSummary struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// Overview is a high-level summary of the root.
type Overview struct {
	Root             string           `json:"root"`
	Notes            int              `json:"notes"`
	Links            int              `json:"links"`
	ValidLinks       int              `json:"valid_links"`
	BrokenLinks      int              `json:"broken_links"`
	Directories      int              `json:"directories"`
	FlatFiles        int              `json:"flat_files"`
	TopHubs          []HubSummary     `json:"top_hubs,omitempty"`
	Clusters         []ClusterSummary `json:"clusters,omitempty"`
	Orphans          int              `json:"orphans"`
	ModifiedToday    int              `json:"modified_today"`
	ModifiedThisWeek int              `json:"modified_this_week"`
	TopTags          []graph.TagCount `json:"top_tags,omitempty"`
	BuiltAt          time.Time        `json:"built_at"`
	Source           string           `json:"source"`
}

const (
	overviewHubs     = 5
	overviewClusters = 3
	overviewTags     = 10
)

// Overview summarizes the current graph.
func (s *Service) Overview() Overview {
	v := s.view()
	g := v.g
	o := Overview{
		Root:        g.Root,
		Notes:       len(g.Nodes),
		BrokenLinks: len(g.BrokenLinks),
		Orphans:     len(g.Orphans),
		TopTags:     v.analyzer.TopTags(overviewTags),
		BuiltAt:     g.BuiltAt,
		Source:      v.source,
	}
	now := time.Now()
	dirs := make(map[string]struct{})
	for _, n := range g.Nodes {
		o.Links += len(n.Doc.Links)
		if dir := filepath.Dir(n.Doc.RelPath); dir != "." {
			dirs[dir] = struct{}{}
		} else {
			o.FlatFiles++
		}
		age := now.Sub(n.Doc.ModTime)
		if age < 24*time.Hour {
			o.ModifiedToday++
		}
		if age < 7*24*time.Hour {
			o.ModifiedThisWeek++
		}
	}
	o.ValidLinks = o.Links - o.BrokenLinks
	o.Directories = len(dirs)

	for _, p := range g.Hubs[:min(overviewHubs, len(g.Hubs))] {
		n := g.Nodes[p]
		o.TopHubs = append(o.TopHubs, HubSummary{RelPath: n.Doc.RelPath, Title: n.Doc.Title, Connections: n.Degree()})
	}
	for _, c := range g.Clusters[:min(overviewClusters, len(g.Clusters))] {
		name := "Root"
		if dir := filepath.Dir(g.Nodes[c[0]].Doc.RelPath); dir != "." {
			name = filepath.Base(dir)
		}
		o.Clusters = append(o.Clusters, ClusterSummary{Name: name, Size: len(c)})
	}
	return o
}

// ListEntry is one document in a Listing.
type ListEntry struct {
	Name     string `json:"name"`
	RelPath  string `json:"rel_path"`
	Title    string `json:"title"`
	Outgoing int    `json:"outgoing"`
	Incoming int    `json:"incoming"`
}

// DirEntry is one subdirectory in a Listing with a few sample documents.
type DirEntry struct {
	Name   string      `json:"name"`
	Notes  int         `json:"notes"`
	Sample []ListEntry `json:"sample"`
}

// Listing is a directory view of the graph.
type Listing struct {
	Path  string      `json:"path"`
	Dirs  []DirEntry  `json:"dirs"`
	Files []ListEntry `json:"files"`
}

const listSample = 3

// List groups the documents under dir (relative, "" for the root) into
// files directly inside it and immediate subdirectories.
func (s *Service) List(dir string) Listing {
	g := s.view().g
	prefix := strings.Trim(filepath.ToSlash(filepath.Clean("/"+dir)), "/")
	out := Listing{Path: "/" + prefix}

	subdirs := make(map[string][]ListEntry)
	for _, n := range g.Nodes {
		rel := filepath.ToSlash(n.Doc.RelPath)
		if prefix != "" {
			var ok bool
			if rel, ok = strings.CutPrefix(rel, prefix+"/"); !ok {
				continue
			}
		}
		entry := ListEntry{
			Name:     filepath.Base(rel),
			RelPath:  n.Doc.RelPath,
			Title:    n.Doc.Title,
			Outgoing: n.OutDegree,
			Incoming: n.InDegree,
		}
		if head, _, nested := strings.Cut(rel, "/"); nested {
			subdirs[head] = append(subdirs[head], entry)
		} else {
			out.Files = append(out.Files, entry)
		}
	}
	sort.Slice(out.Files, func(i, j int) bool { return out.Files[i].Name < out.Files[j].Name })

	names := make([]string, 0, len(subdirs))
	for name := range subdirs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entries := subdirs[name]
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Title != entries[j].Title {
				return entries[i].Title < entries[j].Title
			}
			return entries[i].RelPath < entries[j].RelPath
		})
		out.Dirs = append(out.Dirs, DirEntry{Name: name, Notes: len(entries), Sample: entries[:min(listSample, len(entries))]})
	}
	return out
}

// NoteDetail is one document with its graph context.
type NoteDetail struct {
	Path       string           `json:"path"`
	RelPath    string           `json:"rel_path"`
	Title      string           `json:"title"`
	Tags       []string         `json:"tags"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	Headings   []models.Heading `json:"headings"`
	Outgoing   []*models.Link   `json:"outgoing"`
	Incoming   []*models.Link   `json:"incoming"`
	InDegree   int              `json:"in_degree"`
	OutDegree  int              `json:"out_degree"`
	ClusterID  int              `json:"cluster_id"`
	Centrality float64          `json:"centrality"`
	Hub        bool             `json:"hub"`
	WordCount  int              `json:"word_count"`
	ModTime    time.Time        `json:"mod_time"`
	Content    *string          `json:"content,omitempty"`
}

// Read returns the document ref resolves to, with its text when
// withContent is set.
func (s *Service) Read(ref string, withContent bool) (*NoteDetail, error) {
	v := s.view()
	n, err := find(v.g, ref)
	if err != nil {
		return nil, err
	}
	d := &NoteDetail{
		Path:       n.Doc.Path,
		RelPath:    n.Doc.RelPath,
		Title:      n.Doc.Title,
		Tags:       nonNilSlice(n.Doc.Tags),
		Metadata:   n.Doc.Metadata,
		Headings:   nonNilSlice(n.Doc.Headings),
		Outgoing:   nonNilSlice(n.Doc.Links),
		Incoming:   nonNilSlice(n.Incoming),
		InDegree:   n.InDegree,
		OutDegree:  n.OutDegree,
		ClusterID:  n.ClusterID,
		Centrality: n.Centrality,
		Hub:        v.g.IsHub(n.Doc.Path),
		WordCount:  n.Doc.WordCount,
		ModTime:    n.Doc.ModTime,
	}
	if withContent {
		data, err := s.store.Read(n.Doc.RelPath)
		if err != nil {
			s.logger.Warn("noteservice: read content", slog.String("path", n.Doc.Path), slog.String("error", err.Error()))
		} else {
			text := parser.Decode(data)
			d.Content = &text
		}
	}
	return d, nil
}

// Search runs the combined multi-strategy search.
func (s *Service) Search(query string, limit int) []models.SearchResult {
	return s.view().engine.Search(query, limit)
}

// Grep returns matching lines with contextLines of context.
func (s *Service) Grep(pattern string, contextLines int) []search.GrepMatch {
	return s.view().engine.Grep(pattern, contextLines)
}

// Glob returns the relative paths of documents matching pattern.
func (s *Service) Glob(pattern string) ([]string, error) {
	v := s.view()
	paths, err := v.engine.Glob(pattern)
	if err != nil {
		return nil, err
	}
	return relPaths(v.g, paths), nil
}

// Trace is the set of shortest link paths between two documents.
type Trace struct {
	Source string     `json:"source"`
	Target string     `json:"target"`
	Paths  [][]string `json:"paths"`
}

// Trace finds up to max shortest paths from src to dst.
func (s *Service) Trace(src, dst string, max int) (*Trace, error) {
	v := s.view()
	from, err := find(v.g, src)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	to, err := find(v.g, dst)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	t := &Trace{Source: from.Doc.RelPath, Target: to.Doc.RelPath, Paths: [][]string{}}
	for _, p := range v.analyzer.ShortestPaths(from.Doc.Path, to.Doc.Path, max) {
		t.Paths = append(t.Paths, relPaths(v.g, p))
	}
	return t, nil
}

// Related returns documents related to ref, best first.
func (s *Service) Related(ref string, limit int) ([]graph.Related, error) {
	v := s.view()
	n, err := find(v.g, ref)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(v.analyzer.Related(n.Doc.Path, limit)), nil
}

// Stats returns aggregate graph statistics.
func (s *Service) Stats() graph.Stats {
	return s.view().analyzer.Stats()
}

// NodeCentrality is the centrality of one document.
type NodeCentrality struct {
	RelPath string `json:"rel_path"`
	graph.Centrality
}

// Analysis is the structural analysis of the graph.
type Analysis struct {
	Communities [][]string       `json:"communities"`
	Bridges     []string         `json:"bridges"`
	Central     []NodeCentrality `json:"central"`
}

// Analyze computes communities, bridge documents and the top most central
// documents by PageRank.
func (s *Service) Analyze(top int) Analysis {
	v := s.view()
	a := Analysis{
		Communities: [][]string{},
		Bridges:     relPaths(v.g, v.analyzer.Bridges()),
		Central:     []NodeCentrality{},
	}
	for _, c := range v.analyzer.Communities() {
		a.Communities = append(a.Communities, relPaths(v.g, c))
	}
	for p, c := range v.analyzer.Centralities() {
		a.Central = append(a.Central, NodeCentrality{RelPath: v.g.Nodes[p].Doc.RelPath, Centrality: c})
	}
	sort.Slice(a.Central, func(i, j int) bool {
		if a.Central[i].PageRank != a.Central[j].PageRank {
			return a.Central[i].PageRank > a.Central[j].PageRank
		}
		return a.Central[i].RelPath < a.Central[j].RelPath
	})
	if top > 0 && len(a.Central) > top {
		a.Central = a.Central[:top]
	}
	return a
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool { return errors.Is(err, apperr.ErrNotFound) }

func relPaths(g *models.KnowledgeGraph, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if n, ok := g.Nodes[p]; ok {
			out = append(out, n.Doc.RelPath)
		} else {
			out = append(out, p)
		}
	}
	return out
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
