package graph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/notegraph/internal/metrics"
	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/parser"
	"github.com/starford/notegraph/internal/resolver"
	"github.com/starford/notegraph/internal/storage"
)

const (
	// MaxHubs caps the hub list.
	MaxHubs = 10
	// MinHubDegree is the smallest total degree a hub may have.
	MinHubDegree = 2

	defaultWorkers = 8
)

// Builder parses documents under a root and assembles them into a
// KnowledgeGraph. It owns the resolver index and keeps it current across
// Build and Update calls. A Builder is not safe for concurrent use.
type Builder struct {
	store    *storage.FS
	resolver *resolver.Resolver
	workers  int
	logger   *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithWorkers sets the number of files parsed concurrently.
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLogger sets the logger used for skipped files.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder scans the store once to seed the stem index.
func NewBuilder(store *storage.FS, opts ...BuilderOption) (*Builder, error) {
	b := &Builder{store: store, workers: defaultWorkers, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	files, err := store.List("")
	if err != nil {
		return nil, fmt.Errorf("graph: scan root: %w", err)
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	b.resolver = resolver.New(store.Root(), resolver.NewIndex(paths))
	return b, nil
}

// Index returns the stem index the builder resolves against.
func (b *Builder) Index() *resolver.Index {
	return b.resolver.Index()
}

// Build parses files (absolute paths; nil means every document under the
// root) and returns the assembled graph. Files that cannot be read are
// logged and left out.
func (b *Builder) Build(ctx context.Context, files []string) (*models.KnowledgeGraph, error) {
	start := time.Now()
	if files == nil {
		list, err := b.store.List("")
		if err != nil {
			return nil, fmt.Errorf("graph: scan root: %w", err)
		}
		files = make([]string, len(list))
		listed := make(map[string]struct{}, len(list))
		for i, f := range list {
			files[i] = f.Path
			listed[f.Path] = struct{}{}
		}
		b.pruneIndex(func(p string) bool {
			_, ok := listed[p]
			return ok
		})
	} else {
		b.pruneIndex(isFile)
	}
	docs, err := b.parseAll(ctx, files)
	if err != nil {
		return nil, err
	}
	b.resolver.Update(docPaths(docs), nil)
	for _, doc := range docs {
		for _, l := range doc.Links {
			b.resolver.Resolve(l)
		}
	}

	g := models.NewKnowledgeGraph(b.store.Root())
	for _, doc := range docs {
		g.Nodes[doc.Path] = models.NewGraphNode(doc)
	}
	for _, doc := range docs {
		for _, l := range doc.Links {
			attach(g, l)
		}
	}
	for _, n := range g.Nodes {
		n.RecountDegrees()
	}
	Analyze(g)
	g.BuiltAt = time.Now()

	metrics.BuildsTotal.WithLabelValues("full").Inc()
	metrics.BuildDuration.WithLabelValues("full").Observe(time.Since(start).Seconds())
	b.logger.Info("graph: built",
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("broken_links", len(g.BrokenLinks)),
		slog.Int("clusters", len(g.Clusters)),
		slog.Duration("took", time.Since(start)),
	)
	return g, nil
}

// Update patches g in place: removed documents leave the graph and the
// index, changed documents are re-parsed and re-resolved, and incoming
// lists drop every entry sourced from either set before the new links are
// attached. Links into removed documents become broken.
//
// Clusters, centrality, hubs and orphans are NOT recomputed; removed paths
// are only purged from them. Degrees and content are current afterwards,
// analytics are not. Run Build for accurate analytics.
func (b *Builder) Update(ctx context.Context, g *models.KnowledgeGraph, changed, removed []string) error {
	start := time.Now()
	docs, err := b.parseAll(ctx, changed)
	if err != nil {
		return err
	}
	b.resolver.Update(docPaths(docs), removed)

	gone := make(map[string]struct{}, len(removed))
	for _, p := range removed {
		if _, ok := g.Nodes[p]; ok {
			gone[p] = struct{}{}
			delete(g.Nodes, p)
		}
	}
	stale := make(map[string]struct{}, len(docs)+len(gone))
	for p := range gone {
		stale[p] = struct{}{}
	}
	for _, doc := range docs {
		stale[doc.Path] = struct{}{}
	}

	for _, n := range g.Nodes {
		n.Incoming = dropSources(n.Incoming, stale)
	}
	kept := g.BrokenLinks[:0]
	for _, l := range g.BrokenLinks {
		if _, ok := stale[l.Source]; !ok {
			kept = append(kept, l)
		}
	}
	g.BrokenLinks = kept

	// Surviving links into removed documents.
	for p, n := range g.Nodes {
		if _, ok := stale[p]; ok {
			continue
		}
		for _, l := range n.Doc.Links {
			if _, ok := gone[l.Target]; ok && !l.Broken {
				l.Broken = true
				g.BrokenLinks = append(g.BrokenLinks, l)
			}
		}
	}

	for _, doc := range docs {
		for _, l := range doc.Links {
			b.resolver.Resolve(l)
		}
		node := models.NewGraphNode(doc)
		if old, ok := g.Nodes[doc.Path]; ok {
			node.Incoming = old.Incoming
			node.ClusterID = old.ClusterID
			node.Centrality = old.Centrality
		}
		g.Nodes[doc.Path] = node
	}
	for _, doc := range docs {
		for _, l := range doc.Links {
			attach(g, l)
		}
	}
	for _, n := range g.Nodes {
		n.RecountDegrees()
	}
	purge(g, gone)
	g.BuiltAt = time.Now()

	metrics.BuildsTotal.WithLabelValues("incremental").Inc()
	metrics.BuildDuration.WithLabelValues("incremental").Observe(time.Since(start).Seconds())
	b.logger.Info("graph: updated",
		slog.Int("changed", len(docs)),
		slog.Int("removed", len(gone)),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// parseAll parses files concurrently and returns the readable ones sorted
// by path.
func (b *Builder) parseAll(ctx context.Context, files []string) ([]*models.Document, error) {
	var (
		mu   sync.Mutex
		docs = make([]*models.Document, 0, len(files))
		seen = make(map[string]struct{}, len(files))
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.workers)
	for _, path := range files {
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := parser.ParseFile(path, b.store.Root())
			if err != nil {
				metrics.ParseFailures.Inc()
				b.logger.Warn("graph: skipping file", slog.String("path", path), slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			docs = append(docs, doc)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("graph: parse: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// pruneIndex drops indexed paths for which present reports false.
func (b *Builder) pruneIndex(present func(string) bool) {
	var gone []string
	for _, p := range b.resolver.Index().Paths() {
		if !present(p) {
			gone = append(gone, p)
		}
	}
	if len(gone) > 0 {
		b.resolver.Update(nil, gone)
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func docPaths(docs []*models.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Path
	}
	return out
}

// attach files l as an incoming link of its target, or as broken when the
// target is not a node of g.
func attach(g *models.KnowledgeGraph, l *models.Link) {
	if !l.Broken {
		if target, ok := g.Nodes[l.Target]; ok {
			target.Incoming = append(target.Incoming, l)
			return
		}
		l.Broken = true
	}
	g.BrokenLinks = append(g.BrokenLinks, l)
}

func dropSources(links []*models.Link, sources map[string]struct{}) []*models.Link {
	out := links[:0]
	for _, l := range links {
		if _, ok := sources[l.Source]; !ok {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// purge removes gone paths from the cluster, hub and orphan lists. Clusters
// left with one member are dropped and cluster ids renumbered.
func purge(g *models.KnowledgeGraph, gone map[string]struct{}) {
	if len(gone) == 0 {
		return
	}
	keep := func(paths []string) []string {
		out := paths[:0]
		for _, p := range paths {
			if _, ok := gone[p]; !ok {
				out = append(out, p)
			}
		}
		return out
	}
	var clusters [][]string
	for _, c := range g.Clusters {
		if c = keep(c); len(c) > 1 {
			clusters = append(clusters, c)
		}
	}
	g.Clusters = clusters
	assignClusters(g)
	g.Hubs = keep(g.Hubs)
	g.Orphans = keep(g.Orphans)
}

// Analyze computes clusters, centrality, hubs and orphans for g from its
// current links.
func Analyze(g *models.KnowledgeGraph) {
	d := FromGraph(g)

	g.Clusters = nil
	for _, comp := range d.Components() {
		if len(comp) > 1 {
			g.Clusters = append(g.Clusters, comp)
		}
	}
	assignClusters(g)

	scores, ok := d.PageRank(DampingFactor, MaxIterations, Tolerance)
	if !ok {
		scores = nodeDegreeCentrality(g)
	}
	for p, n := range g.Nodes {
		n.Centrality = scores[p]
	}

	g.Hubs = selectHubs(g)
	g.Orphans = selectOrphans(g)
}

func assignClusters(g *models.KnowledgeGraph) {
	for _, n := range g.Nodes {
		n.ClusterID = models.NoCluster
	}
	for id, members := range g.Clusters {
		for _, p := range members {
			if n, ok := g.Nodes[p]; ok {
				n.ClusterID = id
			}
		}
	}
}

// nodeDegreeCentrality is (in+out)/(n-1) over the node degree fields.
func nodeDegreeCentrality(g *models.KnowledgeGraph) map[string]float64 {
	div := float64(max(1, len(g.Nodes)-1))
	out := make(map[string]float64, len(g.Nodes))
	for p, n := range g.Nodes {
		out[p] = float64(n.Degree()) / div
	}
	return out
}

func selectHubs(g *models.KnowledgeGraph) []string {
	nodes := sortedNodes(g)
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Degree() != b.Degree() {
			return a.Degree() > b.Degree()
		}
		return a.Centrality > b.Centrality
	})
	var hubs []string
	for _, n := range nodes[:min(MaxHubs, len(nodes))] {
		if n.Degree() >= MinHubDegree {
			hubs = append(hubs, n.Doc.Path)
		}
	}
	return hubs
}

func selectOrphans(g *models.KnowledgeGraph) []string {
	var out []string
	for _, n := range sortedNodes(g) {
		if n.InDegree == 0 && n.OutDegree == 0 {
			out = append(out, n.Doc.Path)
		}
	}
	return out
}

// sortedNodes returns the nodes of g ordered by path.
func sortedNodes(g *models.KnowledgeGraph) []*models.GraphNode {
	out := make([]*models.GraphNode, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Doc.Path < out[j].Doc.Path })
	return out
}
