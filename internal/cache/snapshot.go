package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/notegraph/internal/models"
)

// writeGraph stores g in one transaction.
func (s *snapshot) writeGraph(g *models.KnowledgeGraph) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("cache: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(`INSERT INTO graph (id, root, built_at) VALUES (1, ?, ?)`, g.Root, g.BuiltAt.UnixNano()); err != nil {
		return fmt.Errorf("cache: write graph row: %w", err)
	}

	docStmt, err := tx.Prepare(`INSERT INTO documents
		(path, rel_path, title, metadata, mod_time, word_count, cluster_id, centrality)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("cache: prepare document insert: %w", err)
	}
	defer docStmt.Close()
	headStmt, err := tx.Prepare(`INSERT INTO headings (path, seq, level, text, line, slug) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("cache: prepare heading insert: %w", err)
	}
	defer headStmt.Close()
	linkStmt, err := tx.Prepare(`INSERT INTO links
		(source, seq, target, kind, text, display, context, line, broken)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("cache: prepare link insert: %w", err)
	}
	defer linkStmt.Close()
	tagStmt, err := tx.Prepare(`INSERT OR IGNORE INTO tags (path, tag) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("cache: prepare tag insert: %w", err)
	}
	defer tagStmt.Close()

	for path, n := range g.Nodes {
		d := n.Doc
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("cache: encode metadata of %s: %w", path, err)
		}
		if _, err := docStmt.Exec(path, d.RelPath, d.Title, string(meta), d.ModTime.UnixNano(), d.WordCount, n.ClusterID, n.Centrality); err != nil {
			return fmt.Errorf("cache: insert document: %w", err)
		}
		for i, h := range d.Headings {
			if _, err := headStmt.Exec(path, i, h.Level, h.Text, h.Line, h.Slug); err != nil {
				return fmt.Errorf("cache: insert heading: %w", err)
			}
		}
		for i, l := range d.Links {
			if _, err := linkStmt.Exec(path, i, l.Target, string(l.Kind), l.Text, l.Display, l.Context, l.Line, l.Broken); err != nil {
				return fmt.Errorf("cache: insert link: %w", err)
			}
		}
		for _, t := range d.Tags {
			if _, err := tagStmt.Exec(path, t); err != nil {
				return fmt.Errorf("cache: insert tag: %w", err)
			}
		}
	}

	for id, members := range g.Clusters {
		for _, p := range members {
			if _, err := tx.Exec(`INSERT INTO clusters (cluster_id, path) VALUES (?, ?)`, id, p); err != nil {
				return fmt.Errorf("cache: insert cluster: %w", err)
			}
		}
	}
	for rank, p := range g.Hubs {
		if _, err := tx.Exec(`INSERT INTO hubs (rank, path) VALUES (?, ?)`, rank, p); err != nil {
			return fmt.Errorf("cache: insert hub: %w", err)
		}
	}
	for _, p := range g.Orphans {
		if _, err := tx.Exec(`INSERT INTO orphans (path) VALUES (?)`, p); err != nil {
			return fmt.Errorf("cache: insert orphan: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: commit: %w", err)
	}
	return nil
}

// readGraph rebuilds the graph stored by writeGraph. Incoming lists and the
// broken-link list are derived from the stored links.
func (s *snapshot) readGraph() (*models.KnowledgeGraph, error) {
	var (
		root    string
		builtAt int64
	)
	if err := s.conn.QueryRow(`SELECT root, built_at FROM graph WHERE id = 1`).Scan(&root, &builtAt); err != nil {
		return nil, fmt.Errorf("cache: read graph row: %w", err)
	}
	g := models.NewKnowledgeGraph(root)
	g.BuiltAt = time.Unix(0, builtAt)

	if err := s.readDocuments(g); err != nil {
		return nil, err
	}
	if err := s.readHeadings(g); err != nil {
		return nil, err
	}
	if err := s.readTags(g); err != nil {
		return nil, err
	}
	if err := s.readLinks(g); err != nil {
		return nil, err
	}
	if err := s.readLists(g); err != nil {
		return nil, err
	}
	for _, n := range g.Nodes {
		n.RecountDegrees()
	}
	return g, nil
}

func (s *snapshot) readDocuments(g *models.KnowledgeGraph) error {
	rows, err := s.conn.Query(`SELECT path, rel_path, title, metadata, mod_time, word_count, cluster_id, centrality FROM documents`)
	if err != nil {
		return fmt.Errorf("cache: read documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			d       models.Document
			meta    string
			modTime int64
			cluster int
			cent    float64
		)
		if err := rows.Scan(&d.Path, &d.RelPath, &d.Title, &meta, &modTime, &d.WordCount, &cluster, &cent); err != nil {
			return fmt.Errorf("cache: scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
			return fmt.Errorf("cache: decode metadata of %s: %w", d.Path, err)
		}
		if d.Metadata == nil {
			d.Metadata = map[string]any{}
		}
		d.ModTime = time.Unix(0, modTime)
		n := models.NewGraphNode(&d)
		n.ClusterID = cluster
		n.Centrality = cent
		g.Nodes[d.Path] = n
	}
	return rows.Err()
}

func (s *snapshot) readHeadings(g *models.KnowledgeGraph) error {
	rows, err := s.conn.Query(`SELECT path, level, text, line, slug FROM headings ORDER BY path, seq`)
	if err != nil {
		return fmt.Errorf("cache: read headings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			path string
			h    models.Heading
		)
		if err := rows.Scan(&path, &h.Level, &h.Text, &h.Line, &h.Slug); err != nil {
			return fmt.Errorf("cache: scan heading: %w", err)
		}
		n, ok := g.Nodes[path]
		if !ok {
			return fmt.Errorf("cache: heading of unknown document %s", path)
		}
		n.Doc.Headings = append(n.Doc.Headings, h)
	}
	return rows.Err()
}

func (s *snapshot) readTags(g *models.KnowledgeGraph) error {
	// BINARY collation orders tags bytewise, matching sort.Strings.
	rows, err := s.conn.Query(`SELECT path, tag FROM tags ORDER BY path, tag`)
	if err != nil {
		return fmt.Errorf("cache: read tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var path, tag string
		if err := rows.Scan(&path, &tag); err != nil {
			return fmt.Errorf("cache: scan tag: %w", err)
		}
		n, ok := g.Nodes[path]
		if !ok {
			return fmt.Errorf("cache: tag of unknown document %s", path)
		}
		n.Doc.Tags = append(n.Doc.Tags, tag)
	}
	return rows.Err()
}

func (s *snapshot) readLinks(g *models.KnowledgeGraph) error {
	rows, err := s.conn.Query(`SELECT source, target, kind, text, display, context, line, broken FROM links ORDER BY source, seq`)
	if err != nil {
		return fmt.Errorf("cache: read links: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l    models.Link
			kind string
		)
		if err := rows.Scan(&l.Source, &l.Target, &kind, &l.Text, &l.Display, &l.Context, &l.Line, &l.Broken); err != nil {
			return fmt.Errorf("cache: scan link: %w", err)
		}
		l.Kind = models.LinkKind(kind)
		src, ok := g.Nodes[l.Source]
		if !ok {
			return fmt.Errorf("cache: link from unknown document %s", l.Source)
		}
		link := &l
		src.Doc.Links = append(src.Doc.Links, link)
		if target, ok := g.Nodes[l.Target]; ok && !l.Broken {
			target.Incoming = append(target.Incoming, link)
			continue
		}
		link.Broken = true
		g.BrokenLinks = append(g.BrokenLinks, link)
	}
	return rows.Err()
}

func (s *snapshot) readLists(g *models.KnowledgeGraph) error {
	clusters, err := s.queryPairs(`SELECT cluster_id, path FROM clusters ORDER BY cluster_id, path`)
	if err != nil {
		return err
	}
	for _, c := range clusters {
		for len(g.Clusters) <= c.id {
			g.Clusters = append(g.Clusters, nil)
		}
		g.Clusters[c.id] = append(g.Clusters[c.id], c.path)
	}
	hubs, err := s.queryPairs(`SELECT rank, path FROM hubs ORDER BY rank`)
	if err != nil {
		return err
	}
	for _, h := range hubs {
		g.Hubs = append(g.Hubs, h.path)
	}
	orphans, err := s.queryPairs(`SELECT 0, path FROM orphans ORDER BY path`)
	if err != nil {
		return err
	}
	for _, o := range orphans {
		g.Orphans = append(g.Orphans, o.path)
	}

	for _, list := range append([][]string{g.Hubs, g.Orphans}, g.Clusters...) {
		for _, p := range list {
			if _, ok := g.Nodes[p]; !ok {
				return fmt.Errorf("cache: list entry for unknown document %s", p)
			}
		}
	}
	return nil
}

type pair struct {
	id   int
	path string
}

func (s *snapshot) queryPairs(query string) ([]pair, error) {
	rows, err := s.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("cache: query lists: %w", err)
	}
	defer rows.Close()
	var out []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.id, &p.path); err != nil {
			return nil, fmt.Errorf("cache: scan list entry: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
