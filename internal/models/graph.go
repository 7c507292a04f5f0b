package models

import "time"

// NoCluster is the ClusterID of a node outside every multi-member cluster.
const NoCluster = -1

// GraphNode wraps one document with its graph properties.
//
// InDegree and OutDegree always equal len(Incoming) and len(Doc.Links); call
// RecountDegrees after touching either list.
type GraphNode struct {
	Doc        *Document `json:"document"`
	Incoming   []*Link   `json:"incoming,omitempty"`
	InDegree   int       `json:"in_degree"`
	OutDegree  int       `json:"out_degree"`
	ClusterID  int       `json:"cluster_id"`
	Centrality float64   `json:"centrality"`
}

// NewGraphNode returns a node for doc with no incoming links and no cluster.
func NewGraphNode(doc *Document) *GraphNode {
	n := &GraphNode{Doc: doc, ClusterID: NoCluster}
	n.RecountDegrees()
	return n
}

// RecountDegrees sets the degree fields from the link lists.
func (n *GraphNode) RecountDegrees() {
	n.InDegree = len(n.Incoming)
	n.OutDegree = len(n.Doc.Links)
}

// Degree is InDegree + OutDegree.
func (n *GraphNode) Degree() int {
	return n.InDegree + n.OutDegree
}

// KnowledgeGraph is the assembled document graph.
//
// Every path in Clusters, Hubs and Orphans is a key of Nodes. Every link that
// is not broken targets a key of Nodes; every broken link is in BrokenLinks.
type KnowledgeGraph struct {
	Root        string                `json:"root"`
	Nodes       map[string]*GraphNode `json:"nodes"`
	Clusters    [][]string            `json:"clusters"`
	Hubs        []string              `json:"hubs"`
	Orphans     []string              `json:"orphans"`
	BrokenLinks []*Link               `json:"broken_links"`
	BuiltAt     time.Time             `json:"built_at"`
}

// NewKnowledgeGraph returns an empty graph for root.
func NewKnowledgeGraph(root string) *KnowledgeGraph {
	return &KnowledgeGraph{
		Root:  root,
		Nodes: make(map[string]*GraphNode),
	}
}

// IsHub reports whether path is in the hub list.
func (g *KnowledgeGraph) IsHub(path string) bool {
	for _, h := range g.Hubs {
		if h == path {
			return true
		}
	}
	return false
}

// SearchResult is one ranked search hit.
type SearchResult struct {
	Path      string     `json:"path"`
	RelPath   string     `json:"rel_path"`
	Score     float64    `json:"score"`
	MatchType string     `json:"match_type"`
	Context   string     `json:"context,omitempty"`
	Line      int        `json:"line,omitempty"` // 0 when not applicable
	Node      *GraphNode `json:"-"`
}
