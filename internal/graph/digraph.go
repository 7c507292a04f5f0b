// Package graph assembles the knowledge graph from parsed documents and
// answers structural queries over it.
package graph

import (
	"math"
	"sort"

	"github.com/starford/notegraph/internal/models"
)

// PageRank parameters.
const (
	DampingFactor = 0.85
	MaxIterations = 100
	Tolerance     = 1e-6
)

// Digraph is a simple directed graph over document paths. Nodes are dense
// integer ids assigned in path order; parallel edges collapse into one.
type Digraph struct {
	paths []string
	ids   map[string]int
	out   [][]int
	in    [][]int
	seen  map[[2]int]struct{}
}

// NewDigraph returns a graph with one node per path and no edges.
func NewDigraph(paths []string) *Digraph {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	d := &Digraph{
		paths: sorted,
		ids:   make(map[string]int, len(sorted)),
		out:   make([][]int, len(sorted)),
		in:    make([][]int, len(sorted)),
		seen:  make(map[[2]int]struct{}),
	}
	for i, p := range sorted {
		d.ids[p] = i
	}
	return d
}

// FromGraph projects the resolved links of g onto a Digraph.
func FromGraph(g *models.KnowledgeGraph) *Digraph {
	paths := make([]string, 0, len(g.Nodes))
	for p := range g.Nodes {
		paths = append(paths, p)
	}
	d := NewDigraph(paths)
	for _, p := range d.paths {
		for _, l := range g.Nodes[p].Doc.Links {
			if !l.Broken {
				d.AddEdge(l.Source, l.Target)
			}
		}
	}
	return d
}

// AddEdge adds from→to. It reports false when an endpoint is unknown or the
// edge already exists.
func (d *Digraph) AddEdge(from, to string) bool {
	u, ok := d.ids[from]
	if !ok {
		return false
	}
	v, ok := d.ids[to]
	if !ok {
		return false
	}
	key := [2]int{u, v}
	if _, dup := d.seen[key]; dup {
		return false
	}
	d.seen[key] = struct{}{}
	d.out[u] = append(d.out[u], v)
	d.in[v] = append(d.in[v], u)
	return true
}

// Len returns the node count.
func (d *Digraph) Len() int { return len(d.paths) }

// EdgeCount returns the number of distinct directed edges.
func (d *Digraph) EdgeCount() int { return len(d.seen) }

// Has reports whether path is a node.
func (d *Digraph) Has(path string) bool {
	_, ok := d.ids[path]
	return ok
}

// undirected returns the deduplicated neighbor lists of the undirected
// projection, without self-loops.
func (d *Digraph) undirected() [][]int {
	nb := make([][]int, len(d.paths))
	for u := range d.paths {
		set := make(map[int]struct{}, len(d.out[u])+len(d.in[u]))
		for _, v := range d.out[u] {
			set[v] = struct{}{}
		}
		for _, v := range d.in[u] {
			set[v] = struct{}{}
		}
		delete(set, u)
		list := make([]int, 0, len(set))
		for v := range set {
			list = append(list, v)
		}
		sort.Ints(list)
		nb[u] = list
	}
	return nb
}

// ShortestPaths returns every minimum-hop path from src to dst, at most max
// of them (max <= 0 means no cap). It returns nil when an endpoint is
// missing or dst is unreachable.
func (d *Digraph) ShortestPaths(src, dst string, max int) [][]string {
	s, ok := d.ids[src]
	if !ok {
		return nil
	}
	t, ok := d.ids[dst]
	if !ok {
		return nil
	}

	dist := make([]int, len(d.paths))
	for i := range dist {
		dist[i] = -1
	}
	preds := make([][]int, len(d.paths))
	dist[s] = 0
	queue := []int{s}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		if dist[t] >= 0 && dist[u] >= dist[t] {
			break
		}
		for _, v := range d.out[u] {
			switch {
			case dist[v] < 0:
				dist[v] = dist[u] + 1
				preds[v] = append(preds[v], u)
				queue = append(queue, v)
			case dist[v] == dist[u]+1:
				preds[v] = append(preds[v], u)
			}
		}
	}
	if dist[t] < 0 {
		return nil
	}

	var out [][]string
	stack := make([]int, 0, dist[t]+1)
	var walk func(v int) bool
	walk = func(v int) bool {
		stack = append(stack, v)
		defer func() { stack = stack[:len(stack)-1] }()
		if v == s {
			path := make([]string, len(stack))
			for i, id := range stack {
				path[len(stack)-1-i] = d.paths[id]
			}
			out = append(out, path)
			return max > 0 && len(out) >= max
		}
		for _, p := range preds[v] {
			if walk(p) {
				return true
			}
		}
		return false
	}
	walk(t)

	sort.Slice(out, func(i, j int) bool {
		for k := range out[i] {
			if out[i][k] != out[j][k] {
				return out[i][k] < out[j][k]
			}
		}
		return false
	})
	return out
}

// Components returns the connected components of the undirected projection,
// singletons included. Members are sorted and components are ordered by
// their first member.
func (d *Digraph) Components() [][]string {
	nb := d.undirected()
	visited := make([]bool, len(d.paths))
	var out [][]string
	for start := range d.paths {
		if visited[start] {
			continue
		}
		visited[start] = true
		members := []int{start}
		for i := 0; i < len(members); i++ {
			for _, v := range nb[members[i]] {
				if !visited[v] {
					visited[v] = true
					members = append(members, v)
				}
			}
		}
		sort.Ints(members)
		comp := make([]string, len(members))
		for i, id := range members {
			comp[i] = d.paths[id]
		}
		out = append(out, comp)
	}
	return out
}

// PageRank runs power iteration with the given damping factor. Rank held by
// nodes without out-edges is spread evenly over all nodes. The second result
// is false when the L1 change never fell below n*tol within maxIter rounds.
func (d *Digraph) PageRank(damping float64, maxIter int, tol float64) (map[string]float64, bool) {
	n := len(d.paths)
	if n == 0 {
		return map[string]float64{}, true
	}
	fn := float64(n)
	x := make([]float64, n)
	for i := range x {
		x[i] = 1 / fn
	}

	converged := false
	for iter := 0; iter < maxIter; iter++ {
		last := x
		x = make([]float64, n)
		dangling := 0.0
		for u := range last {
			if len(d.out[u]) == 0 {
				dangling += last[u]
				continue
			}
			share := damping * last[u] / float64(len(d.out[u]))
			for _, v := range d.out[u] {
				x[v] += share
			}
		}
		base := (damping*dangling + (1 - damping)) / fn
		diff := 0.0
		for i := range x {
			x[i] += base
			diff += math.Abs(x[i] - last[i])
		}
		if diff < fn*tol {
			converged = true
			break
		}
	}

	scores := make(map[string]float64, n)
	for i, p := range d.paths {
		scores[p] = x[i]
	}
	return scores, converged
}

// DegreeCentrality returns (in+out)/(n-1) per node over distinct edges.
func (d *Digraph) DegreeCentrality() map[string]float64 {
	n := len(d.paths)
	out := make(map[string]float64, n)
	if n <= 1 {
		for _, p := range d.paths {
			out[p] = 1
		}
		return out
	}
	scale := 1 / float64(n-1)
	for i, p := range d.paths {
		out[p] = float64(len(d.in[i])+len(d.out[i])) * scale
	}
	return out
}

type articulationFrame struct {
	node   int
	parent int
	next   int // index into the neighbor list
	kids   int
}

// ArticulationPoints returns the nodes whose removal disconnects the
// undirected projection, sorted. It is Tarjan's low-link algorithm run with
// an explicit stack.
func (d *Digraph) ArticulationPoints() []string {
	n := len(d.paths)
	nb := d.undirected()
	disc := make([]int, n)
	low := make([]int, n)
	for i := range disc {
		disc[i] = -1
	}
	isCut := make([]bool, n)
	timer := 0

	for root := 0; root < n; root++ {
		if disc[root] >= 0 {
			continue
		}
		disc[root], low[root] = timer, timer
		timer++
		stack := []articulationFrame{{node: root, parent: -1}}
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			if f.next < len(nb[f.node]) {
				v := nb[f.node][f.next]
				f.next++
				if v == f.parent {
					continue
				}
				if disc[v] < 0 {
					disc[v], low[v] = timer, timer
					timer++
					f.kids++
					stack = append(stack, articulationFrame{node: v, parent: f.node})
				} else if disc[v] < low[f.node] {
					low[f.node] = disc[v]
				}
				continue
			}

			// All neighbors done: fold low-link into the parent frame.
			child := *f
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				if child.kids >= 2 {
					isCut[child.node] = true
				}
				continue
			}
			p := &stack[len(stack)-1]
			if low[child.node] < low[p.node] {
				low[p.node] = low[child.node]
			}
			if p.parent >= 0 && low[child.node] >= disc[p.node] {
				isCut[p.node] = true
			}
		}
	}

	var out []string
	for i, cut := range isCut {
		if cut {
			out = append(out, d.paths[i])
		}
	}
	return out
}
