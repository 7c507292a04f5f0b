package graph

import (
	"math"
	"testing"

	"github.com/starford/notegraph/internal/testutil"
)

func TestRelated_NoOriginNoDuplicates(t *testing.T) {
	root, _, g := build(t, map[string]string{
		"a.md": "#go [[b]] [[c]]",
		"b.md": "#go [[a]] [[c]]",
		"c.md": "#go",
		"d.md": "#go [[b]] [[c]]",
		"e.md": "#rust",
	})
	a := testutil.Path(root, "a.md")
	rel := NewAnalyzer(g, nil).Related(a, 0)
	if len(rel) == 0 {
		t.Fatal("no related notes")
	}
	seen := make(map[string]bool)
	for _, r := range rel {
		if r.Path == a {
			t.Error("origin included")
		}
		if seen[r.Path] {
			t.Errorf("duplicate %s", r.Path)
		}
		seen[r.Path] = true
	}
	if seen[testutil.Path(root, "e.md")] {
		t.Error("unrelated note included")
	}
	for _, r := range rel {
		if r.Path == testutil.Path(root, "b.md") && r.Category != CategoryDirect {
			t.Errorf("b category = %s, want direct", r.Category)
		}
	}
}

func TestRelated_SortedAndLimited(t *testing.T) {
	root, _, g := build(t, map[string]string{
		"a.md": "#x [[b]]",
		"b.md": "",
		"c.md": "#x",
	})
	rel := NewAnalyzer(g, nil).Related(testutil.Path(root, "a.md"), 1)
	if len(rel) != 1 || rel[0].Path != testutil.Path(root, "b.md") {
		t.Fatalf("related = %+v", rel)
	}
	// direct 5.0 boosted for the shared directory.
	if math.Abs(rel[0].Score-5.5) > 1e-9 {
		t.Errorf("score = %f", rel[0].Score)
	}
}

func TestRelated_UnknownPath(t *testing.T) {
	_, _, g := build(t, map[string]string{"a.md": ""})
	if got := NewAnalyzer(g, nil).Related("/nowhere.md", 5); got != nil {
		t.Errorf("related = %v", got)
	}
}

func TestCommunities(t *testing.T) {
	root, _, g := build(t, map[string]string{
		"a.md":    "[[b]] [[c]]",
		"b.md":    "[[c]]",
		"c.md":    "[[x]]",
		"x.md":    "[[y]] [[z]]",
		"y.md":    "[[z]]",
		"z.md":    "",
		"lone.md": "",
	})
	comms := NewAnalyzer(g, nil).Communities()
	if len(comms) == 0 {
		t.Fatal("no communities")
	}
	seen := make(map[string]bool)
	for _, c := range comms {
		if len(c) < 2 {
			t.Errorf("singleton community %v", c)
		}
		for _, p := range c {
			if seen[p] {
				t.Errorf("%s in two communities", p)
			}
			seen[p] = true
		}
	}
	if seen[testutil.Path(root, "lone.md")] {
		t.Error("isolated note grouped")
	}
}

func TestCommunities_TooSmall(t *testing.T) {
	_, _, g := build(t, map[string]string{"a.md": "[[b]]", "b.md": ""})
	if got := NewAnalyzer(g, nil).Communities(); got != nil {
		t.Errorf("communities = %v", got)
	}
}

func TestCentralities_Chain(t *testing.T) {
	root, _, g := build(t, map[string]string{
		"a.md": "[[b]]",
		"b.md": "[[c]]",
		"c.md": "",
	})
	cent := NewAnalyzer(g, nil).Centralities()
	b := cent[testutil.Path(root, "b.md")]
	if math.Abs(b.Betweenness-0.5) > 1e-9 {
		t.Errorf("b betweenness = %f, want 0.5", b.Betweenness)
	}
	if b.Degree != 1 {
		t.Errorf("b degree = %f", b.Degree)
	}
	sum := 0.0
	for _, c := range cent {
		sum += c.PageRank
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("pagerank sum = %f", sum)
	}
}

func TestBridges(t *testing.T) {
	root, _, g := build(t, map[string]string{
		"a.md": "[[b]]",
		"b.md": "[[c]]",
		"c.md": "",
	})
	got := NewAnalyzer(g, nil).Bridges()
	if len(got) != 1 || got[0] != testutil.Path(root, "b.md") {
		t.Errorf("bridges = %v", got)
	}
}

func TestStats(t *testing.T) {
	_, _, g := build(t, map[string]string{
		"A.md": "[[B]] [[nowhere]] #t",
		"B.md": "",
	})
	s := NewAnalyzer(g, nil).Stats()
	if s.Nodes != 2 || s.Edges != 2 || s.ResolvedEdges != 1 || s.BrokenLinks != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s.Density != 1 || s.AvgDegree != 1 || s.Tags != 1 {
		t.Errorf("density=%f avg=%f tags=%d", s.Density, s.AvgDegree, s.Tags)
	}
}
