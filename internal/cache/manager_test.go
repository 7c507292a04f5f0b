package cache

import (
	"context"
	"encoding/json"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/starford/notegraph/internal/graph"
	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/storage"
	"github.com/starford/notegraph/internal/testutil"
)

type fixture struct {
	root  string
	store *storage.FS
	mgr   *Manager
	g     *models.KnowledgeGraph
}

func setup(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root, store := testutil.TestStore(t, files)
	mgr, err := New(store, t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := graph.NewBuilder(store)
	if err != nil {
		t.Fatal(err)
	}
	g, err := b.Build(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Save(g); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return &fixture{root: root, store: store, mgr: mgr, g: g}
}

var twoNotes = map[string]string{
	"a.md": "---\ntags: [x]\n---\n# Alpha\n\nsee [[b]] and [[ghost]] #y",
	"b.md": "# Beta\n",
}

func degrees(g *models.KnowledgeGraph) map[string][2]int {
	out := make(map[string][2]int, len(g.Nodes))
	for p, n := range g.Nodes {
		out[p] = [2]int{n.InDegree, n.OutDegree}
	}
	return out
}

func TestLoad_Untouched(t *testing.T) {
	f := setup(t, twoNotes)
	g, ok := f.mgr.Load()
	if !ok {
		t.Fatal("expected cache hit")
	}
	if !reflect.DeepEqual(degrees(g), degrees(f.g)) {
		t.Errorf("degrees = %v, want %v", degrees(g), degrees(f.g))
	}
	if len(g.BrokenLinks) != 1 || len(g.Hubs) != len(f.g.Hubs) || !reflect.DeepEqual(g.Clusters, f.g.Clusters) {
		t.Errorf("broken=%d hubs=%v clusters=%v", len(g.BrokenLinks), g.Hubs, g.Clusters)
	}

	a := g.Nodes[testutil.Path(f.root, "a.md")]
	want := f.g.Nodes[testutil.Path(f.root, "a.md")]
	if a.Doc.Title != "Alpha" || !reflect.DeepEqual(a.Doc.Tags, []string{"x", "y"}) || a.Doc.WordCount != want.Doc.WordCount {
		t.Errorf("doc = %+v", a.Doc)
	}
	if !reflect.DeepEqual(a.Doc.Headings, want.Doc.Headings) {
		t.Errorf("headings = %+v", a.Doc.Headings)
	}
	if !a.Doc.ModTime.Equal(want.Doc.ModTime) || a.Centrality != want.Centrality {
		t.Errorf("mod=%v centrality=%f", a.Doc.ModTime, a.Centrality)
	}
	if a.Doc.Metadata["tags"] == nil {
		t.Error("metadata lost")
	}
}

func TestSaveAndLoad_NestedMetadataKeys(t *testing.T) {
	f := setup(t, map[string]string{
		"a.md": "---\nversions:\n  1: first\n  2: second\n---\n# A\nlinks [[b]]",
		"b.md": "",
	})
	g, ok := f.mgr.Load()
	if !ok {
		t.Fatal("expected cache hit")
	}
	versions, ok := g.Nodes[testutil.Path(f.root, "a.md")].Doc.Metadata["versions"].(map[string]any)
	if !ok || versions["1"] != "first" {
		t.Errorf("versions = %#v", versions)
	}
}

func TestLoad_InvalidatedByChange(t *testing.T) {
	cases := map[string]func(t *testing.T, root string){
		"touch": func(t *testing.T, root string) {
			testutil.Touch(t, root, "a.md", time.Second)
		},
		"add": func(t *testing.T, root string) {
			testutil.WriteFile(t, root, "c.md", "new")
		},
		"remove": func(t *testing.T, root string) {
			if err := os.Remove(testutil.Path(root, "b.md")); err != nil {
				t.Fatal(err)
			}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := setup(t, twoNotes)
			mutate(t, f.root)
			if _, ok := f.mgr.Load(); ok {
				t.Error("expected cache miss")
			}
		})
	}
}

func TestLoad_HiddenFilesIgnored(t *testing.T) {
	f := setup(t, twoNotes)
	testutil.WriteFile(t, f.root, ".trash/old.md", "x")
	testutil.WriteFile(t, f.root, "c.txt", "x")
	if _, ok := f.mgr.Load(); !ok {
		t.Error("hidden and non-document files should not invalidate")
	}
}

func TestLoad_VersionMismatch(t *testing.T) {
	f := setup(t, twoNotes)
	data, err := os.ReadFile(f.mgr.MetaPath())
	if err != nil {
		t.Fatal(err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	meta.Version = "0"
	data, _ = json.Marshal(meta)
	if err := os.WriteFile(f.mgr.MetaPath(), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.mgr.Load(); ok {
		t.Error("expected miss on version mismatch")
	}
}

func TestLoad_CorruptSnapshot(t *testing.T) {
	f := setup(t, twoNotes)
	if err := os.WriteFile(f.mgr.SnapshotPath(), []byte("not a database"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.mgr.Load(); ok {
		t.Error("expected miss on corrupt snapshot")
	}

	f = setup(t, twoNotes)
	if err := os.WriteFile(f.mgr.MetaPath(), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.mgr.Load(); ok {
		t.Error("expected miss on corrupt meta")
	}
}

func TestLoad_MissingFiles(t *testing.T) {
	f := setup(t, twoNotes)
	if err := os.Remove(f.mgr.SnapshotPath()); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.mgr.Load(); ok {
		t.Error("expected miss without snapshot")
	}
}

func TestBaseName_DistinctRoots(t *testing.T) {
	a := BaseName("/one/notes")
	b := BaseName("/two/notes")
	if a == b {
		t.Errorf("roots collide: %s", a)
	}
	if !strings.HasPrefix(a, "notes_") || len(a) != len("notes_")+8 {
		t.Errorf("base name = %s", a)
	}
}

func TestSave_RollbackOnFailure(t *testing.T) {
	_, store := testutil.TestStore(t, twoNotes)
	mgr, err := New(store, t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	// A non-empty directory where the sidecar goes makes the final write fail.
	testutil.WriteFile(t, mgr.MetaPath(), "blocker", "")

	b, _ := graph.NewBuilder(store)
	g, _ := b.Build(context.Background(), nil)
	if err := mgr.Save(g); err == nil {
		t.Fatal("expected save error")
	}
	if _, err := os.Stat(mgr.SnapshotPath()); !os.IsNotExist(err) {
		t.Errorf("snapshot left behind: %v", err)
	}
	if _, ok := mgr.Load(); ok {
		t.Error("load after failed save should miss")
	}
}

func TestClearAndStats(t *testing.T) {
	f := setup(t, twoNotes)
	st, ok := f.mgr.Stats()
	if !ok || st.NodeCount != 2 || st.Version != SchemaVersion || st.SizeBytes == 0 {
		t.Fatalf("stats = %+v ok=%v", st, ok)
	}
	f.mgr.Clear()
	if _, ok := f.mgr.Stats(); ok {
		t.Error("stats after clear")
	}
	if _, err := os.Stat(f.mgr.SnapshotPath()); !os.IsNotExist(err) {
		t.Error("snapshot survived clear")
	}
	f.mgr.Clear() // idempotent
}

func TestChangesAndLoadStale(t *testing.T) {
	f := setup(t, twoNotes)
	testutil.Touch(t, f.root, "a.md", time.Second)
	c := testutil.WriteFile(t, f.root, "c.md", "new")
	if err := os.Remove(testutil.Path(f.root, "b.md")); err != nil {
		t.Fatal(err)
	}

	g, meta, ok := f.mgr.LoadStale()
	if !ok || len(g.Nodes) != 2 {
		t.Fatalf("stale load ok=%v", ok)
	}
	changed, removed, err := f.mgr.Changes(meta.Fingerprint)
	if err != nil {
		t.Fatal(err)
	}
	wantChanged := []string{testutil.Path(f.root, "a.md"), c}
	if !reflect.DeepEqual(changed, wantChanged) {
		t.Errorf("changed = %v, want %v", changed, wantChanged)
	}
	if !reflect.DeepEqual(removed, []string{testutil.Path(f.root, "b.md")}) {
		t.Errorf("removed = %v", removed)
	}
}
