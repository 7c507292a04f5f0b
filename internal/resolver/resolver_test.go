package resolver

import (
	"path/filepath"
	"testing"

	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/testutil"
)

func newResolver(t *testing.T, files map[string]string) (string, *Resolver) {
	t.Helper()
	root := testutil.TestVault(t, files)
	var paths []string
	for rel := range files {
		if filepath.Ext(rel) == models.DocExt {
			paths = append(paths, testutil.Path(root, rel))
		}
	}
	return root, New(root, NewIndex(paths))
}

func wiki(source, text string) *models.Link {
	return &models.Link{Source: source, Kind: models.LinkWiki, Text: text}
}

func md(source, text string) *models.Link {
	return &models.Link{Source: source, Kind: models.LinkMarkdown, Text: text}
}

func TestResolveWiki_PrefersSameDirectory(t *testing.T) {
	root, r := newResolver(t, map[string]string{
		"a/topic.md":  "",
		"b/topic.md":  "",
		"b/source.md": "",
	})
	l := r.Resolve(wiki(testutil.Path(root, "b/source.md"), "topic"))
	if l.Broken || l.Target != testutil.Path(root, "b/topic.md") {
		t.Errorf("target = %q broken=%v, want b/topic.md", l.Target, l.Broken)
	}

	// From elsewhere the lexicographically first candidate wins.
	l = r.Resolve(wiki(testutil.Path(root, "root.md"), "topic"))
	if l.Target != testutil.Path(root, "a/topic.md") {
		t.Errorf("target = %q, want a/topic.md", l.Target)
	}
}

func TestResolveWiki_CaseInsensitive(t *testing.T) {
	root, r := newResolver(t, map[string]string{"Project Plan.md": "", "src.md": ""})
	l := r.Resolve(wiki(testutil.Path(root, "src.md"), "project plan"))
	if l.Broken || l.Target != testutil.Path(root, "Project Plan.md") {
		t.Errorf("target = %q broken=%v", l.Target, l.Broken)
	}
}

func TestResolveWiki_SubPath(t *testing.T) {
	root, r := newResolver(t, map[string]string{
		"deep/notes/x.md": "",
		"deep/src.md":     "",
		"other/y.md":      "",
	})
	// Relative to the source directory.
	l := r.Resolve(wiki(testutil.Path(root, "deep/src.md"), "notes/x"))
	if l.Target != testutil.Path(root, "deep/notes/x.md") {
		t.Errorf("source-relative target = %q", l.Target)
	}
	// Relative to the root.
	l = r.Resolve(wiki(testutil.Path(root, "deep/src.md"), "other/y"))
	if l.Target != testutil.Path(root, "other/y.md") {
		t.Errorf("root-relative target = %q", l.Target)
	}
}

func TestResolveWiki_SubstringSameDirFirst(t *testing.T) {
	root, r := newResolver(t, map[string]string{
		"a/meeting-2023.md": "",
		"b/meeting-2024.md": "",
		"b/src.md":          "",
	})
	l := r.Resolve(wiki(testutil.Path(root, "b/src.md"), "Meeting"))
	if l.Target != testutil.Path(root, "b/meeting-2024.md") {
		t.Errorf("target = %q, want same-dir substring match", l.Target)
	}
	// Global substring fallback from a directory without a match.
	l = r.Resolve(wiki(testutil.Path(root, "c.md"), "2023"))
	if l.Target != testutil.Path(root, "a/meeting-2023.md") {
		t.Errorf("target = %q, want global substring match", l.Target)
	}
}

func TestResolveWiki_FragmentAndExtension(t *testing.T) {
	root, r := newResolver(t, map[string]string{"note.md": "", "src.md": ""})
	src := testutil.Path(root, "src.md")
	if l := r.Resolve(wiki(src, "note#Section")); l.Target != testutil.Path(root, "note.md") {
		t.Errorf("fragment target = %q", l.Target)
	}
	if l := r.Resolve(wiki(src, "note.md")); l.Target != testutil.Path(root, "note.md") {
		t.Errorf("extension target = %q", l.Target)
	}
	if l := r.Resolve(wiki(src, "#local")); l.Target != src || l.Broken {
		t.Errorf("anchor target = %q", l.Target)
	}
}

func TestResolveWiki_Missing(t *testing.T) {
	root, r := newResolver(t, map[string]string{"a.md": ""})
	l := r.Resolve(wiki(testutil.Path(root, "a.md"), "missing-note"))
	if !l.Broken || l.Target != "" {
		t.Errorf("target = %q broken=%v, want unresolved", l.Target, l.Broken)
	}
}

func TestResolveWiki_IndexedButDeletedIsBroken(t *testing.T) {
	root, _ := newResolver(t, map[string]string{"src.md": ""})
	ghost := testutil.Path(root, "ghost.md")
	r := New(root, NewIndex([]string{ghost}))
	l := r.Resolve(wiki(testutil.Path(root, "src.md"), "ghost"))
	if l.Target != ghost || !l.Broken {
		t.Errorf("target = %q broken=%v, want ghost and broken", l.Target, l.Broken)
	}
}

func TestResolveMarkdown(t *testing.T) {
	root, r := newResolver(t, map[string]string{
		"dir/src.md":   "",
		"dir/other.md": "",
		"dir/plain":    "",
		"up.md":        "",
		"My Note.md":   "",
	})
	src := testutil.Path(root, "dir/src.md")
	cases := []struct {
		ref  string
		want string
	}{
		{"#heading", src},
		{"other.md", testutil.Path(root, "dir/other.md")},
		{"other", testutil.Path(root, "dir/other.md")},
		{"other.md#part", testutil.Path(root, "dir/other.md")},
		{"plain.md", testutil.Path(root, "dir/plain")},
		{"../up.md", testutil.Path(root, "up.md")},
		{"../My%20Note.md", testutil.Path(root, "My Note.md")},
		{"/up.md", testutil.Path(root, "up.md")},
	}
	for _, c := range cases {
		l := r.Resolve(md(src, c.ref))
		if l.Target != c.want || l.Broken {
			t.Errorf("%q: target = %q broken=%v, want %q", c.ref, l.Target, l.Broken, c.want)
		}
	}
}

func TestResolveMarkdown_OutsideRootRejected(t *testing.T) {
	outer := t.TempDir()
	testutil.WriteFile(t, outer, "escape.md", "")
	root := filepath.Join(outer, "root")
	testutil.WriteFile(t, root, "src.md", "")
	r := New(root, NewIndex(nil))
	l := r.Resolve(md(filepath.Join(root, "src.md"), "../escape.md"))
	if !l.Broken || l.Target != "" {
		t.Errorf("target = %q broken=%v, want rejected", l.Target, l.Broken)
	}
}

func TestIndex_AddRemove(t *testing.T) {
	idx := NewIndex([]string{"/r/Foo.md", "/r/x/foo.md"})
	if got := idx.Lookup("Foo"); len(got) != 1 {
		t.Errorf("Foo bucket = %v", got)
	}
	if got := idx.Lookup("foo"); len(got) != 2 {
		t.Errorf("foo bucket = %v, want both paths", got)
	}

	idx.Add("/r/Foo.md") // duplicate
	if got := idx.Lookup("foo"); len(got) != 2 {
		t.Errorf("duplicate add changed bucket: %v", got)
	}

	idx.Remove("/r/Foo.md")
	if got := idx.Lookup("Foo"); got != nil {
		t.Errorf("Foo bucket should be pruned, got %v", got)
	}
	if got := idx.Lookup("foo"); len(got) != 1 || got[0] != "/r/x/foo.md" {
		t.Errorf("foo bucket = %v", got)
	}
	if idx.Contains("/r/Foo.md") || idx.Len() != 1 {
		t.Errorf("Contains/Len inconsistent: len=%d", idx.Len())
	}
}

func TestResolver_UpdateMakesNewFileResolvable(t *testing.T) {
	root, r := newResolver(t, map[string]string{"src.md": ""})
	src := testutil.Path(root, "src.md")
	if l := r.Resolve(wiki(src, "fresh")); !l.Broken {
		t.Fatal("expected broken before update")
	}
	fresh := testutil.WriteFile(t, root, "sub/fresh.md", "")
	r.Update([]string{fresh}, nil)
	if l := r.Resolve(wiki(src, "fresh")); l.Broken || l.Target != fresh {
		t.Errorf("target = %q broken=%v after update", l.Target, l.Broken)
	}
}
