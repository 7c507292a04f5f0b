package resolver

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/notegraph/internal/models"
)

// Resolver fills the target of parsed links against a stem Index.
type Resolver struct {
	root  string
	index *Index
}

// New returns a resolver for documents under root. The resolver reads and
// mutates index; the caller keeps ownership of it.
func New(root string, index *Index) *Resolver {
	if index == nil {
		index = NewIndex(nil)
	}
	return &Resolver{root: filepath.Clean(root), index: index}
}

// Index returns the stem index backing the resolver.
func (r *Resolver) Index() *Index {
	return r.index
}

// Update applies file additions and removals to the index.
func (r *Resolver) Update(added, removed []string) {
	r.index.Remove(removed...)
	r.index.Add(added...)
}

// Resolve sets l.Target and l.Broken. A link is broken when no candidate was
// found or the candidate is not an existing file right now.
func (r *Resolver) Resolve(l *models.Link) *models.Link {
	var target string
	switch l.Kind {
	case models.LinkWiki:
		target = r.resolveWiki(l.Text, l.Source)
	case models.LinkMarkdown:
		target = r.resolveMarkdown(l.Text, l.Source)
	}
	l.Target = target
	l.Broken = target == "" || !isFile(target)
	return l
}

// resolveWiki tries, in order: an explicit sub-path, an exact stem, a
// case-insensitive stem, a substring of a stem in the source directory, and
// a substring of any indexed stem.
func (r *Resolver) resolveWiki(ref, source string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		if i == 0 {
			return source
		}
		ref = strings.TrimSpace(ref[:i])
	}
	ref = strings.TrimSuffix(ref, models.DocExt)
	if ref == "" {
		return ""
	}
	srcDir := filepath.Dir(source)

	if strings.Contains(ref, "/") {
		rel := filepath.FromSlash(ref) + models.DocExt
		for _, base := range []string{srcDir, r.root} {
			cand := filepath.Join(base, rel)
			if r.within(cand) && isFile(cand) {
				return cand
			}
		}
	}

	if p := preferDir(r.index.Lookup(ref), srcDir); p != "" {
		return p
	}

	lower := strings.ToLower(ref)
	if p := preferDir(r.index.Lookup(lower), srcDir); p != "" {
		return p
	}

	if p := substringInDir(lower, srcDir); p != "" {
		return p
	}

	var found string
	r.index.Scan(func(stem, first string) bool {
		if strings.Contains(strings.ToLower(stem), lower) {
			found = first
			return false
		}
		return true
	})
	return found
}

// resolveMarkdown resolves a [text](target) reference relative to the source
// document. Candidates outside the root are never accepted.
func (r *Resolver) resolveMarkdown(ref, source string) string {
	if strings.HasPrefix(ref, "#") {
		return source
	}
	if i := strings.IndexByte(ref, '#'); i > 0 {
		ref = ref[:i]
	}
	if unescaped, err := url.PathUnescape(ref); err == nil {
		ref = unescaped
	}
	if ref == "" {
		return ""
	}

	base := filepath.Dir(source)
	if strings.HasPrefix(ref, "/") {
		base = r.root
	}
	target := filepath.Join(base, filepath.FromSlash(ref))
	if !r.within(target) {
		return ""
	}

	if filepath.Ext(target) == models.DocExt && isFile(target) {
		return target
	}
	if withExt := target + models.DocExt; isFile(withExt) {
		return withExt
	}
	if stripped, ok := strings.CutSuffix(target, models.DocExt); ok && isFile(stripped) {
		return stripped
	}
	if isFile(target) {
		return target
	}
	if swapped := strings.TrimSuffix(target, filepath.Ext(target)) + models.DocExt; isFile(swapped) {
		return swapped
	}
	return ""
}

func (r *Resolver) within(path string) bool {
	path = filepath.Clean(path)
	return path == r.root || strings.HasPrefix(path, r.root+string(os.PathSeparator))
}

// preferDir returns the first candidate in dir, else the first candidate.
func preferDir(candidates []string, dir string) string {
	if len(candidates) == 0 {
		return ""
	}
	for _, c := range candidates {
		if filepath.Dir(c) == dir {
			return c
		}
	}
	return candidates[0]
}

// substringInDir scans the documents directly inside dir, in name order, for
// a stem containing lower.
func substringInDir(lower, dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, models.DocExt) {
			continue
		}
		if strings.Contains(strings.ToLower(Stem(name)), lower) {
			return filepath.Join(dir, name)
		}
	}
	return ""
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
