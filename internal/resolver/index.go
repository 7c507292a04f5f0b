// Package resolver maps raw link references to document paths.
package resolver

import (
	"path/filepath"
	"strings"

	"github.com/tidwall/btree"
)

// Index maps document stems, exact and lowercased, to every path sharing
// that stem. Buckets and stems iterate in lexicographic order, which makes
// every tie-break in Resolve deterministic.
//
// An Index is owned by whoever builds it and is not safe for concurrent
// mutation.
type Index struct {
	stems btree.Map[string, *btree.Set[string]]
	paths btree.Set[string]
}

// NewIndex returns an index over paths.
func NewIndex(paths []string) *Index {
	idx := &Index{}
	idx.Add(paths...)
	return idx
}

// Stem returns the file name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Add indexes paths. Adding a path twice is a no-op.
func (idx *Index) Add(paths ...string) {
	for _, p := range paths {
		stem := Stem(p)
		idx.insert(stem, p)
		if lower := strings.ToLower(stem); lower != stem {
			idx.insert(lower, p)
		}
		idx.paths.Insert(p)
	}
}

// Remove drops paths from their buckets and prunes emptied buckets.
func (idx *Index) Remove(paths ...string) {
	for _, p := range paths {
		stem := Stem(p)
		idx.delete(stem, p)
		idx.delete(strings.ToLower(stem), p)
		idx.paths.Delete(p)
	}
}

// Lookup returns the paths filed under key, sorted.
func (idx *Index) Lookup(key string) []string {
	bucket, ok := idx.stems.Get(key)
	if !ok {
		return nil
	}
	return keys(bucket)
}

// Contains reports whether path is indexed.
func (idx *Index) Contains(path string) bool {
	return idx.paths.Contains(path)
}

// Paths returns every indexed path, sorted.
func (idx *Index) Paths() []string {
	return keys(&idx.paths)
}

// Len returns the number of indexed paths.
func (idx *Index) Len() int {
	return idx.paths.Len()
}

// Scan calls fn for every stem key in order with the first path of its
// bucket, until fn returns false.
func (idx *Index) Scan(fn func(stem, first string) bool) {
	idx.stems.Scan(func(stem string, bucket *btree.Set[string]) bool {
		paths := keys(bucket)
		if len(paths) == 0 {
			return true
		}
		return fn(stem, paths[0])
	})
}

func (idx *Index) insert(key, path string) {
	bucket, ok := idx.stems.Get(key)
	if !ok {
		bucket = &btree.Set[string]{}
		idx.stems.Set(key, bucket)
	}
	bucket.Insert(path)
}

func (idx *Index) delete(key, path string) {
	bucket, ok := idx.stems.Get(key)
	if !ok {
		return
	}
	bucket.Delete(path)
	if bucket.Len() == 0 {
		idx.stems.Delete(key)
	}
}

func keys(set *btree.Set[string]) []string {
	out := make([]string, 0, set.Len())
	set.Scan(func(p string) bool {
		out = append(out, p)
		return true
	})
	return out
}
