// Package models defines the domain types shared by the parser, resolver,
// graph, search and cache packages.
package models

import (
	"path/filepath"
	"slices"
	"time"
)

// DocExt is the file extension of indexed documents.
const DocExt = ".md"

// LinkKind is the syntax a link was written in.
type LinkKind string

// Link kinds.
const (
	LinkWiki     LinkKind = "wiki"     // [[target]] or [[target|display]]
	LinkMarkdown LinkKind = "markdown" // [display](target)
	LinkTag      LinkKind = "tag"      // #tag
)

// Heading is a Markdown heading. Immutable once parsed.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
	Line  int    `json:"line"`
	Slug  string `json:"slug"`
}

// Link is a reference from one document to another.
//
// The parser creates links with Target empty; the resolver fills Target and
// Broken exactly once. An empty Target means the reference did not resolve.
type Link struct {
	Source  string   `json:"source"`
	Target  string   `json:"target,omitempty"`
	Kind    LinkKind `json:"kind"`
	Text    string   `json:"text"`
	Display string   `json:"display,omitempty"`
	Context string   `json:"context,omitempty"`
	Line    int      `json:"line"`
	Broken  bool     `json:"broken"`
}

// Document is one parsed file. Path is the unique key across a graph.
type Document struct {
	Path      string         `json:"path"`
	RelPath   string         `json:"rel_path"`
	Title     string         `json:"title"`
	Headings  []Heading      `json:"headings,omitempty"`
	Links     []*Link        `json:"links,omitempty"`
	Tags      []string       `json:"tags,omitempty"` // sorted, unique
	Metadata  map[string]any `json:"metadata,omitempty"`
	ModTime   time.Time      `json:"mod_time"`
	WordCount int            `json:"word_count"`
}

// Dir returns the directory holding the document.
func (d *Document) Dir() string {
	return filepath.Dir(d.Path)
}

// HasTag reports whether the document carries tag.
func (d *Document) HasTag(tag string) bool {
	_, ok := slices.BinarySearch(d.Tags, tag)
	return ok
}

// FileInfo describes one document file found by a directory walk.
type FileInfo struct {
	Path    string    `json:"path"`
	RelPath string    `json:"rel_path"`
	ModTime time.Time `json:"mod_time"`
}
