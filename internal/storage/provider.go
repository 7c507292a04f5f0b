// Package storage defines the file-system abstraction over an indexed root.
package storage

import "github.com/starford/notegraph/internal/models"

// Provider is the interface for file operations under a root directory.
type Provider interface {
	// Root returns the absolute root directory.
	Root() string
	// List returns every non-hidden document under dir (relative to root).
	List(dir string) ([]models.FileInfo, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to root).
	Delete(path string) error
}
