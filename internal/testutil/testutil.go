// Package testutil provides shared test helpers for setting up note trees.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/notegraph/internal/storage"
)

// TestVault creates a temporary root holding files (relative path →
// content) and returns its absolute path.
func TestVault(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	// Resolve symlinked temp dirs (macOS /var → /private/var) so paths
	// compare equal to what filepath.Abs yields elsewhere.
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	for rel, content := range files {
		WriteFile(t, root, rel, content)
	}
	return root
}

// TestStore creates a vault like TestVault and wraps it in a storage.FS.
func TestStore(t *testing.T, files map[string]string) (string, *storage.FS) {
	t.Helper()
	root := TestVault(t, files)
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}

// WriteFile writes content to root/rel, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// Touch moves the modification time of root/rel forward by d.
func Touch(t *testing.T, root, rel string, d time.Duration) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	mt := info.ModTime().Add(d)
	if err := os.Chtimes(p, mt, mt); err != nil {
		t.Fatal(err)
	}
}

// Path joins rel onto root in OS form.
func Path(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}
