// Package cache persists a built graph per indexed root and reloads it while
// the root's file timestamps are unchanged.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/starford/notegraph/internal/checksum"
	"github.com/starford/notegraph/internal/metrics"
	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/storage"
)

const (
	snapshotExt = ".db"
	metaExt     = ".meta.json"
	hashLen     = 8
)

// Fingerprint maps each document's relative path to its modification time
// in Unix nanoseconds.
type Fingerprint map[string]int64

// Equal reports whether both fingerprints hold the same paths with the same
// timestamps.
func (f Fingerprint) Equal(other Fingerprint) bool {
	if len(f) != len(other) {
		return false
	}
	for p, ts := range f {
		if got, ok := other[p]; !ok || got != ts {
			return false
		}
	}
	return true
}

// Meta is the sidecar record written next to each snapshot.
type Meta struct {
	Version     string      `json:"version"`
	Created     time.Time   `json:"created"`
	Root        string      `json:"notes_root"`
	NodeCount   int         `json:"notes_count"`
	Fingerprint Fingerprint `json:"file_timestamps"`
}

// Stats describes the cache files of one root.
type Stats struct {
	SnapshotFile string    `json:"snapshot_file"`
	MetaFile     string    `json:"meta_file"`
	SizeBytes    int64     `json:"size_bytes"`
	Created      time.Time `json:"created"`
	NodeCount    int       `json:"notes_count"`
	Version      string    `json:"version"`
}

// Manager owns the cache files of one indexed root. It assumes a single
// process uses the cache directory at a time.
type Manager struct {
	notes  *storage.FS
	files  *storage.FS
	base   string
	logger *slog.Logger
}

// New returns a manager storing files for the root of notes under dir,
// which is created if missing.
func New(notes *storage.FS, dir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	files, err := storage.NewFS(dir, storage.WithLogger(logger), storage.WithExtension(metaExt))
	if err != nil {
		return nil, err
	}
	return &Manager{
		notes:  notes,
		files:  files,
		base:   BaseName(notes.Root()),
		logger: logger,
	}, nil
}

// BaseName derives the cache file prefix for root: its base name plus a
// short hash of the full path.
func BaseName(root string) string {
	return filepath.Base(root) + "_" + checksum.Short([]byte(root), hashLen)
}

// SnapshotPath returns the path of the serialized graph.
func (m *Manager) SnapshotPath() string {
	return filepath.Join(m.files.Root(), m.base+snapshotExt)
}

// MetaPath returns the path of the sidecar record.
func (m *Manager) MetaPath() string {
	return filepath.Join(m.files.Root(), m.base+metaExt)
}

// Fingerprint walks the root and records every document's timestamp.
func (m *Manager) Fingerprint() (Fingerprint, error) {
	list, err := m.notes.List("")
	if err != nil {
		return nil, fmt.Errorf("cache: fingerprint: %w", err)
	}
	fp := make(Fingerprint, len(list))
	for _, f := range list {
		fp[f.RelPath] = f.ModTime.UnixNano()
	}
	return fp, nil
}

// Load returns the cached graph when the snapshot is readable, carries the
// current schema version and its fingerprint matches the root exactly. Any
// other condition is a miss.
func (m *Manager) Load() (*models.KnowledgeGraph, bool) {
	meta, err := m.readMeta()
	if err != nil {
		m.miss("miss", err)
		return nil, false
	}
	fp, err := m.Fingerprint()
	if err != nil {
		m.miss("miss", err)
		return nil, false
	}
	if !meta.Fingerprint.Equal(fp) {
		m.miss("stale", errors.New("fingerprint changed"))
		return nil, false
	}
	g, err := m.readSnapshot()
	if err != nil {
		m.miss("miss", err)
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return g, true
}

// LoadStale returns the cached graph and its sidecar regardless of the
// fingerprint, for incremental patching.
func (m *Manager) LoadStale() (*models.KnowledgeGraph, *Meta, bool) {
	meta, err := m.readMeta()
	if err != nil {
		m.logger.Debug("cache: no stale snapshot", slog.String("error", err.Error()))
		return nil, nil, false
	}
	g, err := m.readSnapshot()
	if err != nil {
		m.logger.Debug("cache: no stale snapshot", slog.String("error", err.Error()))
		return nil, nil, false
	}
	return g, meta, true
}

// Changes compares the root against a stored fingerprint. changed holds
// added and modified documents, removed holds documents no longer present;
// both are absolute paths, sorted.
func (m *Manager) Changes(stored Fingerprint) (changed, removed []string, err error) {
	current, err := m.Fingerprint()
	if err != nil {
		return nil, nil, err
	}
	for rel, ts := range current {
		if old, ok := stored[rel]; !ok || old != ts {
			changed = append(changed, filepath.Join(m.notes.Root(), rel))
		}
	}
	for rel := range stored {
		if _, ok := current[rel]; !ok {
			removed = append(removed, filepath.Join(m.notes.Root(), rel))
		}
	}
	sort.Strings(changed)
	sort.Strings(removed)
	return changed, removed, nil
}

// Save replaces the cache with g. On failure both files are removed and the
// error is returned.
func (m *Manager) Save(g *models.KnowledgeGraph) error {
	if err := m.save(g); err != nil {
		m.Clear()
		metrics.CacheSaveFailures.Inc()
		return fmt.Errorf("cache: save: %w", err)
	}
	m.logger.Debug("cache: saved", slog.String("path", m.SnapshotPath()), slog.Int("nodes", len(g.Nodes)))
	return nil
}

func (m *Manager) save(g *models.KnowledgeGraph) error {
	fp, err := m.Fingerprint()
	if err != nil {
		return err
	}
	m.Clear()

	snap, err := createSnapshot(m.SnapshotPath())
	if err != nil {
		return err
	}
	if err := snap.writeGraph(g); err != nil {
		snap.Close()
		return err
	}
	if err := snap.Close(); err != nil {
		return fmt.Errorf("cache: close snapshot: %w", err)
	}

	data, err := json.MarshalIndent(Meta{
		Version:     SchemaVersion,
		Created:     time.Now(),
		Root:        m.notes.Root(),
		NodeCount:   len(g.Nodes),
		Fingerprint: fp,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: encode meta: %w", err)
	}
	return m.files.Write(m.base+metaExt, data)
}

// Clear removes the cache files, ignoring errors.
func (m *Manager) Clear() {
	for _, name := range []string{m.base + snapshotExt, m.base + snapshotExt + "-journal", m.base + metaExt} {
		if err := m.files.Delete(name); err != nil {
			m.logger.Debug("cache: clear", slog.String("file", name), slog.String("error", err.Error()))
		}
	}
}

// Stats describes the cache files, or reports false when there is no
// usable cache.
func (m *Manager) Stats() (*Stats, bool) {
	meta, err := m.readMeta()
	if err != nil {
		return nil, false
	}
	info, err := os.Stat(m.SnapshotPath())
	if err != nil {
		return nil, false
	}
	return &Stats{
		SnapshotFile: m.SnapshotPath(),
		MetaFile:     m.MetaPath(),
		SizeBytes:    info.Size(),
		Created:      meta.Created,
		NodeCount:    meta.NodeCount,
		Version:      meta.Version,
	}, true
}

func (m *Manager) readMeta() (*Meta, error) {
	data, err := m.files.Read(m.base + metaExt)
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("cache: decode meta: %w", err)
	}
	if meta.Version != SchemaVersion {
		return nil, fmt.Errorf("cache: meta version %q, want %q", meta.Version, SchemaVersion)
	}
	if meta.Root != m.notes.Root() {
		return nil, fmt.Errorf("cache: meta root %q, want %q", meta.Root, m.notes.Root())
	}
	return &meta, nil
}

func (m *Manager) readSnapshot() (*models.KnowledgeGraph, error) {
	snap, err := openSnapshot(m.SnapshotPath())
	if err != nil {
		return nil, err
	}
	defer snap.Close()
	return snap.readGraph()
}

func (m *Manager) miss(result string, err error) {
	metrics.CacheLookups.WithLabelValues(result).Inc()
	m.logger.Debug("cache: "+result, slog.String("root", m.notes.Root()), slog.String("error", err.Error()))
}
