package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notegraph/internal/noteservice"
)

// MaxWorkers bounds notes.workers.
const MaxWorkers = 256

var listenAddrRe = regexp.MustCompile(`^[^\s:]*:\d{1,5}$`)

// Config represents the application configuration.
type Config struct {
	App   ApplicationConfig `yaml:"app"`
	Notes NotesConfig       `yaml:"notes"`
	Cache CacheConfig       `yaml:"cache"`
	Serve ServeConfig       `yaml:"serve"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Notes.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	return c.Serve.Validate()
}

// ServiceOptions converts the configuration into noteservice options.
func (c *Config) ServiceOptions() noteservice.Options {
	return noteservice.Options{
		Root:        c.Notes.Root,
		Workers:     c.Notes.Workers,
		UseCache:    c.Cache.Enabled,
		CacheDir:    c.Cache.Dir,
		Incremental: c.Cache.Incremental,
	}
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// NotesConfig locates the notes to index.
type NotesConfig struct {
	Root    string `yaml:"root"`
	Workers int    `yaml:"workers"`
}

// Validate validates the notes configuration.
func (c *NotesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(MaxWorkers)),
	)
}

// CacheConfig controls the on-disk graph cache.
type CacheConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dir         string `yaml:"dir"`
	Incremental bool   `yaml:"incremental"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.When(c.Enabled, validation.Required)),
	)
}

// ServeConfig holds settings used only by the serve command.
type ServeConfig struct {
	// MetricsAddress enables the /metrics and /health endpoints when set,
	// e.g. ":9090".
	MetricsAddress string `yaml:"metrics_address"`
}

// Validate validates the serve configuration.
func (c *ServeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MetricsAddress, validation.Match(listenAddrRe).Error("must be host:port")),
	)
}

// DefaultCacheDir returns ~/.notegraph/cache, or a directory under the
// system temp dir when there is no home directory.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "notegraph", "cache")
	}
	return filepath.Join(home, ".notegraph", "cache")
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Notes: NotesConfig{
			Root:    ".",
			Workers: 8,
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     DefaultCacheDir(),
		},
	}
}
