package telescope

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Default configuration values.
const (
	DefaultMaxEntries   = 1000
	DefaultMaxBodyBytes = 64 * 1024
)

// Config for a telescope. Start from DefaultConfig, as the zero value of
// Enabled is false.
type Config struct {
	// Enabled turns all recording on or off. When false, every record
	// operation is a no-op, and middlewares don't open request scopes.
	Enabled bool

	// MaxEntries is the capacity of each category's collection.
	// Zero or less means DefaultMaxEntries.
	MaxEntries int

	// IgnorePaths are URL path prefixes of incoming requests which should
	// not be recorded at all. Only the path is compared, never the query.
	IgnorePaths []string

	// Watchers turns recording of individual categories on or off.
	// Categories which are missing from the map are on.
	Watchers map[Category]bool

	// MaxBodyBytes bounds the size of captured request and response bodies.
	// Zero or less means DefaultMaxBodyBytes.
	MaxBodyBytes int

	// Logger receives diagnostics about the telescope itself, such as
	// failures to record an entry. It never receives recorded entries.
	// The zero value discards everything.
	Logger zerolog.Logger

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time

	// NewID returns a new unique entry id. Nil means NewULID.
	NewID func() string
}

// DefaultConfig returns a config with recording enabled, every watcher on,
// and default capacities.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxEntries:   DefaultMaxEntries,
		Watchers:     map[Category]bool{},
		MaxBodyBytes: DefaultMaxBodyBytes,
		Logger:       zerolog.Nop(),
		Now:          time.Now,
		NewID:        NewULID,
	}
}

// Watching returns true if the given category should be recorded, which
// requires the config to be enabled and the category watcher to be on.
func (cfg Config) Watching(c Category) bool {
	if !cfg.Enabled {
		return false
	}
	on, ok := cfg.Watchers[c]
	return !ok || on
}

// Ignored returns true if the path is under one of the IgnorePaths.
func (cfg Config) Ignored(path string) bool {
	for _, prefix := range cfg.IgnorePaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// normalize fills in defaults, and copies reference fields, so that callers
// can't mutate the config after handing it to a telescope.
func (cfg Config) normalize() Config {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = NewULID
	}

	watchers := make(map[Category]bool, len(cfg.Watchers))
	for c, on := range cfg.Watchers {
		watchers[c] = on
	}
	cfg.Watchers = watchers

	cfg.IgnorePaths = append([]string(nil), cfg.IgnorePaths...)

	return cfg
}
