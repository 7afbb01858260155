// Package telconfig loads telescope configuration from YAML files and from
// the environment.
package telconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/peterbourgon/telescope"
	"gopkg.in/yaml.v3"
)

// File is the serialized form of a telescope config. Zero values mean "not
// set", and leave the corresponding config field unchanged when applied.
type File struct {
	Enabled      *bool           `yaml:"enabled"        koanf:"enabled"`
	MaxEntries   int             `yaml:"max_entries"    koanf:"max_entries"    validate:"gte=0,lte=1000000"`
	MaxBodyBytes int             `yaml:"max_body_bytes" koanf:"max_body_bytes" validate:"gte=0"`
	IgnorePaths  []string        `yaml:"ignore_paths"   koanf:"ignore_paths"   validate:"dive,startswith=/"`
	Watchers     map[string]bool `yaml:"watchers"       koanf:"watchers"       validate:"dive,keys,oneof=requests client-requests exceptions logs queries,endkeys"`
	IDs          string          `yaml:"ids"            koanf:"ids"            validate:"omitempty,oneof=ulid uuid"`
}

var validate = validator.New()

// Validate returns an error if any field has an invalid value.
func (f File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Apply sets every field of cfg which is set in f.
func (f File) Apply(cfg *telescope.Config) {
	if f.Enabled != nil {
		cfg.Enabled = *f.Enabled
	}
	if f.MaxEntries > 0 {
		cfg.MaxEntries = f.MaxEntries
	}
	if f.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = f.MaxBodyBytes
	}
	if f.IgnorePaths != nil {
		cfg.IgnorePaths = append([]string(nil), f.IgnorePaths...)
	}
	if len(f.Watchers) > 0 {
		watchers := make(map[telescope.Category]bool, len(cfg.Watchers)+len(f.Watchers))
		for c, on := range cfg.Watchers {
			watchers[c] = on
		}
		for c, on := range f.Watchers {
			watchers[telescope.Category(c)] = on
		}
		cfg.Watchers = watchers
	}
	switch f.IDs {
	case "ulid":
		cfg.NewID = telescope.NewULID
	case "uuid":
		cfg.NewID = telescope.NewUUID
	}
}

// Merge returns f with every field which is set in other overridden.
func (f File) Merge(other File) File {
	if other.Enabled != nil {
		f.Enabled = other.Enabled
	}
	if other.MaxEntries > 0 {
		f.MaxEntries = other.MaxEntries
	}
	if other.MaxBodyBytes > 0 {
		f.MaxBodyBytes = other.MaxBodyBytes
	}
	if other.IgnorePaths != nil {
		f.IgnorePaths = other.IgnorePaths
	}
	if len(other.Watchers) > 0 {
		watchers := make(map[string]bool, len(f.Watchers)+len(other.Watchers))
		for c, on := range f.Watchers {
			watchers[c] = on
		}
		for c, on := range other.Watchers {
			watchers[c] = on
		}
		f.Watchers = watchers
	}
	if other.IDs != "" {
		f.IDs = other.IDs
	}
	return f
}

// ParseYAML parses and validates a YAML config. Unknown fields are an error.
// Empty input is a valid, empty config.
func ParseYAML(data []byte) (File, error) {
	var f File

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parse YAML: %w", err)
	}

	if err := f.Validate(); err != nil {
		return File{}, err
	}

	return f, nil
}

// FromEnv reads and validates a config from environment variables with the
// given prefix, e.g. TELESCOPE_. Variable names are the lowercased YAML keys,
// with a double underscore separating nested keys, and ignore paths given as
// a comma-separated list. Underscores in watcher names stand for hyphens.
//
//	TELESCOPE_ENABLED=true
//	TELESCOPE_MAX_ENTRIES=500
//	TELESCOPE_IGNORE_PATHS=/telescope,/healthz
//	TELESCOPE_WATCHERS__QUERIES=false
//	TELESCOPE_WATCHERS__CLIENT_REQUESTS=false
func FromEnv(prefix string) (File, error) {
	k := koanf.New(".")
	if err := k.Load(env.ProviderWithValue(prefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, prefix))
		key = strings.ReplaceAll(key, "__", ".")
		if category, ok := strings.CutPrefix(key, "watchers."); ok {
			key = "watchers." + strings.ReplaceAll(category, "_", "-")
		}
		if key == "ignore_paths" {
			var paths []string
			for _, p := range strings.Split(value, ",") {
				if p = strings.TrimSpace(p); p != "" {
					paths = append(paths, p)
				}
			}
			return key, paths
		}
		return key, value
	}), nil); err != nil {
		return File{}, fmt.Errorf("load environment: %w", err)
	}

	var f File
	if err := k.Unmarshal("", &f); err != nil {
		return File{}, fmt.Errorf("unmarshal environment: %w", err)
	}

	if err := f.Validate(); err != nil {
		return File{}, err
	}

	return f, nil
}

// Load returns the default config, with the YAML file at path applied, if path
// isn't empty, and then environment variables with the given prefix applied,
// if prefix isn't empty.
func Load(path, prefix string) (telescope.Config, error) {
	var f File

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return telescope.Config{}, fmt.Errorf("read config file: %w", err)
		}
		fromFile, err := ParseYAML(data)
		if err != nil {
			return telescope.Config{}, fmt.Errorf("%s: %w", path, err)
		}
		f = f.Merge(fromFile)
	}

	if prefix != "" {
		fromEnv, err := FromEnv(prefix)
		if err != nil {
			return telescope.Config{}, err
		}
		f = f.Merge(fromEnv)
	}

	cfg := telescope.DefaultConfig()
	f.Apply(&cfg)
	return cfg, nil
}
