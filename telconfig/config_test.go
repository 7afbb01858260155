package telconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/telconfig"
	"github.com/stretchr/testify/require"
)

func TestParseYAML(t *testing.T) {
	t.Parallel()

	f, err := telconfig.ParseYAML([]byte(`
enabled: false
max_entries: 250
max_body_bytes: 1024
ignore_paths: [/telescope, /healthz]
watchers:
  queries: false
ids: uuid
`))
	require.NoError(t, err)
	require.NotNil(t, f.Enabled)
	require.False(t, *f.Enabled)
	require.Equal(t, 250, f.MaxEntries)
	require.Equal(t, []string{"/telescope", "/healthz"}, f.IgnorePaths)
	require.Equal(t, map[string]bool{"queries": false}, f.Watchers)

	cfg := telescope.DefaultConfig()
	f.Apply(&cfg)
	require.False(t, cfg.Enabled)
	require.Equal(t, 250, cfg.MaxEntries)
	require.Equal(t, 1024, cfg.MaxBodyBytes)
	require.False(t, cfg.Watching(telescope.CategoryQueries))
	require.Len(t, cfg.NewID(), 36)
}

func TestParseYAMLEmpty(t *testing.T) {
	t.Parallel()

	f, err := telconfig.ParseYAML(nil)
	require.NoError(t, err)

	cfg := telescope.DefaultConfig()
	f.Apply(&cfg)
	require.True(t, cfg.Enabled)
	require.Equal(t, telescope.DefaultMaxEntries, cfg.MaxEntries)
}

func TestParseYAMLInvalid(t *testing.T) {
	t.Parallel()

	for name, data := range map[string]string{
		"unknown field":    "max_entrys: 10",
		"negative":         "max_entries: -1",
		"relative path":    "ignore_paths: [telescope]",
		"unknown watcher":  "watchers: {metrics: true}",
		"unknown ids":      "ids: sequential",
		"malformed":        "max_entries: [",
		"wrong value type": "max_entries: many",
	} {
		_, err := telconfig.ParseYAML([]byte(data))
		require.Error(t, err, name)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TESTTEL_ENABLED", "true")
	t.Setenv("TESTTEL_MAX_ENTRIES", "500")
	t.Setenv("TESTTEL_IGNORE_PATHS", "/telescope, /healthz")
	t.Setenv("TESTTEL_WATCHERS__LOGS", "false")
	t.Setenv("TESTTEL_WATCHERS__CLIENT_REQUESTS", "false")

	f, err := telconfig.FromEnv("TESTTEL_")
	require.NoError(t, err)
	require.NotNil(t, f.Enabled)
	require.True(t, *f.Enabled)
	require.Equal(t, 500, f.MaxEntries)
	require.Equal(t, []string{"/telescope", "/healthz"}, f.IgnorePaths)
	require.Equal(t, map[string]bool{"logs": false, "client-requests": false}, f.Watchers)

	cfg := telescope.DefaultConfig()
	f.Apply(&cfg)
	require.False(t, cfg.Watching(telescope.CategoryClientRequests))
	require.True(t, cfg.Watching(telescope.CategoryQueries))
}

func TestFromEnvInvalid(t *testing.T) {
	t.Setenv("BADTEL_IDS", "sequential")

	_, err := telconfig.FromEnv("BADTEL_")
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telescope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_entries: 10\nmax_body_bytes: 99\n"), 0o600))

	t.Setenv("LOADTEL_MAX_ENTRIES", "20")

	cfg, err := telconfig.Load(path, "LOADTEL_")
	require.NoError(t, err)
	require.Equal(t, 20, cfg.MaxEntries)
	require.Equal(t, 99, cfg.MaxBodyBytes)
	require.True(t, cfg.Enabled)

	_, err = telconfig.Load(filepath.Join(dir, "missing.yaml"), "")
	require.Error(t, err)
}

func TestMerge(t *testing.T) {
	t.Parallel()

	yes, no := true, false
	base := telconfig.File{Enabled: &yes, MaxEntries: 1, Watchers: map[string]bool{"logs": false}}
	merged := base.Merge(telconfig.File{Enabled: &no, Watchers: map[string]bool{"queries": false}})

	require.False(t, *merged.Enabled)
	require.Equal(t, 1, merged.MaxEntries)
	require.Equal(t, map[string]bool{"logs": false, "queries": false}, merged.Watchers)
	require.Equal(t, map[string]bool{"logs": false}, base.Watchers)
}
