package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse_Full(t *testing.T) {
	data := []byte(`
collection: favorites
local_dsn: sqlite:///var/lib/flocksync/data.db
remote_dsn: postgres://flock@db/flock?sslmode=disable
session_file: /run/flocksync/session.yaml
refresh_interval: 1m30s
windows:
  tombstone_filter: 1500ms
  suppression: 45s
aliases:
  Crumbles: starter
log_level: debug
metrics_addr: ":9464"
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "favorites", cfg.Collection)
	assert.Equal(t, "sqlite:///var/lib/flocksync/data.db", cfg.LocalDSN)
	assert.Equal(t, "postgres://flock@db/flock?sslmode=disable", cfg.RemoteDSN)
	assert.Equal(t, "/run/flocksync/session.yaml", cfg.SessionFile)
	assert.Equal(t, 90*time.Second, cfg.RefreshInterval.Std())
	assert.Equal(t, 1500*time.Millisecond, cfg.Windows.TombstoneFilter.Std())
	assert.Equal(t, 10*time.Second, cfg.Windows.TombstonePurge.Std(), "absent keys keep defaults")
	assert.Equal(t, 45*time.Second, cfg.Windows.Suppression.Std())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9464", cfg.MetricsAddr)
	assert.Equal(t, "starter", cfg.Normalizer().Normalize("crumbles"))
}

func TestParse_EmptyIsDefault(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "unknown key", data: "colection: feeds\n"},
		{name: "bad duration", data: "refresh_interval: soon\n"},
		{name: "numeric duration", data: "refresh_interval: 30\n"},
		{name: "bad log level", data: "log_level: loud\n"},
		{name: "empty collection", data: "collection: \"\"\n"},
		{name: "unknown window", data: "windows:\n  grace: 1s\n"},
		{name: "default without id", data: "defaults:\n  - category: starter\n"},
		{name: "not yaml", data: "collection: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flocksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("collection: calculations\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "calculations", cfg.Collection)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestBundledDefaults(t *testing.T) {
	recs, err := BundledDefaults()
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	seen := map[string]bool{}
	for _, r := range recs {
		assert.NotEmpty(t, r.ID)
		assert.NotEmpty(t, r.Category)
		assert.False(t, r.IsCustom)
		assert.NotEmpty(t, r.Field("name"))
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
	}
}

func TestDefaultRecords_Override(t *testing.T) {
	cfg, err := Parse([]byte(`
defaults:
  - id: d1
    category: Grower
    name: Custom grower
`))
	require.NoError(t, err)

	recs, err := cfg.DefaultRecords()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "d1", recs[0].ID)
	assert.Equal(t, "Grower", recs[0].Category)
	assert.Equal(t, "Custom grower", recs[0].Field("name"))
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(Windows{Suppression: Duration(30 * time.Second)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "suppression: 30s")

	var w Windows
	require.NoError(t, yaml.Unmarshal(out, &w))
	assert.Equal(t, 30*time.Second, w.Suppression.Std())
}
