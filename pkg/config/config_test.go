package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observa/pulse/pkg/export"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Listen)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 1000, cfg.Store.MaxEvents)
	assert.Equal(t, time.Minute, cfg.Exporter.FlushInterval)
}

func TestLoadParsesDestinations(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
destinations:
  - name: dd
    type: datadog
    enabled: true
    url: https://api.datadoghq.com/api/v1/series
    auth:
      kind: api-key
      header_name: DD-API-KEY
      header_value: secret
  - name: hook
    type: webhook
    url: http://collector.internal/ingest
    format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	require.Len(t, cfg.Destinations, 2)
	assert.Equal(t, export.TypeDataDog, cfg.Destinations[0].Type)
	assert.Equal(t, "DD-API-KEY", cfg.Destinations[0].Auth.HeaderName)
	assert.Equal(t, export.FormatJSON, cfg.Destinations[1].Format)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing file", ""},
		{"bad yaml", "listen: [unclosed"},
		{"nameless destination", "destinations:\n  - type: webhook\n    url: http://x\n"},
		{"duplicate names", "destinations:\n  - name: a\n    type: webhook\n    url: http://x\n  - name: a\n    type: webhook\n    url: http://y\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var path string
			if tt.content == "" {
				path = filepath.Join(t.TempDir(), "absent.yaml")
			} else {
				path = writeConfig(t, tt.content)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestValidateEmptyListen(t *testing.T) {
	cfg := Default()
	cfg.Listen = ""
	assert.Error(t, cfg.Validate())
}

func TestDestinationWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "listen: \":8090\"\n")

	var reloads atomic.Int32
	watcher, err := NewDestinationWatcher(path, func(p string) error {
		assert.Equal(t, path, p)
		reloads.Add(1)
		return nil
	}, nil)
	require.NoError(t, err)
	watcher.debounceTime = 20 * time.Millisecond

	require.NoError(t, watcher.Start(t.Context()))
	t.Cleanup(func() { _ = watcher.Stop() })
	require.True(t, watcher.IsRunning())

	require.NoError(t, os.WriteFile(path, []byte("listen: \":9001\"\n"), 0o644))

	assert.Eventually(t, func() bool {
		return reloads.Load() >= 1
	}, 3*time.Second, 25*time.Millisecond)
}

func TestDestinationWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":8090\"\n"), 0o644))

	var reloads atomic.Int32
	watcher, err := NewDestinationWatcher(path, func(string) error {
		reloads.Add(1)
		return nil
	}, nil)
	require.NoError(t, err)
	watcher.debounceTime = 20 * time.Millisecond

	require.NoError(t, watcher.Start(t.Context()))
	t.Cleanup(func() { _ = watcher.Stop() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, reloads.Load())
}
