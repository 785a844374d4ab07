package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, 24, cfg.Devices.EventSize)
	require.Len(t, cfg.Windows, 1)
	assert.Equal(t, 1.0, cfg.Windows[0].Scale)
}

func TestConfigPath(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("config lives in the data dir on darwin")
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "tabletd", "config.toml"), ConfigPath())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Session, cfg.Session)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "toml",
			file: "config.toml",
			body: `
version = 1

[session]
queue_size = 32
subscriber_buffer = 8

[[windows]]
surface = 7
window = 70
scale = 2.0
`,
		},
		{
			name: "json",
			file: "config.json",
			body: `{"version":1,"session":{"queue_size":32,"subscriber_buffer":8},"windows":[{"surface":7,"window":70,"scale":2.0}]}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			body: `
version: 1
session:
  queue_size: 32
  subscriber_buffer: 8
windows:
  - surface: 7
    window: 70
    scale: 2.0
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0600))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 32, cfg.Session.QueueSize)
			assert.Equal(t, "seat0", cfg.Session.Seat, "unset keys keep defaults")
			require.Len(t, cfg.Windows, 1)
			assert.Equal(t, WindowConfig{Surface: 7, Window: 70, Scale: 2}, cfg.Windows[0])
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, ext := range SupportedConfigFormats() {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config."+ext)
			cfg := DefaultConfig()
			cfg.Devices.Paths = []string{"/dev/input/event5"}
			cfg.Windows = append(cfg.Windows, WindowConfig{Surface: 2, Window: 9, Scale: 1.25})
			require.NoError(t, Save(cfg, path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Devices.Paths, loaded.Devices.Paths)
			assert.Equal(t, cfg.Windows, loaded.Windows)
			assert.Equal(t, cfg.Logging, loaded.Logging)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TABLETD_DEVICES", "/dev/input/event3, /dev/input/event4")
	t.Setenv("TABLETD_DB_PATH", "/tmp/tabletd.db")
	t.Setenv("TABLETD_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, []string{"/dev/input/event3", "/dev/input/event4"}, cfg.Devices.Paths)
	assert.False(t, cfg.Devices.Autodetect)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, "/tmp/tabletd.db", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidationErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.QueueSize = 0
	cfg.Devices.EventSize = 20
	cfg.Windows = []WindowConfig{{Surface: 1, Window: 1, Scale: 0}, {Surface: 1, Window: 2, Scale: 1}}
	cfg.Logging.Level = "loud"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "nope"

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	for _, field := range []string{
		"session.queue_size",
		"devices.event_size",
		"windows[0].scale",
		"windows[1].surface",
		"logging.level",
		"metrics.listen",
	} {
		assert.True(t, verrs.Has(field), field)
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices.Paths = []string{"/dev/input/event1"}
	clone := cfg.Clone()

	clone.Devices.Paths[0] = "changed"
	clone.Windows[0].Scale = 3

	assert.Equal(t, "/dev/input/event1", cfg.Devices.Paths[0])
	assert.Equal(t, 1.0, cfg.Windows[0].Scale)
}

func TestLoaderHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(DefaultConfig(), path))

	loader := NewLoader(path)
	loader.debounce = 50 * time.Millisecond
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 8)
	loader.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	require.NoError(t, loader.Watch())
	defer loader.Close()

	cfg := DefaultConfig()
	cfg.Windows[0].Scale = 2
	require.NoError(t, Save(cfg, path))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-changed:
			// A reload may observe the truncated file first.
			if got.Windows[0].Scale != 2 {
				continue
			}
			assert.Equal(t, 2.0, loader.Config().Windows[0].Scale)
			return
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestLoaderRejectsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[session]\nqueue_size = 0\n"), 0600))

	_, err := NewLoader(path).Load()
	assert.Error(t, err)
}
