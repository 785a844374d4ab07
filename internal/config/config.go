// Package config handles configuration loading, validation, and management for tabletd.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tabletd/internal/security"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Session configures the processing loop.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Devices selects the evdev tablets to read.
	Devices DevicesConfig `toml:"devices" json:"devices" yaml:"devices"`

	// Windows is the static surface to window table.
	Windows []WindowConfig `toml:"windows" json:"windows" yaml:"windows"`

	// Storage configures the sqlite event journal.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Bus configures the D-Bus signal publisher.
	Bus BusConfig `toml:"bus" json:"bus" yaml:"bus"`

	// Control configures the unix control socket.
	Control ControlConfig `toml:"control" json:"control" yaml:"control"`

	// Metrics configures the HTTP metrics endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	mu sync.RWMutex
}

// SessionConfig holds processing loop settings.
type SessionConfig struct {
	// Seat names the seat in logs and bus signals.
	Seat string `toml:"seat" json:"seat" yaml:"seat"`

	// QueueSize is the capacity of the notification queue.
	QueueSize int `toml:"queue_size" json:"queue_size" yaml:"queue_size"`

	// SubscriberBuffer is the per-subscriber event buffer. Events are
	// dropped for subscribers that fall this far behind.
	SubscriberBuffer int `toml:"subscriber_buffer" json:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// DevicesConfig holds evdev input settings.
type DevicesConfig struct {
	// Autodetect scans /proc/bus/input/devices for pen tablets.
	Autodetect bool `toml:"autodetect" json:"autodetect" yaml:"autodetect"`

	// Hotplug watches /dev/input while autodetecting and opens tablets
	// plugged in later.
	Hotplug bool `toml:"hotplug" json:"hotplug" yaml:"hotplug"`

	// Paths lists explicit /dev/input/event* nodes.
	Paths []string `toml:"paths" json:"paths" yaml:"paths"`

	// Grab takes exclusive access to each device.
	Grab bool `toml:"grab" json:"grab" yaml:"grab"`

	// Surface is the surface id every device reports proximity on.
	Surface uint32 `toml:"surface" json:"surface" yaml:"surface"`

	// Width and Height are the logical surface size the device
	// axes are scaled onto.
	Width  float64 `toml:"width" json:"width" yaml:"width"`
	Height float64 `toml:"height" json:"height" yaml:"height"`

	// EventSize is the kernel input_event size: 24 on 64-bit, 16 on
	// 32-bit time layouts.
	EventSize int `toml:"event_size" json:"event_size" yaml:"event_size"`
}

// WindowConfig maps one surface onto a window.
type WindowConfig struct {
	Surface uint32  `toml:"surface" json:"surface" yaml:"surface"`
	Window  uint64  `toml:"window" json:"window" yaml:"window"`
	Scale   float64 `toml:"scale" json:"scale" yaml:"scale"`
}

// StorageConfig holds journal settings.
type StorageConfig struct {
	// Enabled turns the sqlite journal on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the path to the database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// BusConfig holds D-Bus publisher settings.
type BusConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Name    string `toml:"name" json:"name" yaml:"name"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// ControlConfig holds control socket settings.
type ControlConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the octal file mode of the socket.
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`
}

// MetricsConfig holds metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" json:"listen" yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr, file or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Session: SessionConfig{
			Seat:             "seat0",
			QueueSize:        256,
			SubscriberBuffer: 64,
		},
		Devices: DevicesConfig{
			Autodetect: true,
			Hotplug:    true,
			Paths:      []string{},
			Surface:    1,
			Width:      1920,
			Height:     1080,
			EventSize:  24,
		},
		Windows: []WindowConfig{
			{Surface: 1, Window: 1, Scale: 1.0},
		},
		Storage: StorageConfig{
			Enabled:       false,
			Path:          filepath.Join(PlatformDataDir(), "events.db"),
			BusyTimeoutMs: 5000,
		},
		Bus: BusConfig{
			Enabled: false,
			Name:    "org.tabletd.Pointer",
			Path:    "/org/tabletd/Pointer",
		},
		Control: ControlConfig{
			Enabled:     true,
			SocketPath:  filepath.Join(PlatformRuntimeDir(), "tabletd.sock"),
			Permissions: "0600",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformStateDir(), "tabletd.log"),
			MaxSizeMB:  50,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration in the format implied by the extension.
// Unknown extensions are written as TOML.
func Save(cfg *Config, path string) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var sb strings.Builder
		sb.WriteString("# tabletd configuration\n\n")
		err = toml.NewEncoder(&sb).Encode(cfg)
		data = []byte(sb.String())
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := security.WriteFileAtomic(path, data, security.PermPrivateFile); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Logging.FilePath)}
	if c.Storage.Enabled {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Control.Enabled {
		dirs = append(dirs, filepath.Dir(c.Control.SocketPath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with TABLETD_.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("TABLETD_DEVICES"); v != "" {
		c.Devices.Paths = splitList(v)
		c.Devices.Autodetect = false
	}
	if v := os.Getenv("TABLETD_DB_PATH"); v != "" {
		c.Storage.Path = v
		c.Storage.Enabled = true
	}
	if v := os.Getenv("TABLETD_SOCKET_PATH"); v != "" {
		c.Control.SocketPath = v
	}
	if v := os.Getenv("TABLETD_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
		c.Metrics.Enabled = true
	}
	if v := os.Getenv("TABLETD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TABLETD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version: c.Version,
		Session: c.Session,
		Devices: c.Devices,
		Storage: c.Storage,
		Bus:     c.Bus,
		Control: c.Control,
		Metrics: c.Metrics,
		Logging: c.Logging,
	}
	clone.Devices.Paths = append([]string{}, c.Devices.Paths...)
	clone.Windows = append([]WindowConfig{}, c.Windows...)
	return clone
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
