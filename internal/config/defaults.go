package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// PlatformDataDir returns the directory tabletd keeps its journal in.
//
// Platform paths:
//   - Linux:   ~/.local/share/tabletd/
//   - macOS:   ~/Library/Application Support/tabletd/
//
// TABLETD_DATA_DIR overrides both.
func PlatformDataDir() string {
	if envDir := os.Getenv("TABLETD_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "tabletd")
	default:
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "tabletd")
		}
		return filepath.Join(home, ".local", "share", "tabletd")
	}
}

// PlatformConfigDir returns the directory config.toml is looked up in.
func PlatformConfigDir() string {
	if runtime.GOOS == "darwin" {
		return PlatformDataDir()
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tabletd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tabletd")
}

// PlatformStateDir holds logs.
func PlatformStateDir() string {
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, "tabletd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "tabletd")
}

// PlatformRuntimeDir holds the control socket.
func PlatformRuntimeDir() string {
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "tabletd")
	}
	return filepath.Join(os.TempDir(), "tabletd-"+strconv.Itoa(os.Getuid()))
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// SupportedConfigFormats lists the accepted config file extensions.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches the working directory and then the config
// directory. It returns "" when nothing is found.
func FindConfigFile() string {
	for _, dir := range []string{".", PlatformConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
