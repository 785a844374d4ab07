package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether a field failed validation.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateSession(&c.Session)...)
	errs = append(errs, validateDevices(&c.Devices)...)
	errs = append(errs, validateWindows(c.Windows)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateBus(&c.Bus)...)
	errs = append(errs, validateControl(&c.Control)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateSession(s *SessionConfig) ValidationErrors {
	var errs ValidationErrors
	if s.QueueSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "session.queue_size",
			Message: "queue size must be at least 1",
		})
	}
	if s.SubscriberBuffer < 1 {
		errs = append(errs, ValidationError{
			Field:   "session.subscriber_buffer",
			Message: "subscriber buffer must be at least 1",
		})
	}
	return errs
}

func validateDevices(d *DevicesConfig) ValidationErrors {
	var errs ValidationErrors
	for i, path := range d.Paths {
		if strings.TrimSpace(path) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("devices.paths[%d]", i),
				Message: "path cannot be empty",
			})
		}
	}
	if d.Width <= 0 || d.Height <= 0 {
		errs = append(errs, ValidationError{
			Field:   "devices.width",
			Message: "surface size must be positive",
		})
	}
	if d.EventSize != 16 && d.EventSize != 24 {
		errs = append(errs, ValidationError{
			Field:   "devices.event_size",
			Message: fmt.Sprintf("invalid event size %d (valid: 16, 24)", d.EventSize),
		})
	}
	return errs
}

func validateWindows(ws []WindowConfig) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[uint32]bool, len(ws))
	for i, w := range ws {
		if w.Scale <= 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("windows[%d].scale", i),
				Message: "scale factor must be positive",
			})
		}
		if seen[w.Surface] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("windows[%d].surface", i),
				Message: fmt.Sprintf("surface %d mapped twice", w.Surface),
			})
		}
		seen[w.Surface] = true
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors
	if s.Enabled && s.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: "database path is required when storage is enabled",
		})
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}
	return errs
}

func validateBus(b *BusConfig) ValidationErrors {
	if !b.Enabled {
		return nil
	}
	var errs ValidationErrors
	if strings.Count(b.Name, ".") < 1 {
		errs = append(errs, ValidationError{
			Field:   "bus.name",
			Message: fmt.Sprintf("invalid bus name %q", b.Name),
		})
	}
	if !strings.HasPrefix(b.Path, "/") {
		errs = append(errs, ValidationError{
			Field:   "bus.path",
			Message: "object path must start with /",
		})
	}
	return errs
}

func validateControl(c *ControlConfig) ValidationErrors {
	if !c.Enabled {
		return nil
	}
	var errs ValidationErrors
	if c.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "control.socket_path",
			Message: "socket path is required when control is enabled",
		})
	}
	if _, err := strconv.ParseUint(c.Permissions, 8, 32); err != nil {
		errs = append(errs, ValidationError{
			Field:   "control.permissions",
			Message: fmt.Sprintf("invalid octal permissions %q", c.Permissions),
		})
	}
	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	if !m.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		return ValidationErrors{{
			Field:   "metrics.listen",
			Message: fmt.Sprintf("invalid listen address %q", m.Listen),
		}}
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output writes a file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	return errs
}
