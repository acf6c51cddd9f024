// Package config loads and stores quest configuration in the XDG config dir.
// Only non-secret settings are kept here; connection DSNs go to the OS keychain.
// The loaded Config is passed explicitly to the engine and checker constructors.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quest/cli/internal/xdg"
)

// Drivers understood by sqlexec.NewConn.
const (
	DriverPgx = "pgx"
	DriverPQ  = "pq"
)

// Config holds non-sensitive settings.
type Config struct {
	LogLevel string `json:"log_level"`
	// Driver selects the session implementation: "pgx" (native) or "pq" (database/sql).
	Driver      string         `json:"driver"`
	Engine      EngineConfig   `json:"engine"`
	Liveness    LivenessConfig `json:"liveness"`
	DisplayRows int            `json:"display_rows"`
	// Connections lists saved connection names; their DSNs live in the keychain.
	Connections []Connection `json:"connections"`
}

// EngineConfig sizes the execution engine.
type EngineConfig struct {
	PageSize         int `json:"page_size"`
	Workers          int `json:"workers"`
	CloseGraceMillis int `json:"close_grace_millis"`
}

// LivenessConfig controls the connection validity checker.
type LivenessConfig struct {
	ProbeTimeoutSecs int `json:"probe_timeout_secs"`
	// IntervalSecs of zero derives the interval from the probe timeout.
	IntervalSecs int `json:"interval_secs"`
	Parallelism  int `json:"parallelism"`
}

// Connection is a saved connection entry.
type Connection struct {
	Name    string `json:"name"`
	Default bool   `json:"default,omitempty"`
}

// Defaults returns the configuration used when no file exists.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Driver:   DriverPgx,
		Engine: EngineConfig{
			PageSize:         1000,
			Workers:          4,
			CloseGraceMillis: 2000,
		},
		Liveness: LivenessConfig{
			ProbeTimeoutSecs: 10,
		},
		DisplayRows: 1000,
	}
}

// ProbeTimeout returns the per-probe validity timeout.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Liveness.ProbeTimeoutSecs) * time.Second
}

// CheckInterval returns the liveness period, three probe timeouts unless set explicitly,
// so a single slow probe cannot starve the cycle.
func (c Config) CheckInterval() time.Duration {
	if c.Liveness.IntervalSecs > 0 {
		return time.Duration(c.Liveness.IntervalSecs) * time.Second
	}
	return 3 * c.ProbeTimeout()
}

// CloseGrace returns how long engine shutdown waits for workers.
func (c Config) CloseGrace() time.Duration {
	return time.Duration(c.Engine.CloseGraceMillis) * time.Millisecond
}

// DefaultConnection returns the name of the default connection, or the only one saved.
func (c Config) DefaultConnection() (string, bool) {
	for _, conn := range c.Connections {
		if conn.Default {
			return conn.Name, true
		}
	}
	if len(c.Connections) == 1 {
		return c.Connections[0].Name, true
	}
	return "", false
}

// AddConnection registers name, replacing an existing entry. Marking it default clears the
// flag on every other entry.
func (c *Config) AddConnection(name string, isDefault bool) {
	out := c.Connections[:0]
	for _, conn := range c.Connections {
		if conn.Name == name {
			continue
		}
		if isDefault {
			conn.Default = false
		}
		out = append(out, conn)
	}
	c.Connections = append(out, Connection{Name: name, Default: isDefault})
}

// RemoveConnection drops name and reports whether it was present.
func (c *Config) RemoveConnection(name string) bool {
	for i, conn := range c.Connections {
		if conn.Name == name {
			c.Connections = append(c.Connections[:i], c.Connections[i+1:]...)
			return true
		}
	}
	return false
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	switch c.Driver {
	case DriverPgx, DriverPQ:
	default:
		errs = append(errs, fmt.Errorf("driver %q: must be %q or %q", c.Driver, DriverPgx, DriverPQ))
	}
	if c.Engine.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("engine.page_size must be positive, got %d", c.Engine.PageSize))
	}
	if c.Engine.Workers <= 0 {
		errs = append(errs, fmt.Errorf("engine.workers must be positive, got %d", c.Engine.Workers))
	}
	if c.Engine.CloseGraceMillis < 0 {
		errs = append(errs, fmt.Errorf("engine.close_grace_millis must not be negative"))
	}
	if c.Liveness.ProbeTimeoutSecs <= 0 {
		errs = append(errs, fmt.Errorf("liveness.probe_timeout_secs must be positive, got %d", c.Liveness.ProbeTimeoutSecs))
	}
	if c.Liveness.IntervalSecs < 0 || c.Liveness.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("liveness.interval_secs and liveness.parallelism must not be negative"))
	}
	if c.DisplayRows <= 0 {
		errs = append(errs, fmt.Errorf("display_rows must be positive, got %d", c.DisplayRows))
	}
	for _, conn := range c.Connections {
		if strings.TrimSpace(conn.Name) == "" {
			errs = append(errs, errors.New("connections: empty name"))
		}
	}
	return errors.Join(errs...)
}

// path returns the path to the config file.
func path() (string, error) {
	dir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads configuration; missing file returns defaults.
func Load() (Config, error) {
	p, err := path()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(p)
}

// LoadFile reads configuration from p. Fields absent from the file keep their defaults.
func LoadFile(p string) (Config, error) {
	c := Defaults()
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", p, err)
	}
	return c, nil
}

// Save writes configuration with 0600 permissions.
func Save(c Config) error {
	p, err := path()
	if err != nil {
		return err
	}
	return SaveFile(p, c)
}

// SaveFile writes configuration to p with 0600 permissions.
func SaveFile(p string, c Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o600)
}
