package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	LogDir     string `toml:"log_dir"`
	StateDir   string `toml:"state_dir"`
	OutputDir  string `toml:"output_dir"`
	SocketPath string `toml:"socket_path"`
}

// Bridge describes the local bridge service that exposes device and slicing
// channels over websockets.
type Bridge struct {
	URL                     string `toml:"url"`
	HandshakeTimeoutSeconds int    `toml:"handshake_timeout_seconds"`
}

// Session contains device session timing.
type Session struct {
	ConnectTimeoutSeconds int `toml:"connect_timeout_seconds"`
	CommandTimeoutSeconds int `toml:"command_timeout_seconds"`
}

// Queue contains command queue scheduling and upload framing settings.
type Queue struct {
	ScheduleIntervalMS int `toml:"schedule_interval_ms"`
	ChunkSize          int `toml:"chunk_size"`
	ProgressSteps      int `toml:"progress_steps"`
}

// Discovery contains configuration for the device discovery feed.
type Discovery struct {
	Enabled    bool `toml:"enabled"`
	IntervalMS int  `toml:"interval_ms"`
	USBHotplug bool `toml:"usb_hotplug"`
}

// Slicing contains configuration for the slicing backend.
type Slicing struct {
	Engine        string `toml:"engine"`
	LaunchBackend bool   `toml:"launch_backend"`
	BackendBinary string `toml:"backend_binary"`
	SlicerPath    string `toml:"slicer_path"`
	PortStart     int    `toml:"port_start"`
	PortMax       int    `toml:"port_max"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	DeviceErrors   bool   `toml:"device_errors"`
}

// API contains configuration for the read-only HTTP status API.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for Printlink.
//
// Configuration sections by subsystem:
//   - Paths: log, state, and output directories plus the daemon socket
//   - Bridge: websocket endpoint of the local bridge service
//   - Session: device connect and command timeouts
//   - Queue: command scheduling interval and upload chunk framing
//   - Discovery: discovery feed cadence and USB hotplug rescans
//   - Slicing: slicing engine and optional backend launcher
//   - Notifications: ntfy push notification settings
//   - API: optional HTTP status endpoint and its bearer token
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Bridge        Bridge        `toml:"bridge"`
	Session       Session       `toml:"session"`
	Queue         Queue         `toml:"queue"`
	Discovery     Discovery     `toml:"discovery"`
	Slicing       Slicing       `toml:"slicing"`
	Notifications Notifications `toml:"notifications"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("printlink.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir, c.Paths.OutputDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the daemon JSON-RPC socket location.
func (c *Config) SocketPath() string {
	if strings.TrimSpace(c.Paths.SocketPath) != "" {
		return c.Paths.SocketPath
	}
	return filepath.Join(c.Paths.LogDir, "printlink.sock")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "printlink.lock")
}

// PIDPath returns the file holding the daemon process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.LogDir, "printlink.pid")
}

// CatalogPath returns the sqlite device catalog location.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.Paths.StateDir, "devices.db")
}

// ConnectTimeout returns the per-attempt device connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Session.ConnectTimeoutSeconds) * time.Second
}

// CommandTimeout returns the upper bound for a single device command.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Session.CommandTimeoutSeconds) * time.Second
}

// HandshakeTimeout returns the websocket handshake timeout.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Bridge.HandshakeTimeoutSeconds) * time.Second
}

// ScheduleInterval returns the command queue scheduler tick.
func (c *Config) ScheduleInterval() time.Duration {
	return time.Duration(c.Queue.ScheduleIntervalMS) * time.Millisecond
}

// DiscoveryInterval returns the discovery snapshot cadence.
func (c *Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Discovery.IntervalMS) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
