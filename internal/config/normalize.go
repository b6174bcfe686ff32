package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBridge()
	if err := c.normalizeSlicing(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.SocketPath, err = expandPath(strings.TrimSpace(c.Paths.SocketPath)); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeBridge() {
	if value, ok := os.LookupEnv("PRINTLINK_BRIDGE_URL"); ok && strings.TrimSpace(value) != "" {
		c.Bridge.URL = value
	}
	c.Bridge.URL = strings.TrimRight(strings.TrimSpace(c.Bridge.URL), "/")
	if c.Bridge.URL == "" {
		c.Bridge.URL = defaultBridgeURL
	}
	if c.Bridge.HandshakeTimeoutSeconds <= 0 {
		c.Bridge.HandshakeTimeoutSeconds = defaultHandshakeTimeoutSeconds
	}
}

func (c *Config) normalizeSlicing() error {
	c.Slicing.Engine = strings.ToLower(strings.TrimSpace(c.Slicing.Engine))
	if c.Slicing.Engine == "" {
		c.Slicing.Engine = defaultSlicingEngine
	}
	c.Slicing.BackendBinary = strings.TrimSpace(c.Slicing.BackendBinary)
	if c.Slicing.BackendBinary == "" {
		c.Slicing.BackendBinary = defaultBackendBinary
	}
	if strings.TrimSpace(c.Slicing.SlicerPath) != "" {
		var err error
		if c.Slicing.SlicerPath, err = expandPath(strings.TrimSpace(c.Slicing.SlicerPath)); err != nil {
			return fmt.Errorf("slicing.slicer_path: %w", err)
		}
	}
	if c.Slicing.PortStart == 0 {
		c.Slicing.PortStart = defaultSlicingPortStart
	}
	if c.Slicing.PortMax == 0 {
		c.Slicing.PortMax = defaultSlicingPortMax
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if value, ok := os.LookupEnv("PRINTLINK_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.API.Token = value
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
