package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBridge(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.validateSlicing(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateBridge() error {
	parsed, err := url.Parse(c.Bridge.URL)
	if err != nil {
		return fmt.Errorf("bridge.url: %w", err)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("bridge.url must use ws:// or wss://, got %q", c.Bridge.URL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("bridge.url must include a host, got %q", c.Bridge.URL)
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.ConnectTimeoutSeconds <= 0 {
		return errors.New("session.connect_timeout_seconds must be positive")
	}
	if c.Session.CommandTimeoutSeconds <= 0 {
		return errors.New("session.command_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.ScheduleIntervalMS <= 0 {
		return errors.New("queue.schedule_interval_ms must be positive")
	}
	if c.Queue.ChunkSize <= 0 {
		return errors.New("queue.chunk_size must be positive")
	}
	if c.Queue.ProgressSteps <= 0 || c.Queue.ProgressSteps > 100 {
		return errors.New("queue.progress_steps must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	if c.Discovery.Enabled && c.Discovery.IntervalMS <= 0 {
		return errors.New("discovery.interval_ms must be positive when discovery is enabled")
	}
	return nil
}

func (c *Config) validateSlicing() error {
	if c.Slicing.PortStart <= 0 || c.Slicing.PortStart > 65535 {
		return fmt.Errorf("slicing.port_start out of range: %d", c.Slicing.PortStart)
	}
	if c.Slicing.PortMax < c.Slicing.PortStart || c.Slicing.PortMax > 65535 {
		return fmt.Errorf("slicing.port_max must be between port_start and 65535, got %d", c.Slicing.PortMax)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Bind == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
