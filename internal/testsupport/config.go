package testsupport

import (
	"path/filepath"
	"testing"

	"printlink/internal/config"
)

// ConfigOption adjusts a generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig returns the default config rooted in a fresh temp directory,
// with discovery off and short session timeouts.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.Paths{
		LogDir:     filepath.Join(base, "logs"),
		StateDir:   filepath.Join(base, "state"),
		OutputDir:  filepath.Join(base, "output"),
		SocketPath: filepath.Join(base, "printlink.sock"),
	}
	cfg.Discovery.Enabled = false
	cfg.Session.ConnectTimeoutSeconds = 2
	cfg.Session.CommandTimeoutSeconds = 5
	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithBridgeURL points the config at a bridge, usually an httptest server or
// the devicetest fleet.
func WithBridgeURL(url string) ConfigOption {
	return func(cfg *config.Config) { cfg.Bridge.URL = url }
}

// BaseDir returns the temp directory a NewConfig result lives in.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
