package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"printlink/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("PRINTLINK_BRIDGE_URL", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantLogs := filepath.Join(tempHome, ".local", "share", "printlink", "logs")
	if cfg.Paths.LogDir != wantLogs {
		t.Fatalf("unexpected log dir: got %q want %q", cfg.Paths.LogDir, wantLogs)
	}
	if cfg.SocketPath() != filepath.Join(wantLogs, "printlink.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.SocketPath())
	}
	if cfg.Bridge.URL != "ws://127.0.0.1:8000" {
		t.Fatalf("unexpected bridge url: %q", cfg.Bridge.URL)
	}
	if cfg.Queue.ChunkSize != 4096 {
		t.Fatalf("expected 4096 byte chunks, got %d", cfg.Queue.ChunkSize)
	}
	if cfg.Queue.ProgressSteps != 10 {
		t.Fatalf("expected 10 progress steps, got %d", cfg.Queue.ProgressSteps)
	}
	if cfg.ScheduleInterval().Milliseconds() != 10 {
		t.Fatalf("expected 10ms scheduler tick, got %s", cfg.ScheduleInterval())
	}
	if cfg.Slicing.PortStart != 8000 {
		t.Fatalf("expected slicing port start 8000, got %d", cfg.Slicing.PortStart)
	}
	if !cfg.Discovery.Enabled {
		t.Fatal("expected discovery enabled by default")
	}
}

func TestLoadCustomConfigOverridesValues(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("PRINTLINK_BRIDGE_URL", "")

	configPath := filepath.Join(tempHome, "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"log_dir":     "~/custom/logs",
			"socket_path": "~/run/printlink.sock",
		},
		"bridge": map[string]any{
			"url": "ws://10.0.0.5:9000/",
		},
		"queue": map[string]any{
			"chunk_size": 1024,
		},
		"slicing": map[string]any{
			"engine": " CURA ",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected explicit config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.LogDir != filepath.Join(tempHome, "custom", "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.SocketPath() != filepath.Join(tempHome, "run", "printlink.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.SocketPath())
	}
	if cfg.Bridge.URL != "ws://10.0.0.5:9000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Bridge.URL)
	}
	if cfg.Queue.ChunkSize != 1024 {
		t.Fatalf("unexpected chunk size: %d", cfg.Queue.ChunkSize)
	}
	if cfg.Slicing.Engine != "cura" {
		t.Fatalf("expected engine normalized, got %q", cfg.Slicing.Engine)
	}
}

func TestBridgeURLFromEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PRINTLINK_BRIDGE_URL", "ws://bridge.local:8100")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Bridge.URL != "ws://bridge.local:8100" {
		t.Fatalf("expected env bridge url, got %q", cfg.Bridge.URL)
	}
}

func TestAPITokenFromEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PRINTLINK_API_TOKEN", " secret ")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.API.Token != "secret" {
		t.Fatalf("expected env api token, got %q", cfg.API.Token)
	}
	if cfg.API.Bind != "" {
		t.Fatalf("expected api disabled by default, got bind %q", cfg.API.Bind)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"chunk size", func(c *config.Config) { c.Queue.ChunkSize = 0 }, "chunk_size"},
		{"progress steps", func(c *config.Config) { c.Queue.ProgressSteps = 0 }, "progress_steps"},
		{"schedule interval", func(c *config.Config) { c.Queue.ScheduleIntervalMS = -1 }, "schedule_interval_ms"},
		{"bridge scheme", func(c *config.Config) { c.Bridge.URL = "http://127.0.0.1:8000" }, "bridge.url"},
		{"port range", func(c *config.Config) { c.Slicing.PortMax = c.Slicing.PortStart - 1 }, "port_max"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"api bind", func(c *config.Config) { c.API.Bind = "no-port" }, "api.bind"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PRINTLINK_BRIDGE_URL", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Queue.ChunkSize != 4096 {
		t.Fatalf("unexpected sample chunk size: %d", cfg.Queue.ChunkSize)
	}
}
