package logging_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"printlink/internal/logging"
	"printlink/internal/services"
)

func newFileLogger(t *testing.T) (string, func() string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	return path, func() string {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		return string(data)
	}
}

func TestConsoleLoggerRendersComponentAndDevice(t *testing.T) {
	path, read := newFileLogger(t)
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger = logging.NewComponentLogger(logger, "session")
	logger.Info("connected", logging.String(logging.FieldDeviceID, "4f1c2a7e-0000-0000-0000-000000000000"), logging.Int("attempt", 2))

	content := read()
	if !strings.Contains(content, "INFO session [device 4f1c2a7e]: connected") {
		t.Fatalf("unexpected console line: %q", content)
	}
	if !strings.Contains(content, "attempt=2") {
		t.Fatalf("expected attrs in console line: %q", content)
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no source at info level: %q", content)
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	path, read := newFileLogger(t)
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := services.WithDeviceID(context.Background(), "dev-1")
	ctx = services.WithRequestID(ctx, "req-9")
	logging.WithContext(ctx, logger).Debug("report")

	content := read()
	for _, fragment := range []string{`"device_id":"dev-1"`, `"correlation_id":"req-9"`, `"level":"debug"`, `"ts":`} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %s in %q", fragment, content)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	path, read := newFileLogger(t)
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "device error", "device_error", logging.String(logging.FieldImpact, "print paused"))

	content := read()
	for _, fragment := range []string{"event_type=device_error", "error_hint=", `impact="print paused"`} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %s in %q", fragment, content)
		}
	}
}

func TestWarnWithContextAttachesErrorLabel(t *testing.T) {
	path, read := newFileLogger(t)
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	cause := services.Wrap(services.ErrAuthFailed, "session", "touch", "credential rejected", nil)
	logging.WarnWithContext(logger, "touch failed", "touch_failed", logging.Error(cause))

	content := read()
	if !strings.Contains(content, `"error_label":"AUTH_FAILED"`) {
		t.Fatalf("expected error label in %q", content)
	}
}

func TestPruneLogsHonorsRetentionAndKeep(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.log")
	active := filepath.Join(dir, "active.log")
	fresh := filepath.Join(dir, "fresh.log")
	for _, p := range []string{old, active, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	past := time.Now().AddDate(0, 0, -10)
	for _, p := range []string{old, active} {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.PruneLogs(logging.NewNop(), dir, "*.log", 5, active)
	if removed != 1 {
		t.Fatalf("expected one file pruned, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	for _, p := range []string{active, fresh} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s kept: %v", p, err)
		}
	}
}
