package slicing_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"printlink/internal/cmdqueue"
	"printlink/internal/services"
	"printlink/internal/slicing"
	"printlink/internal/testsupport"
	"printlink/internal/transport"
	"printlink/internal/transport/transporttest"
)

// fakeBackend answers the slicing vocabulary. Each report_slicing call pops
// the next scripted batch of progress frames.
type fakeBackend struct {
	mu       sync.Mutex
	models   map[string]bool
	reports  [][]map[string]any
	repeat   []map[string]any
	result   []byte
	pending  string
	expected int
	received int
	images   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{models: map[string]bool{}, result: []byte("FCx0001")}
}

func (b *fakeBackend) script(c *transporttest.Channel, frame transport.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if frame.Kind == transport.FrameBinary {
		b.received += len(frame.Data)
		if b.pending == "upload_image" {
			b.images++
		}
		if b.received >= b.expected {
			b.pending = ""
			c.EmitStatus("ok")
		}
		return
	}
	fields := strings.Fields(string(frame.Data))
	switch fields[0] {
	case "upload":
		size, _ := strconv.Atoi(fields[2])
		b.models[fields[1]] = true
		b.pending, b.expected, b.received = "upload", size, 0
		c.EmitStatus("continue")
	case "upload_image":
		size, _ := strconv.Atoi(fields[1])
		b.pending, b.expected, b.received = "upload_image", size, 0
		c.EmitStatus("continue")
	case "load_stl_from_path":
		b.models[fields[1]] = true
		c.EmitStatus("continue")
		c.EmitStatus("ok")
	case "set", "delete":
		if !b.models[fields[1]] {
			c.EmitJSON(map[string]any{"status": "error", "error": []any{"NAME_NOT_EXIST"}})
			return
		}
		if fields[0] == "delete" {
			delete(b.models, fields[1])
		}
		c.EmitStatus("ok")
	case "duplicate":
		b.models[fields[2]] = true
		c.EmitStatus("ok")
	case "change_engine", "advanced_setting", "begin_slicing", "end_slicing":
		c.EmitStatus("ok")
	case "go":
		c.EmitJSON(map[string]any{"status": "ok", "models": len(fields) - 2})
	case "report_slicing":
		batch := b.repeat
		if len(b.reports) > 0 {
			batch = b.reports[0]
			b.reports = b.reports[1:]
		}
		for _, frame := range batch {
			c.EmitJSON(frame)
		}
		c.EmitStatus("ok")
	case "get_result":
		c.EmitJSON(map[string]any{"status": "complete", "length": len(b.result)})
		c.EmitBinary(b.result)
	case "get_path":
		c.EmitJSON(map[string]any{"status": "ok", "path": "/opt/slic3r"})
	default:
		c.EmitError("UNKNOWN_COMMAND")
	}
}

func computing(pct float64) map[string]any {
	return map[string]any{"status": "computing", "message": "slicing", "percentage": pct}
}

func newClient(t *testing.T, backend *fakeBackend) (*slicing.Client, *transporttest.Channel) {
	t.Helper()
	ch := transporttest.New(backend.script)
	client := slicing.NewClient(ch, slicing.Options{
		CommandTimeout: 3 * time.Second,
		QueueOptions:   []cmdqueue.Option{cmdqueue.WithInterval(time.Millisecond)},
	})
	t.Cleanup(func() { _ = client.Close() })
	return client, ch
}

func TestCommandLines(t *testing.T) {
	backend := newFakeBackend()
	backend.models["cube"] = true
	client, ch := newClient(t, backend)
	ctx := context.Background()

	placement := slicing.Placement{
		Position: slicing.Vector{X: 1.5, Y: 2},
		Rotation: slicing.Vector{Z: 90},
		Scale:    slicing.Vector{X: 1, Y: 1, Z: 1},
	}
	if err := client.Set(ctx, "cube", placement); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := client.Duplicate(ctx, "cube", "cube2"); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if err := client.Delete(ctx, "cube2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := client.ChangeEngine(ctx, "cura"); err != nil {
		t.Fatalf("change engine: %v", err)
	}
	if err := client.SetParameter(ctx, "layer_height", "0.2"); err != nil {
		t.Fatalf("set parameter: %v", err)
	}
	if err := client.SetParameter(ctx, slicing.AdvancedSettings, "fill_density = 20%"); err != nil {
		t.Fatalf("set advanced: %v", err)
	}
	if err := client.SetParameter(ctx, slicing.AdvancedSettings, ""); err != nil {
		t.Fatalf("set empty advanced: %v", err)
	}
	if err := client.BeginSlicing(ctx, []string{"cube"}, ""); err != nil {
		t.Fatalf("begin slicing: %v", err)
	}
	resp, err := client.GoF(ctx, "cube", "cube")
	if err != nil {
		t.Fatalf("go: %v", err)
	}
	if n, _ := resp.Float("models"); n != 2 {
		t.Fatalf("expected go response with 2 models, got %v", resp.Fields)
	}
	if err := client.StopSlicing(ctx); err != nil {
		t.Fatalf("stop slicing: %v", err)
	}
	path, err := client.GetPath(ctx)
	if err != nil || path.String("path") != "/opt/slic3r" {
		t.Fatalf("get path: %v %v", path.Fields, err)
	}

	want := []string{
		"set cube 1.5 2 0 0 0 90 1 1 1",
		"duplicate cube cube2",
		"delete cube2",
		"change_engine cura default",
		"advanced_setting layer_height = 0.2",
		"advanced_setting fill_density = 20%",
		"advanced_setting advancedSettings = ",
		"begin_slicing cube -f",
		"go cube cube -f",
		"end_slicing",
		"get_path",
	}
	got := ch.TextSent()
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestUploadAnnouncesFormat(t *testing.T) {
	client, ch := newClient(t, newFakeBackend())
	ctx := context.Background()
	if err := client.Upload(ctx, "cube", slicing.FormatSTL, bytes.NewReader(testsupport.Payload(10000)), -1, nil); err != nil {
		t.Fatalf("upload stl: %v", err)
	}
	var updates []cmdqueue.Progress
	err := client.Upload(ctx, "mesh", slicing.FormatOBJ, bytes.NewReader(testsupport.Payload(64*1024)), 64*1024, func(p cmdqueue.Progress) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("upload obj: %v", err)
	}
	lines := ch.TextSent()
	if lines[0] != "upload cube 10000" || lines[1] != "upload mesh 65536 obj" {
		t.Fatalf("unexpected upload lines %q", lines)
	}
	total := 0
	for _, chunk := range ch.BinarySent() {
		total += len(chunk)
	}
	if total != 10000+64*1024 {
		t.Fatalf("expected %d bytes streamed, got %d", 10000+64*1024, total)
	}
	if len(updates) == 0 {
		t.Fatalf("expected progress updates for a multi-chunk upload")
	}
}

func TestUploadWithProgressReturnsPromptly(t *testing.T) {
	client, _ := newClient(t, newFakeBackend())
	var mu sync.Mutex
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- client.Upload(context.Background(), "cube", slicing.FormatSTL, bytes.NewReader(testsupport.Payload(32*1024)), 32*1024, func(cmdqueue.Progress) {
			mu.Lock()
			calls++
			mu.Unlock()
		})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("upload did not return after the backend acknowledged it")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Fatal("expected progress updates")
	}
}

func TestUploadViaPathEncodesPath(t *testing.T) {
	client, ch := newClient(t, newFakeBackend())
	if err := client.UploadViaPath(context.Background(), "cube", slicing.FormatSTL, "/tmp/my models/cube.stl"); err != nil {
		t.Fatalf("load via path: %v", err)
	}
	if got := ch.TextSent()[0]; got != "load_stl_from_path cube /tmp/my%20models/cube.stl" {
		t.Fatalf("unexpected line %q", got)
	}
}

func TestReportSlicingKeepsLatestFrame(t *testing.T) {
	backend := newFakeBackend()
	backend.reports = [][]map[string]any{
		{computing(0.2), computing(0.6)},
		{},
	}
	client, _ := newClient(t, backend)
	progress, err := client.ReportSlicing(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if progress.Percentage != 0.6 || progress.Status != slicing.StatusComputing {
		t.Fatalf("expected latest frame, got %+v", progress)
	}
	progress, err = client.ReportSlicing(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !progress.Empty {
		t.Fatalf("expected empty progress, got %+v", progress)
	}
}

func TestGetResultSkipsTextFrames(t *testing.T) {
	backend := newFakeBackend()
	client, _ := newClient(t, backend)
	data, err := client.GetResult(context.Background())
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if !bytes.Equal(data, backend.result) {
		t.Fatalf("expected result bytes, got %q", data)
	}
}

func TestUploadPreviewImageSendsOneFrame(t *testing.T) {
	backend := newFakeBackend()
	client, ch := newClient(t, backend)
	image := testsupport.Payload(9000)
	if err := client.UploadPreviewImage(context.Background(), image); err != nil {
		t.Fatalf("upload image: %v", err)
	}
	if got := ch.TextSent()[0]; got != "upload_image 9000" {
		t.Fatalf("unexpected line %q", got)
	}
	chunks := ch.BinarySent()
	if len(chunks) != 1 || !bytes.Equal(chunks[0], image) {
		t.Fatalf("expected the image as a single frame, got %d frames", len(chunks))
	}
}

func TestInvalidNamesAreNotSent(t *testing.T) {
	client, ch := newClient(t, newFakeBackend())
	ctx := context.Background()
	if err := client.Delete(ctx, "my cube"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := client.BeginSlicing(ctx, nil, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for no names, got %v", err)
	}
	if lines := ch.TextSent(); len(lines) != 0 {
		t.Fatalf("expected nothing sent, got %q", lines)
	}
}

func TestBackendErrorRejectsCommand(t *testing.T) {
	client, _ := newClient(t, newFakeBackend())
	err := client.Delete(context.Background(), "ghost")
	if err == nil {
		t.Fatalf("expected error deleting unknown model")
	}
	if label := services.Label(err); label != "NAME_NOT_EXIST" {
		t.Fatalf("expected NAME_NOT_EXIST label, got %q", label)
	}
	if err := client.ChangeEngine(context.Background(), "slic3r"); err != nil {
		t.Fatalf("expected queue to continue after error, got %v", err)
	}
}

func TestFatalBreaksClient(t *testing.T) {
	client, ch := newClient(t, newFakeBackend())
	ch.EmitFatal(errors.New("backend crashed"))
	err := client.StopSlicing(context.Background())
	if !errors.Is(err, services.ErrQueueFatal) {
		t.Fatalf("expected queue fatal, got %v", err)
	}
	if !errors.Is(client.Err(), services.ErrQueueFatal) {
		t.Fatalf("expected terminal error recorded, got %v", client.Err())
	}
}

func TestRunSlicesJob(t *testing.T) {
	dir := t.TempDir()
	cube := filepath.Join(dir, "cube.stl")
	part := filepath.Join(dir, "big part.obj")
	if err := os.WriteFile(cube, testsupport.Payload(5000), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	if err := os.WriteFile(part, testsupport.Payload(300), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	backend := newFakeBackend()
	backend.reports = [][]map[string]any{
		{computing(0.5)},
		{{"status": "complete", "time": 3600, "filament_length": 1250.5}},
	}
	client, ch := newClient(t, backend)

	var seen []string
	result, err := client.Run(context.Background(), slicing.Job{
		Models:       []slicing.Model{{Path: cube}, {Path: part}},
		Engine:       "cura",
		Settings:     []slicing.Setting{{Name: "layer_height", Value: "0.2"}},
		PollInterval: time.Millisecond,
		OnProgress:   func(p slicing.Progress) { seen = append(seen, p.Status) },
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !bytes.Equal(result.Data, backend.result) {
		t.Fatalf("unexpected result %q", result.Data)
	}
	if result.Progress.Time != 3600 || result.Progress.Filament != 1250.5 {
		t.Fatalf("unexpected completion %+v", result.Progress)
	}
	if strings.Join(seen, ",") != "computing,complete" {
		t.Fatalf("unexpected progress statuses %v", seen)
	}

	want := []string{
		"change_engine cura default",
		"upload cube 5000",
		"set cube 0 0 0 0 0 0 1 1 1",
		"upload big_part 300 obj",
		"set big_part 0 0 0 0 0 0 1 1 1",
		"advanced_setting layer_height = 0.2",
		"begin_slicing cube big_part -f",
		"report_slicing",
		"report_slicing",
		"get_result",
	}
	got := ch.TextSent()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected command sequence:\n%s", strings.Join(got, "\n"))
	}
}

func TestRunEndsSlicingWhenInterrupted(t *testing.T) {
	dir := t.TempDir()
	cube := filepath.Join(dir, "cube.stl")
	if err := os.WriteFile(cube, testsupport.Payload(100), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	backend := newFakeBackend()
	backend.repeat = []map[string]any{computing(0.1)}
	client, ch := newClient(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := client.Run(ctx, slicing.Job{
		Models:       []slicing.Model{{Path: cube}},
		PollInterval: time.Hour,
		OnProgress:   func(slicing.Progress) { cancel() },
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	lines := ch.TextSent()
	if last := lines[len(lines)-1]; last != "end_slicing" {
		t.Fatalf("expected end_slicing after interruption, got %q", lines)
	}
}

func TestRunRequiresModels(t *testing.T) {
	client, _ := newClient(t, newFakeBackend())
	if _, err := client.Run(context.Background(), slicing.Job{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestModelNameAndFormat(t *testing.T) {
	cases := []struct {
		path   string
		name   string
		format slicing.Format
	}{
		{path: "/models/cube.stl", name: "cube", format: slicing.FormatSTL},
		{path: "big part.OBJ", name: "big_part", format: slicing.FormatOBJ},
		{path: "noext", name: "noext", format: slicing.FormatSTL},
	}
	for _, tc := range cases {
		if got := slicing.ModelName(tc.path); got != tc.name {
			t.Fatalf("ModelName(%q) = %q, want %q", tc.path, got, tc.name)
		}
		if got := slicing.FormatFromPath(tc.path); got != tc.format {
			t.Fatalf("FormatFromPath(%q) = %q, want %q", tc.path, got, tc.format)
		}
	}
}

func TestBackendArgs(t *testing.T) {
	got := strings.Join(slicing.BackendArgs("/opt/slic3r", 8001), " ")
	if got != "--slic3r /opt/slic3r --port 8001" {
		t.Fatalf("unexpected args %q", got)
	}
	if got := strings.Join(slicing.BackendArgs("", 8001), " "); got != "--port 8001" {
		t.Fatalf("unexpected args without slicer %q", got)
	}
}

func TestFindFreePortSkipsBoundPorts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	if _, err := slicing.FindFreePort(port, port); !errors.Is(err, slicing.ErrNoFreePort) {
		t.Fatalf("expected no free port, got %v", err)
	}
}

func TestLaunchBackendRejectsNonExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatalf("write backend: %v", err)
	}
	_, err := slicing.LaunchBackend(context.Background(), slicing.BackendOptions{Binary: path})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLaunchBackendRunsAndStops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend")
	script := "#!/bin/sh\necho \"args $*\"\nexec sleep 30\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write backend: %v", err)
	}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	backend, err := slicing.LaunchBackend(context.Background(), slicing.BackendOptions{
		Binary:     path,
		SlicerPath: "/opt/slic3r",
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if backend.Port() < slicing.DefaultPortStart {
		t.Fatalf("expected port from %d upward, got %d", slicing.DefaultPortStart, backend.Port())
	}
	if !strings.HasPrefix(backend.BaseURL(), "ws://127.0.0.1:") {
		t.Fatalf("unexpected base url %q", backend.BaseURL())
	}
	time.Sleep(200 * time.Millisecond)
	if err := backend.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-backend.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("backend did not exit")
	}
	if !strings.Contains(logs.String(), "--port "+strconv.Itoa(backend.Port())) {
		t.Fatalf("expected backend output relayed, got %q", logs.String())
	}
}
