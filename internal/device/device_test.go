package device_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"printlink/internal/cmdqueue"
	"printlink/internal/device"
	"printlink/internal/device/devicetest"
	"printlink/internal/protocol"
	"printlink/internal/services"
	"printlink/internal/testsupport"
)

func openPrinter(t *testing.T, p *devicetest.Printer) (*device.Connection, *devicetest.Fleet) {
	t.Helper()
	fleet := devicetest.NewFleet(p)
	conn, err := device.Open(context.Background(), options(fleet), p.Descriptor())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, fleet
}

func options(fleet *devicetest.Fleet) device.Options {
	return device.Options{
		Dialer:         fleet.Dialer,
		Endpoints:      fleet.Endpoints,
		ConnectTimeout: 200 * time.Millisecond,
		CommandTimeout: 2 * time.Second,
		QueueOptions:   []cmdqueue.Option{cmdqueue.WithInterval(time.Millisecond)},
	}
}

func TestOpenWaitsForConnectedGreeting(t *testing.T) {
	p := &devicetest.Printer{ID: "d1", Name: "Delta"}
	conn, fleet := openPrinter(t, p)
	if conn.ID() != "d1" || conn.Name() != "Delta" {
		t.Fatalf("unexpected identity %s %s", conn.ID(), conn.Name())
	}
	if got := fleet.Dialer.Endpoints(); len(got) != 1 || got[0] != devicetest.BaseURL+"/ws/control/d1" {
		t.Fatalf("unexpected endpoints %v", got)
	}
}

func TestOpenClassifiesAuthChallenge(t *testing.T) {
	p := &devicetest.Printer{ID: "d1", Password: "pw"}
	fleet := devicetest.NewFleet(p)
	_, err := device.Open(context.Background(), options(fleet), p.Descriptor())
	if !errors.Is(err, services.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	controls := p.Controls()
	if len(controls) != 1 || !controls[0].Closed() {
		t.Fatal("expected failed handshake channel to be closed")
	}
}

func TestOpenTimesOutWithoutGreeting(t *testing.T) {
	p := &devicetest.Printer{ID: "d1", Silent: true}
	fleet := devicetest.NewFleet(p)
	_, err := device.Open(context.Background(), options(fleet), p.Descriptor())
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestReportToleratesMalformedNumbers(t *testing.T) {
	p := &devicetest.Printer{ID: "d1", ReportRaw: `{"status":"ok","st_id":16,"st_label":"RUNNING","prog":NaN,"rt":-Infinity,"error":["FILAMENT_RUNOUT"]}`}
	conn, _ := openPrinter(t, p)

	report, err := conn.Report(context.Background())
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.State != protocol.StateRunning || report.Progress != nil || report.Temperature != nil {
		t.Fatalf("unexpected report %+v", report)
	}
	if !report.Sanitized || len(report.ErrorLabels) != 1 {
		t.Fatalf("expected sanitized report with error label, got %+v", report)
	}
}

func TestJobControlCommands(t *testing.T) {
	p := &devicetest.Printer{ID: "d1", StateID: protocol.StateIDRunning}
	conn, _ := openPrinter(t, p)
	ctx := context.Background()

	steps := []struct {
		name string
		run  func(context.Context) error
		want int
	}{
		{"pause", conn.Pause, protocol.StateIDPaused},
		{"resume", conn.Resume, protocol.StateIDRunning},
		{"abort", conn.Abort, protocol.StateIDAborted},
		{"quit", conn.Quit, protocol.StateIDIdle},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if p.State() != step.want {
			t.Fatalf("%s: expected state %d, got %d", step.name, step.want, p.State())
		}
	}
	journal := p.Journal()
	if len(journal) != 4 || journal[0] != "pause" || journal[3] != "quit" {
		t.Fatalf("unexpected journal %v", journal)
	}
}

func TestListAndFileInfo(t *testing.T) {
	p := &devicetest.Printer{ID: "d1", Directories: []string{"jobs"}, Files: []string{"b.fc", "a.fc"}}
	conn, _ := openPrinter(t, p)
	ctx := context.Background()

	listing, err := conn.List(ctx, "/SD")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listing.Files) != 2 || listing.Files[0] != "a.fc" || listing.Directories[0] != "jobs" {
		t.Fatalf("unexpected listing %+v", listing)
	}

	info, err := conn.FileInfo(ctx, "/SD", "a.fc")
	if err != nil {
		t.Fatalf("FileInfo: %v", err)
	}
	if info.Fields["path"] != "/SD/a.fc" || info.Size == nil {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestPreviewReturnsBinaryOrEmpty(t *testing.T) {
	p := &devicetest.Printer{ID: "d1"}
	conn, _ := openPrinter(t, p)
	image, err := conn.Preview(context.Background())
	if err != nil || image != nil {
		t.Fatalf("expected empty preview, got %v %v", image, err)
	}

	q := &devicetest.Printer{ID: "d2", Preview: []byte{0x89, 'P', 'N', 'G'}}
	conn2, _ := openPrinter(t, q)
	image, err = conn2.Preview(context.Background())
	if err != nil || !bytes.Equal(image, q.Preview) {
		t.Fatalf("expected preview bytes, got %v %v", image, err)
	}
}

func TestUploadReportsProgressAndDelivers(t *testing.T) {
	p := &devicetest.Printer{ID: "d1"}
	conn, _ := openPrinter(t, p)

	payload := testsupport.Payload(64 * 1024)
	var updates []cmdqueue.Progress
	err := conn.Upload(context.Background(), bytes.NewReader(payload), -1, func(update cmdqueue.Progress) {
		updates = append(updates, update)
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	uploads := p.Uploads()
	if len(uploads) != 1 || !bytes.Equal(uploads[0], payload) {
		t.Fatal("device did not receive the payload")
	}
	if len(updates) == 0 || len(updates) >= 16 {
		t.Fatalf("expected quantized progress, got %d updates", len(updates))
	}
	if p.State() != protocol.StateIDRunning {
		t.Fatalf("expected running after upload, got %d", p.State())
	}
}

func TestUploadRejectedWhileBusy(t *testing.T) {
	p := &devicetest.Printer{ID: "d1", StateID: protocol.StateIDCompleted}
	conn, _ := openPrinter(t, p)
	err := conn.Upload(context.Background(), bytes.NewReader(testsupport.Payload(10)), 10, nil)
	if !errors.Is(err, services.ErrResourceBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
}

func TestCameraStreamLifecycle(t *testing.T) {
	p := &devicetest.Printer{ID: "d1", CameraFrames: [][]byte{[]byte("f1"), []byte("f2")}}
	conn, fleet := openPrinter(t, p)

	if err := conn.StopCamera(); err != nil {
		t.Fatalf("StopCamera without stream: %v", err)
	}

	var mu sync.Mutex
	var frames []string
	got := make(chan struct{})
	err := conn.StartCamera(context.Background(), func(frame []byte) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, string(frame))
		if len(frames) == 2 {
			close(got)
		}
	})
	if err != nil {
		t.Fatalf("StartCamera: %v", err)
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for camera frames")
	}
	if !conn.CameraActive() {
		t.Fatal("expected active camera")
	}
	if fleet.Dialer.Count(devicetest.BaseURL+"/ws/camera/d1") != 1 {
		t.Fatalf("expected one camera dial, got %v", fleet.Dialer.Endpoints())
	}

	if err := conn.StopCamera(); err != nil {
		t.Fatalf("StopCamera: %v", err)
	}
	if err := conn.StopCamera(); err != nil {
		t.Fatalf("second StopCamera: %v", err)
	}
	if conn.CameraActive() {
		t.Fatal("expected camera stopped")
	}
}

func TestCloseStopsCameraBeforeControl(t *testing.T) {
	p := &devicetest.Printer{ID: "d1"}
	fleet := devicetest.NewFleet(p)
	conn, err := device.Open(context.Background(), options(fleet), p.Descriptor())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := conn.StartCamera(context.Background(), func([]byte) {}); err != nil {
		t.Fatalf("StartCamera: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if conn.CameraActive() {
		t.Fatal("camera should be stopped by Close")
	}
	if !p.Controls()[0].Closed() {
		t.Fatal("control channel should be closed")
	}
	if err := conn.StartCamera(context.Background(), func([]byte) {}); !errors.Is(err, services.ErrConnectionClosed) {
		t.Fatalf("expected closed connection, got %v", err)
	}
	if err := conn.Pause(context.Background()); !errors.Is(err, services.ErrConnectionClosed) {
		t.Fatalf("expected closed queue error, got %v", err)
	}
}

func TestUploadReturnsAfterAcknowledgment(t *testing.T) {
	p := &devicetest.Printer{ID: "d1"}
	conn, _ := openPrinter(t, p)

	var mu sync.Mutex
	calls := 0
	result := make(chan error, 1)
	go func() {
		result <- conn.Upload(context.Background(), bytes.NewReader(testsupport.Payload(64*1024)), -1, func(update cmdqueue.Progress) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if update.Percent == 0 {
				t.Errorf("unexpected zero-value progress %+v", update)
			}
		})
	}()

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Upload: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Upload did not return after the device acknowledged")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls == 0 || calls >= 16 {
		t.Fatalf("expected quantized progress, got %d callbacks", calls)
	}
}
