package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"printlink/internal/logging"
	"printlink/internal/services"
)

const (
	defaultCameraFrames  = 1
	defaultCameraTimeout = 10 * time.Second
)

// CameraRequest controls a camera capture.
type CameraRequest struct {
	Frames  int
	Timeout time.Duration
	// Dir receives the frames; empty uses the output directory.
	Dir string
}

// Camera captures frames from the selected device's camera stream and writes
// each one to a file. The stream is stopped before returning. Frames that
// arrived before the timeout are kept even when fewer than requested.
func (d *Daemon) Camera(ctx context.Context, req CameraRequest) ([]string, error) {
	manager, _, err := d.session()
	if err != nil {
		return nil, err
	}
	desc, ok := manager.Selected()
	if !ok {
		return nil, services.ErrNoDeviceSelected
	}
	want := req.Frames
	if want <= 0 {
		want = defaultCameraFrames
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultCameraTimeout
	}
	dir := req.Dir
	if dir == "" {
		dir = d.outputPath("camera", "camera")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create camera directory: %w", err)
	}

	frames := make(chan []byte, want)
	onFrame := func(frame []byte) {
		select {
		case frames <- append([]byte(nil), frame...):
		default:
		}
	}
	if err := manager.StartCamera(ctx, onFrame); err != nil {
		return nil, err
	}

	captured := make([][]byte, 0, want)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
collect:
	for len(captured) < want {
		select {
		case frame := <-frames:
			captured = append(captured, frame)
		case <-timer.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}
	if err := manager.StopCamera(); err != nil {
		d.logger.Debug("stop camera", logging.Error(err))
	}
	if len(captured) == 0 {
		return nil, services.Wrap(services.ErrTimeout, "daemon", "camera", "no frames received", ctx.Err())
	}

	stamp := timestamp()
	paths := make([]string, 0, len(captured))
	var writeErr error
	for i, frame := range captured {
		path := filepath.Join(dir, fmt.Sprintf("%s-%s-%03d.jpg", desc.ID, stamp, i+1))
		if err := os.WriteFile(path, frame, 0o644); err != nil {
			writeErr = errors.Join(writeErr, err)
			continue
		}
		paths = append(paths, path)
	}
	d.logger.Info("camera frames captured",
		logging.String(logging.FieldDeviceID, desc.ID),
		logging.Int("frames", len(paths)),
	)
	return paths, writeErr
}
