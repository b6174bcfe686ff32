package device

import (
	"context"
	"errors"

	"printlink/internal/logging"
	"printlink/internal/services"
	"printlink/internal/transport"
)

type cameraStream struct {
	ch   transport.Channel
	done chan struct{}
}

// StartCamera opens the camera stream and delivers every binary frame to
// onFrame from a dedicated goroutine. Starting while a stream is active
// replaces it.
func (c *Connection) StartCamera(ctx context.Context, onFrame func([]byte)) error {
	if onFrame == nil {
		return services.Wrap(services.ErrValidation, "device", "camera", "frame callback is required", nil)
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return services.ErrConnectionClosed
	}
	if err := c.StopCamera(); err != nil {
		return err
	}

	ch, err := c.dialer.Dial(ctx, c.endpoints.Camera(c.id))
	if err != nil {
		return err
	}
	stream := &cameraStream{ch: ch, done: make(chan struct{})}
	go c.pumpCamera(stream, onFrame)

	c.mu.Lock()
	c.camera = stream
	c.mu.Unlock()
	c.logger.Debug("camera stream started")
	return nil
}

// StopCamera closes the camera stream and waits for its goroutine to exit.
// It is a no-op when no stream is active.
func (c *Connection) StopCamera() error {
	c.mu.Lock()
	stream := c.camera
	c.camera = nil
	c.mu.Unlock()
	if stream == nil {
		return nil
	}
	err := stream.ch.Close()
	<-stream.done
	c.logger.Debug("camera stream stopped")
	return err
}

// CameraActive reports whether a camera stream is open.
func (c *Connection) CameraActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.camera != nil
}

func (c *Connection) pumpCamera(stream *cameraStream, onFrame func([]byte)) {
	defer close(stream.done)
	for ev := range stream.ch.Events() {
		switch ev.Kind {
		case transport.EventMessage:
			if ev.Response.IsBinary() {
				onFrame(ev.Response.Binary)
			}
		case transport.EventError:
			c.logger.Debug("camera error", logging.String(logging.FieldErrorLabel, ev.Response.String("error")))
		case transport.EventFatal, transport.EventClose:
			if ev.Err != nil && !errors.Is(ev.Err, services.ErrConnectionClosed) {
				logging.WarnWithContext(c.logger, "camera stream ended", "camera_closed",
					logging.Error(ev.Err),
					logging.String(logging.FieldErrorHint, "restart the camera stream"),
					logging.String(logging.FieldImpact, "no further camera frames"),
				)
			}
		}
	}
}
