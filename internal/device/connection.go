package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"printlink/internal/bridge"
	"printlink/internal/cmdqueue"
	"printlink/internal/logging"
	"printlink/internal/protocol"
	"printlink/internal/services"
	"printlink/internal/transport"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultCommandTimeout = 120 * time.Second

	// FcodeMIME is the content type announced for print job uploads.
	FcodeMIME = "application/fcode"
)

// Options configures how connections are opened.
type Options struct {
	Dialer         transport.Dialer
	Endpoints      bridge.Endpoints
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	QueueOptions   []cmdqueue.Option
	Logger         *slog.Logger
}

// Connection is one open control channel to a device.
type Connection struct {
	id             string
	name           string
	endpoints      bridge.Endpoints
	dialer         transport.Dialer
	queue          *cmdqueue.Queue
	commandTimeout time.Duration
	logger         *slog.Logger

	mu     sync.Mutex
	camera *cameraStream
	closed bool
}

// Open dials the control channel for desc and waits for the connected
// greeting. A handshake that fails closes the channel before returning.
func Open(ctx context.Context, opts Options, desc protocol.Descriptor) (*Connection, error) {
	if opts.Dialer == nil {
		return nil, services.Wrap(services.ErrValidation, "device", "open", "dialer is required", nil)
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	commandTimeout := opts.CommandTimeout
	if commandTimeout <= 0 {
		commandTimeout = defaultCommandTimeout
	}
	logger := logging.NewComponentLogger(opts.Logger, "device").With(logging.String(logging.FieldDeviceID, desc.ID))

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	ch, err := opts.Dialer.Dial(ctx, opts.Endpoints.Control(desc.ID))
	if err != nil {
		return nil, err
	}
	queueOpts := append([]cmdqueue.Option{cmdqueue.WithLogger(opts.Logger)}, opts.QueueOptions...)
	queue, handshake := cmdqueue.Open(ch, cmdqueue.Request{Label: "connect", Handler: cmdqueue.Connect()}, queueOpts...)
	if _, err := handshake.Wait(ctx); err != nil {
		_ = queue.Close()
		logger.Debug("control handshake failed", logging.Error(err), logging.String(logging.FieldErrorLabel, services.Label(err)))
		return nil, err
	}
	logger.Info("device connected", logging.String("name", desc.Name))

	return &Connection{
		id:             desc.ID,
		name:           desc.Name,
		endpoints:      opts.Endpoints,
		dialer:         opts.Dialer,
		queue:          queue,
		commandTimeout: commandTimeout,
		logger:         logger,
	}, nil
}

// ID returns the device identifier.
func (c *Connection) ID() string { return c.id }

// Name returns the display name captured when the connection opened.
func (c *Connection) Name() string { return c.name }

// Resume continues a paused job.
func (c *Connection) Resume(ctx context.Context) error { return c.simple(ctx, "resume") }

// Pause suspends the running job.
func (c *Connection) Pause(ctx context.Context) error { return c.simple(ctx, "pause") }

// Abort stops the running job.
func (c *Connection) Abort(ctx context.Context) error { return c.simple(ctx, "abort") }

// Quit clears a completed or aborted job.
func (c *Connection) Quit(ctx context.Context) error { return c.simple(ctx, "quit") }

// Report polls the device status.
func (c *Connection) Report(ctx context.Context) (protocol.Report, error) {
	resp, err := c.do(ctx, cmdqueue.Request{Label: "report", Line: "report"})
	if err != nil {
		return protocol.Report{}, err
	}
	report := protocol.ParseReport(resp)
	if report.Sanitized {
		c.logger.Debug("report contained malformed tokens", logging.String("state", string(report.State)))
	}
	return report, nil
}

// List lists one directory of device storage.
func (c *Connection) List(ctx context.Context, dir string) (protocol.Listing, error) {
	resp, err := c.do(ctx, cmdqueue.Request{Label: "ls", Line: "ls " + dir})
	if err != nil {
		return protocol.Listing{}, err
	}
	return protocol.ParseListing(dir, resp), nil
}

// FileInfo returns metadata for a stored file.
func (c *Connection) FileInfo(ctx context.Context, dir, name string) (protocol.FileInfo, error) {
	resp, err := c.do(ctx, cmdqueue.Request{Label: "fileinfo", Line: "fileinfo " + path.Join(dir, name)})
	if err != nil {
		return protocol.FileInfo{}, err
	}
	return protocol.ParseFileInfo(dir, name, resp), nil
}

// Preview returns the preview image of the current job, or nil when the
// device has none.
func (c *Connection) Preview(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, cmdqueue.Request{Label: "get_preview", Line: "get_preview", Handler: cmdqueue.BinaryResult(true)})
	if err != nil {
		return nil, err
	}
	return resp.Binary, nil
}

// Upload streams a print job. onProgress, when set, receives quantized
// progress updates. A negative size is measured from the payload.
func (c *Connection) Upload(ctx context.Context, payload io.Reader, size int64, onProgress func(cmdqueue.Progress)) error {
	pending := c.queue.Upload(cmdqueue.UploadRequest{
		Label:   "upload",
		Line:    func(n int64) string { return fmt.Sprintf("upload %s %d", FcodeMIME, n) },
		Payload: payload,
		Size:    size,
	})
	outcome, err := pending.Follow(ctx, onProgress)
	if err != nil {
		return services.Wrap(services.ErrTimeout, "device", "upload", "abandoned before completion", err)
	}
	_, err = outcome.Result()
	return err
}

// Close stops the camera stream and then the control channel.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.StopCamera()
	return c.queue.Close()
}

func (c *Connection) simple(ctx context.Context, line string) error {
	_, err := c.do(ctx, cmdqueue.Request{Label: line, Line: line})
	return err
}

func (c *Connection) do(ctx context.Context, req cmdqueue.Request) (protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()
	resp, err := c.queue.Enqueue(req).Wait(ctx)
	if err != nil {
		c.logger.Debug("command failed",
			logging.String(logging.FieldCommand, req.Label),
			logging.String(logging.FieldErrorLabel, services.Label(err)),
			logging.Error(err),
		)
	}
	return resp, err
}
