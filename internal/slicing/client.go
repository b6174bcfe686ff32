package slicing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"printlink/internal/cmdqueue"
	"printlink/internal/logging"
	"printlink/internal/protocol"
	"printlink/internal/services"
	"printlink/internal/transport"
)

const (
	defaultCommandTimeout = 120 * time.Second

	// AdvancedSettings is the parameter name whose value is a complete
	// settings block rather than a single key.
	AdvancedSettings = "advancedSettings"

	// DefaultMode is the output mode used when BeginSlicing gets none.
	DefaultMode = "f"
)

// Format is the model file format announced on upload.
type Format string

const (
	FormatSTL Format = "stl"
	FormatOBJ Format = "obj"
)

// FormatFromPath infers the model format from a file extension.
func FormatFromPath(path string) Format {
	if strings.EqualFold(strings.TrimPrefix(filepath.Ext(path), "."), string(FormatOBJ)) {
		return FormatOBJ
	}
	return FormatSTL
}

func (f Format) suffix() string {
	if f == FormatOBJ {
		return " " + string(FormatOBJ)
	}
	return ""
}

// Vector is an x, y, z triple.
type Vector struct {
	X, Y, Z float64
}

// Placement positions one model on the build plate.
type Placement struct {
	Position Vector
	Rotation Vector
	Scale    Vector
}

// DefaultPlacement is an unrotated model at the origin at unit scale.
func DefaultPlacement() Placement {
	return Placement{Scale: Vector{X: 1, Y: 1, Z: 1}}
}

// Options configures a Client.
type Options struct {
	Dialer         transport.Dialer
	Endpoint       string
	CommandTimeout time.Duration
	QueueOptions   []cmdqueue.Option
	Logger         *slog.Logger
}

// Client issues slicing commands over one backend channel.
type Client struct {
	queue          *cmdqueue.Queue
	commandTimeout time.Duration
	logger         *slog.Logger
}

// Dial connects to the slicing endpoint and returns a client over it.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.Dialer == nil {
		return nil, services.Wrap(services.ErrValidation, "slicing", "dial", "dialer is required", nil)
	}
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, services.Wrap(services.ErrValidation, "slicing", "dial", "endpoint is required", nil)
	}
	ch, err := opts.Dialer.Dial(ctx, opts.Endpoint)
	if err != nil {
		return nil, err
	}
	return NewClient(ch, opts), nil
}

// NewClient wraps an already open channel. The client owns ch.
func NewClient(ch transport.Channel, opts Options) *Client {
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	queueOpts := append([]cmdqueue.Option{cmdqueue.WithLogger(opts.Logger)}, opts.QueueOptions...)
	return &Client{
		queue:          cmdqueue.New(ch, queueOpts...),
		commandTimeout: timeout,
		logger:         logging.NewComponentLogger(opts.Logger, "slicing"),
	}
}

// Locked reports whether a command is in flight.
func (c *Client) Locked() bool { return c.queue.Locked() }

// Err returns the terminal queue error once the channel is broken or closed.
func (c *Client) Err() error { return c.queue.Err() }

// Close rejects outstanding commands and closes the channel.
func (c *Client) Close() error { return c.queue.Close() }

// Upload streams a model file under name. A negative size is measured from
// the payload.
func (c *Client) Upload(ctx context.Context, name string, format Format, payload io.Reader, size int64, onProgress func(cmdqueue.Progress)) error {
	if err := validateNames("upload", name); err != nil {
		return err
	}
	pending := c.queue.Upload(cmdqueue.UploadRequest{
		Label:   "upload",
		Line:    func(n int64) string { return fmt.Sprintf("upload %s %d%s", name, n, format.suffix()) },
		Payload: payload,
		Size:    size,
	})
	return c.follow(ctx, pending, onProgress)
}

// UploadViaPath asks the backend to load a model from a local path it can
// read directly.
func (c *Client) UploadViaPath(ctx context.Context, name string, format Format, filePath string) error {
	if err := validateNames("load_stl_from_path", name); err != nil {
		return err
	}
	if strings.TrimSpace(filePath) == "" {
		return services.Wrap(services.ErrValidation, "slicing", "load_stl_from_path", "path is required", nil)
	}
	line := fmt.Sprintf("load_stl_from_path %s %s%s", name, encodePath(filePath), format.suffix())
	_, err := c.do(ctx, cmdqueue.Request{Label: "load_stl_from_path", Line: line, Handler: awaitOK()})
	return err
}

// Set places a loaded model.
func (c *Client) Set(ctx context.Context, name string, p Placement) error {
	if err := validateNames("set", name); err != nil {
		return err
	}
	values := []float64{
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Rotation.X, p.Rotation.Y, p.Rotation.Z,
		p.Scale.X, p.Scale.Y, p.Scale.Z,
	}
	fields := make([]string, 0, len(values)+2)
	fields = append(fields, "set", name)
	for _, v := range values {
		fields = append(fields, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return c.simple(ctx, "set", strings.Join(fields, " "))
}

// Delete removes a loaded model.
func (c *Client) Delete(ctx context.Context, name string) error {
	if err := validateNames("delete", name); err != nil {
		return err
	}
	return c.simple(ctx, "delete", "delete "+name)
}

// Duplicate copies a loaded model under a new name.
func (c *Client) Duplicate(ctx context.Context, oldName, newName string) error {
	if err := validateNames("duplicate", oldName, newName); err != nil {
		return err
	}
	return c.simple(ctx, "duplicate", fmt.Sprintf("duplicate %s %s", oldName, newName))
}

// ChangeEngine switches the slicing engine with its default profile.
func (c *Client) ChangeEngine(ctx context.Context, engine string) error {
	if err := validateNames("change_engine", engine); err != nil {
		return err
	}
	return c.simple(ctx, "change_engine", fmt.Sprintf("change_engine %s default", engine))
}

// SetParameter changes one slicing setting. The AdvancedSettings name with a
// non-empty value sends the value as a raw settings block.
func (c *Client) SetParameter(ctx context.Context, name, value string) error {
	line := fmt.Sprintf("advanced_setting %s = %s", name, value)
	if name == AdvancedSettings && value != "" {
		line = "advanced_setting " + value
	}
	return c.simple(ctx, "advanced_setting", line)
}

// GoF slices the named models and returns the first backend answer.
func (c *Client) GoF(ctx context.Context, names ...string) (protocol.Response, error) {
	if err := validateNames("go", names...); err != nil {
		return protocol.Response{}, err
	}
	return c.do(ctx, cmdqueue.Request{Label: "go", Line: "go " + strings.Join(names, " ") + " -f"})
}

// BeginSlicing starts slicing the named models in the background. An empty
// mode uses DefaultMode.
func (c *Client) BeginSlicing(ctx context.Context, names []string, mode string) error {
	if err := validateNames("begin_slicing", names...); err != nil {
		return err
	}
	if mode == "" {
		mode = DefaultMode
	}
	return c.simple(ctx, "begin_slicing", fmt.Sprintf("begin_slicing %s -%s", strings.Join(names, " "), mode))
}

// ReportSlicing polls slicing progress. The backend answers with any number
// of progress frames followed by "ok"; the most recent frame wins.
func (c *Client) ReportSlicing(ctx context.Context) (Progress, error) {
	resp, err := c.do(ctx, cmdqueue.Request{Label: "report_slicing", Line: "report_slicing", Handler: cmdqueue.LongPoll()})
	if err != nil {
		return Progress{}, err
	}
	return ParseProgress(resp), nil
}

// GetResult downloads the sliced output.
func (c *Client) GetResult(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, cmdqueue.Request{Label: "get_result", Line: "get_result", Handler: cmdqueue.BinaryResult(false)})
	if err != nil {
		return nil, err
	}
	return resp.Binary, nil
}

// StopSlicing ends a slicing run.
func (c *Client) StopSlicing(ctx context.Context) error {
	return c.simple(ctx, "end_slicing", "end_slicing")
}

// GetPath returns the backend's tool path response.
func (c *Client) GetPath(ctx context.Context) (protocol.Response, error) {
	return c.do(ctx, cmdqueue.Request{Label: "get_path", Line: "get_path"})
}

// UploadPreviewImage sends a preview image as a single binary frame once the
// backend acknowledges the announced size.
func (c *Client) UploadPreviewImage(ctx context.Context, image []byte) error {
	line := fmt.Sprintf("upload_image %d", len(image))
	_, err := c.do(ctx, cmdqueue.Request{Label: "upload_image", Line: line, Handler: sendOnContinue(image)})
	return err
}

func (c *Client) simple(ctx context.Context, label, line string) error {
	_, err := c.do(ctx, cmdqueue.Request{Label: label, Line: line})
	return err
}

func (c *Client) do(ctx context.Context, req cmdqueue.Request) (protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()
	resp, err := c.queue.Enqueue(req).Wait(ctx)
	if err != nil {
		c.logger.Debug("slicing command failed",
			logging.String(logging.FieldCommand, req.Label),
			logging.String(logging.FieldErrorLabel, services.Label(err)),
			logging.Error(err),
		)
	}
	return resp, err
}

func (c *Client) follow(ctx context.Context, pending *cmdqueue.Pending, onProgress func(cmdqueue.Progress)) error {
	outcome, err := pending.Follow(ctx, onProgress)
	if err != nil {
		return services.Wrap(services.ErrTimeout, "slicing", pending.Label(), "abandoned before completion", err)
	}
	_, err = outcome.Result()
	return err
}

// awaitOK resolves on "ok" and skips acknowledgments such as "continue".
func awaitOK() cmdqueue.Handler {
	return cmdqueue.HandlerFunc(func(x *cmdqueue.Exchange, resp protocol.Response) {
		if resp.Status == protocol.StatusOK {
			x.Resolve(resp)
		}
	})
}

// sendOnContinue writes data once after the first "continue" and resolves on "ok".
func sendOnContinue(data []byte) cmdqueue.Handler {
	sent := false
	return cmdqueue.HandlerFunc(func(x *cmdqueue.Exchange, resp protocol.Response) {
		switch resp.Status {
		case protocol.StatusOK:
			x.Resolve(resp)
		case protocol.StatusContinue:
			if sent {
				return
			}
			sent = true
			_ = x.Send(transport.Binary(data))
		}
	})
}

func validateNames(op string, names ...string) error {
	if len(names) == 0 {
		return services.Wrap(services.ErrValidation, "slicing", op, "at least one name is required", nil)
	}
	for _, name := range names {
		if name == "" || strings.ContainsAny(name, " \t\r\n") {
			return services.Wrap(services.ErrValidation, "slicing", op, fmt.Sprintf("invalid name %q", name), nil)
		}
	}
	return nil
}

// encodePath percent-encodes a filesystem path while keeping separators.
func encodePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}
