package ipc

import (
	"context"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const dialTimeout = 2 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// call invokes method and waits for the reply or ctx. A canceled call leaves
// the daemon-side operation running.
func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pending := c.client.Go(ServiceName+"."+method, req, resp, make(chan *rpc.Call, 1))
	select {
	case done := <-pending.Done:
		return decodeError(done.Error)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start requests the daemon to start the device session.
func (c *Client) Start(ctx context.Context) (*StartResponse, error) {
	var resp StartResponse
	if err := c.call(ctx, "Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop the device session.
func (c *Client) Stop(ctx context.Context) (*StopResponse, error) {
	var resp StopResponse
	if err := c.call(ctx, "Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, "Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Devices lists known devices.
func (c *Client) Devices(ctx context.Context) (*DevicesResponse, error) {
	var resp DevicesResponse
	if err := c.call(ctx, "Devices", DevicesRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Select selects a device. AUTH_REQUIRED and TIMEOUT are statuses, not
// errors.
func (c *Client) Select(ctx context.Context, ref, password string) (*SelectResponse, error) {
	var resp SelectResponse
	if err := c.call(ctx, "Select", SelectRequest{Ref: ref, Password: password}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Command dispatches resume, pause, stop, quit or report.
func (c *Client) Command(ctx context.Context, name string) (*CommandResponse, error) {
	var resp CommandResponse
	if err := c.call(ctx, "Command", CommandRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListFiles lists a directory on the selected device.
func (c *Client) ListFiles(ctx context.Context, path string) (*ListFilesResponse, error) {
	var resp ListFilesResponse
	if err := c.call(ctx, "ListFiles", ListFilesRequest{Path: path}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FileInfo describes a stored job file.
func (c *Client) FileInfo(ctx context.Context, dir, name string) (*FileInfoResponse, error) {
	var resp FileInfoResponse
	if err := c.call(ctx, "FileInfo", FileInfoRequest{Dir: dir, Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Preview fetches the current job preview image.
func (c *Client) Preview(ctx context.Context) (*PreviewResponse, error) {
	var resp PreviewResponse
	if err := c.call(ctx, "Preview", PreviewRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Print uploads and starts a job file.
func (c *Client) Print(ctx context.Context, path string) (*PrintResponse, error) {
	var resp PrintResponse
	if err := c.call(ctx, "Print", PrintRequest{Path: path}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Clear quits a finished job.
func (c *Client) Clear(ctx context.Context) (*ClearResponse, error) {
	var resp ClearResponse
	if err := c.call(ctx, "Clear", ClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Camera captures frames from the selected device.
func (c *Client) Camera(ctx context.Context, req CameraRequest) (*CameraResponse, error) {
	var resp CameraResponse
	if err := c.call(ctx, "Camera", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Slice runs a slicing job.
func (c *Client) Slice(ctx context.Context, req SliceRequest) (*SliceResponse, error) {
	var resp SliceResponse
	if err := c.call(ctx, "Slice", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rescan asks the discovery feed to re-announce devices.
func (c *Client) Rescan(ctx context.Context) (*RescanResponse, error) {
	var resp RescanResponse
	if err := c.call(ctx, "Rescan", RescanRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Prune removes catalog entries older than maxAge.
func (c *Client) Prune(ctx context.Context, maxAge time.Duration) (*PruneResponse, error) {
	var resp PruneResponse
	if err := c.call(ctx, "Prune", PruneRequest{MaxAgeHours: maxAge.Hours()}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(ctx context.Context, req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.call(ctx, "LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification(ctx context.Context) (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call(ctx, "TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
