package session

import (
	"context"
	"io"

	"printlink/internal/cmdqueue"
	"printlink/internal/protocol"
)

// Device is an open connection to one printer.
type Device interface {
	ID() string
	Resume(ctx context.Context) error
	Pause(ctx context.Context) error
	Abort(ctx context.Context) error
	Quit(ctx context.Context) error
	Report(ctx context.Context) (protocol.Report, error)
	List(ctx context.Context, dir string) (protocol.Listing, error)
	FileInfo(ctx context.Context, dir, name string) (protocol.FileInfo, error)
	Preview(ctx context.Context) ([]byte, error)
	Upload(ctx context.Context, payload io.Reader, size int64, onProgress func(cmdqueue.Progress)) error
	StartCamera(ctx context.Context, onFrame func([]byte)) error
	StopCamera() error
	Close() error
}

// Connector opens device connections. Errors matching services.ErrTimeout,
// services.ErrAuthRequired, or services.ErrAuthFailed steer the selection
// loop; anything else is returned to the caller.
type Connector interface {
	Connect(ctx context.Context, desc protocol.Descriptor) (Device, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, desc protocol.Descriptor) (Device, error)

func (f ConnectorFunc) Connect(ctx context.Context, desc protocol.Descriptor) (Device, error) {
	return f(ctx, desc)
}

// Authenticator submits a credential for a device.
type Authenticator interface {
	Authenticate(ctx context.Context, deviceID, password string) error
}

// PromptRequest describes a credential prompt.
type PromptRequest struct {
	DeviceID     string
	DeviceName   string
	Caption      string
	Instructions string
	Attempt      int
	Rejected     bool
}

// Prompter asks the user for a credential. ok is false when the user
// abandoned the prompt.
type Prompter interface {
	Prompt(ctx context.Context, req PromptRequest) (password string, ok bool, err error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, req PromptRequest) (string, bool, error)

func (f PrompterFunc) Prompt(ctx context.Context, req PromptRequest) (string, bool, error) {
	return f(ctx, req)
}

// Notifier receives device error labels that changed since the last
// discovery pass.
type Notifier interface {
	NotifyDeviceError(ctx context.Context, desc protocol.Descriptor, label string) error
}
