package ipc

import (
	"errors"
	"net/rpc"
	"strings"

	"printlink/internal/daemon"
	"printlink/internal/services"
)

const (
	labelSeparator  = "|"
	labelNotRunning = "NOT_RUNNING"
)

// RemoteError is a daemon-side failure decoded by the client.
type RemoteError struct {
	Label   string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Unwrap returns the sentinel for Label so errors.Is keeps working across the
// socket.
func (e *RemoteError) Unwrap() error {
	if e.Label == labelNotRunning {
		return daemon.ErrNotRunning
	}
	return services.MarkerFor(e.Label)
}

func encodeError(err error) error {
	if err == nil {
		return nil
	}
	label := services.Label(err)
	if errors.Is(err, daemon.ErrNotRunning) {
		label = labelNotRunning
	}
	return errors.New(label + labelSeparator + err.Error())
}

func decodeError(err error) error {
	var server rpc.ServerError
	if !errors.As(err, &server) {
		return err
	}
	label, message, ok := strings.Cut(string(server), labelSeparator)
	if !ok {
		return &RemoteError{Label: services.LabelProtocol, Message: string(server)}
	}
	return &RemoteError{Label: label, Message: message}
}
