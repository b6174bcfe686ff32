package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"printlink/internal/cmdqueue"
	"printlink/internal/logging"
	"printlink/internal/services"
	"printlink/internal/transport"
)

const defaultTouchTimeout = 30 * time.Second

// TouchAuthenticator exchanges a device password over the bridge touch
// endpoint. Each call opens a short-lived channel.
type TouchAuthenticator struct {
	Dialer    transport.Dialer
	Endpoints Endpoints
	Timeout   time.Duration
	Logger    *slog.Logger
}

type touchRequest struct {
	UUID     string `json:"uuid"`
	Password string `json:"password"`
}

// Authenticate submits password for deviceID. A rejected credential returns
// an error matching services.ErrAuthFailed; the call never retries.
func (a TouchAuthenticator) Authenticate(ctx context.Context, deviceID, password string) error {
	logger := logging.NewComponentLogger(a.Logger, "bridge")
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultTouchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	line, err := json.Marshal(touchRequest{UUID: deviceID, Password: password})
	if err != nil {
		return services.Wrap(services.ErrValidation, "bridge", "touch", "encode request", err)
	}

	ch, err := a.Dialer.Dial(ctx, a.Endpoints.Touch())
	if err != nil {
		return err
	}
	q := cmdqueue.New(ch, cmdqueue.WithLogger(a.Logger))
	defer func() { _ = q.Close() }()

	_, err = q.Command("touch", string(line)).Wait(ctx)
	switch {
	case err == nil:
		logger.Debug("touch accepted", logging.String(logging.FieldDeviceID, deviceID))
		return nil
	case errors.Is(err, services.ErrTimeout), errors.Is(err, services.ErrQueueFatal), errors.Is(err, services.ErrAuthFailed):
		return err
	default:
		return services.Wrap(services.ErrAuthFailed, "bridge", "touch", "credential rejected", err)
	}
}
