package session

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"printlink/internal/logging"
	"printlink/internal/protocol"
	"printlink/internal/services"
)

type credentialResult int

const (
	credentialAccepted credentialResult = iota
	credentialAbandoned
	credentialTimeout
)

// SelectDevice makes desc the selected device. An existing connection is
// reused without authenticating again. A new connection that is challenged
// runs the credential loop: the cached password is tried once, then the user
// is prompted until a credential is accepted or the prompt is abandoned.
// Timeouts and abandonment resolve as a status with a nil error.
func (m *Manager) SelectDevice(ctx context.Context, desc protocol.Descriptor) (protocol.ConnectionStatus, error) {
	if desc.ID == "" {
		return protocol.ConnUnconnected, services.Wrap(services.ErrValidation, "session", "select", "device id is required", nil)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return protocol.ConnUnconnected, services.ErrConnectionClosed
	}
	if conn, ok := m.conns[desc.ID]; ok {
		m.selected = desc.ID
		m.status[desc.ID] = protocol.ConnConnected
		m.mu.Unlock()
		m.logger.Debug("reusing device connection", logging.String(logging.FieldDeviceID, conn.desc.ID))
		return protocol.ConnConnected, nil
	}
	m.mu.Unlock()

	// The attempt is shared by every caller selecting this id, so it must not
	// end when the first caller gives up. Each caller still stops waiting on
	// its own ctx.
	attemptCtx := context.WithoutCancel(ctx)
	if _, ok := services.RequestIDFromContext(attemptCtx); !ok {
		attemptCtx = services.WithRequestID(attemptCtx, "")
	}
	attempt := m.group.DoChan(desc.ID, func() (any, error) {
		m.mu.Lock()
		_, registered := m.conns[desc.ID]
		m.mu.Unlock()
		if registered {
			return protocol.ConnConnected, nil
		}
		return m.connect(attemptCtx, desc)
	})
	var result singleflight.Result
	select {
	case result = <-attempt:
	case <-ctx.Done():
		return protocol.ConnUnconnected, ctx.Err()
	}
	value, err, shared := result.Val, result.Err, result.Shared
	status, _ := value.(protocol.ConnectionStatus)
	if status == "" {
		status = protocol.ConnUnconnected
	}
	if shared {
		m.logger.Debug("joined in-flight selection", logging.String(logging.FieldDeviceID, desc.ID))
	}
	if err != nil || status != protocol.ConnConnected {
		return status, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[desc.ID]; !ok {
		return protocol.ConnUnconnected, services.ErrConnectionClosed
	}
	m.selected = desc.ID
	return status, nil
}

func (m *Manager) connect(ctx context.Context, desc protocol.Descriptor) (protocol.ConnectionStatus, error) {
	logger := deviceLogger(ctx, m.logger, desc.ID)
	state := &credentialState{}
	for {
		if err := ctx.Err(); err != nil {
			m.setStatus(desc, protocol.ConnUnconnected)
			return protocol.ConnUnconnected, err
		}
		m.setStatus(desc, protocol.ConnConnecting)
		dev, err := m.connector.Connect(ctx, desc)
		switch {
		case err == nil:
			return m.register(desc, dev)
		case errors.Is(err, services.ErrTimeout):
			m.setStatus(desc, protocol.ConnTimeout)
			logging.WarnWithContext(logger, "device did not answer", "device_timeout",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the printer is powered on and on the same network"),
				logging.String(logging.FieldImpact, "device not selected"),
			)
			return protocol.ConnTimeout, nil
		case errors.Is(err, services.ErrAuthRequired), errors.Is(err, services.ErrAuthFailed):
			m.setStatus(desc, protocol.ConnAuthRequired)
			logger.Info("device requires authentication", logging.String(logging.FieldErrorLabel, services.Label(err)))
			result, err := m.obtainCredential(ctx, desc, state)
			if err != nil {
				return protocol.ConnAuthRequired, err
			}
			switch result {
			case credentialAbandoned:
				return protocol.ConnAuthRequired, nil
			case credentialTimeout:
				m.setStatus(desc, protocol.ConnTimeout)
				return protocol.ConnTimeout, nil
			}
		default:
			m.setStatus(desc, protocol.ConnUnconnected)
			return protocol.ConnUnconnected, err
		}
	}
}

func (m *Manager) register(desc protocol.Descriptor, dev Device) (protocol.ConnectionStatus, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = dev.Close()
		return protocol.ConnUnconnected, services.ErrConnectionClosed
	}
	if existing, ok := m.conns[desc.ID]; ok {
		m.mu.Unlock()
		_ = dev.Close()
		m.logger.Debug("discarding duplicate connection", logging.String(logging.FieldDeviceID, existing.desc.ID))
		return protocol.ConnConnected, nil
	}
	m.conns[desc.ID] = &connection{desc: desc, dev: dev, state: protocol.StateUnknown}
	m.status[desc.ID] = protocol.ConnConnected
	if desc.Name != "" {
		m.names[desc.ID] = desc.Name
	}
	m.mu.Unlock()
	m.logger.Info("device selected",
		logging.String(logging.FieldDeviceID, desc.ID),
		logging.String("name", desc.Name),
	)
	return protocol.ConnConnected, nil
}

type credentialState struct {
	triedCache bool
	attempt    int
	rejected   bool
}

// obtainCredential loops until a credential is accepted, the prompt is
// abandoned, or the exchange times out. There is no attempt cap.
func (m *Manager) obtainCredential(ctx context.Context, desc protocol.Descriptor, state *credentialState) (credentialResult, error) {
	if m.auth == nil {
		return credentialAbandoned, nil
	}
	logger := deviceLogger(ctx, m.logger, desc.ID)
	for {
		password, source, ok, err := m.nextCredential(ctx, desc, state)
		if err != nil {
			return credentialAbandoned, err
		}
		if !ok {
			logger.Info("authentication abandoned", logging.Int("attempts", state.attempt))
			return credentialAbandoned, nil
		}

		err = m.auth.Authenticate(ctx, desc.ID, password)
		switch {
		case err == nil:
			m.SetPassword(password)
			logger.Info("authentication accepted", logging.String("source", source))
			return credentialAccepted, nil
		case errors.Is(err, services.ErrAuthFailed):
			state.rejected = true
			logger.Info("authentication rejected",
				logging.String("source", source),
				logging.String(logging.FieldErrorLabel, services.Label(err)),
			)
		case errors.Is(err, services.ErrTimeout):
			logging.WarnWithContext(logger, "authentication timed out", "auth_timeout",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "retry selecting the device"),
				logging.String(logging.FieldImpact, "device not selected"),
			)
			return credentialTimeout, nil
		default:
			return credentialAbandoned, err
		}
	}
}

func (m *Manager) nextCredential(ctx context.Context, desc protocol.Descriptor, state *credentialState) (string, string, bool, error) {
	if !state.triedCache {
		state.triedCache = true
		m.mu.Lock()
		cached := m.password
		m.mu.Unlock()
		if cached != "" {
			return cached, "cache", true, nil
		}
	}
	if m.prompter == nil {
		return "", "", false, nil
	}
	state.attempt++
	name := desc.Name
	if name == "" {
		name = desc.ID
	}
	req := PromptRequest{
		DeviceID:     desc.ID,
		DeviceName:   desc.Name,
		Caption:      fmt.Sprintf("Password for %s", name),
		Instructions: "Enter the device password",
		Attempt:      state.attempt,
		Rejected:     state.rejected,
	}
	if state.rejected {
		req.Instructions = "The password was rejected. Enter the device password again"
	}
	password, ok, err := m.prompter.Prompt(ctx, req)
	if err != nil {
		return "", "", false, err
	}
	return password, "prompt", ok, nil
}

// Authenticate submits password for deviceID once. A rejected credential
// returns an error matching services.ErrAuthFailed. Accepted credentials are
// cached for later selections.
func (m *Manager) Authenticate(ctx context.Context, deviceID, password string) error {
	if m.auth == nil {
		return services.Wrap(services.ErrValidation, "session", "authenticate", "no authenticator configured", nil)
	}
	if err := m.auth.Authenticate(ctx, deviceID, password); err != nil {
		return err
	}
	m.SetPassword(password)
	return nil
}
