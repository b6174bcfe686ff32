package session

import (
	"context"
	"fmt"
	"io"
	"strings"

	"printlink/internal/cmdqueue"
	"printlink/internal/logging"
	"printlink/internal/protocol"
	"printlink/internal/services"
)

// Command is a job control intent for the selected device.
type Command int

const (
	CommandResume Command = iota
	CommandPause
	CommandStop
	CommandQuit
	CommandReport
)

var commandNames = []string{"resume", "pause", "stop", "quit", "report"}

func (c Command) String() string {
	if c >= 0 && int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// ParseCommand maps a command name to a Command. "abort" is accepted as an
// alias for stop.
func ParseCommand(name string) (Command, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "abort" {
		return CommandStop, nil
	}
	for i, candidate := range commandNames {
		if candidate == name {
			return Command(i), nil
		}
	}
	return 0, services.Wrap(services.ErrValidation, "session", "parse command", fmt.Sprintf("unknown command %q", name), nil)
}

// Result is the outcome of a dispatched command.
type Result struct {
	Command Command
	State   protocol.OperationalState
	Report  *protocol.Report
}

// Dispatch runs cmd against the selected device. Stop aborts the job and
// reports READY.
func (m *Manager) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	conn, err := m.selectedConnection()
	if err != nil {
		return Result{Command: cmd}, err
	}
	ctx = services.WithDeviceID(ctx, conn.desc.ID)
	result := Result{Command: cmd}
	switch cmd {
	case CommandResume:
		err = conn.dev.Resume(ctx)
		result.State = protocol.StateRunning
	case CommandPause:
		err = conn.dev.Pause(ctx)
		result.State = protocol.StatePaused
	case CommandStop:
		err = conn.dev.Abort(ctx)
		result.State = protocol.StateReady
	case CommandQuit:
		err = conn.dev.Quit(ctx)
		result.State = protocol.StateIdle
	case CommandReport:
		var report protocol.Report
		report, err = conn.dev.Report(ctx)
		if err == nil {
			result.State = report.State
			result.Report = &report
		}
	default:
		return result, services.Wrap(services.ErrValidation, "session", "dispatch", cmd.String(), nil)
	}
	if err != nil {
		return Result{Command: cmd}, err
	}
	m.recordState(conn, result.State)
	logging.WithContext(ctx, m.logger).Debug("command dispatched",
		logging.String(logging.FieldCommand, cmd.String()),
		logging.String("state", string(result.State)),
	)
	return result, nil
}

// UploadAndStart starts a job on the selected device. An idle device gets
// the upload; a running device is left alone; a completed or aborted job is
// quit before the upload begins. A nil payload resolves READY without
// contacting the device.
func (m *Manager) UploadAndStart(ctx context.Context, payload io.Reader, size int64, onProgress func(cmdqueue.Progress)) (protocol.OperationalState, error) {
	if payload == nil {
		return protocol.StateReady, nil
	}
	conn, err := m.selectedConnection()
	if err != nil {
		return "", err
	}
	ctx = services.WithDeviceID(ctx, conn.desc.ID)
	logger := logging.WithContext(ctx, m.logger)

	report, err := conn.dev.Report(ctx)
	if err != nil {
		return "", err
	}
	switch report.State {
	case protocol.StateRunning:
		m.recordState(conn, protocol.StateRunning)
		return protocol.StateRunning, nil
	case protocol.StateCompleted, protocol.StateAborted:
		logger.Info("clearing finished job before upload", logging.String("state", string(report.State)))
		if err := conn.dev.Quit(ctx); err != nil {
			return report.State, err
		}
	case protocol.StateIdle:
	default:
		return report.State, services.Wrap(services.ErrResourceBusy, "session", "upload",
			fmt.Sprintf("device is %s", report.State), nil)
	}

	if err := conn.dev.Upload(ctx, payload, size, onProgress); err != nil {
		return "", err
	}
	m.recordState(conn, protocol.StateRunning)
	logger.Info("job started")
	return protocol.StateRunning, nil
}

// ClearConnection quits a completed job on the selected device and reports
// READY.
func (m *Manager) ClearConnection(ctx context.Context) (protocol.OperationalState, error) {
	conn, err := m.selectedConnection()
	if err != nil {
		return "", err
	}
	report, err := conn.dev.Report(ctx)
	if err != nil {
		return "", err
	}
	if report.State == protocol.StateCompleted {
		if err := conn.dev.Quit(ctx); err != nil {
			return report.State, err
		}
	}
	m.recordState(conn, protocol.StateReady)
	return protocol.StateReady, nil
}

// ListFiles lists a directory on the selected device.
func (m *Manager) ListFiles(ctx context.Context, dir string) (protocol.Listing, error) {
	conn, err := m.selectedConnection()
	if err != nil {
		return protocol.Listing{}, err
	}
	return conn.dev.List(ctx, dir)
}

// FileInfo returns metadata for a file on the selected device.
func (m *Manager) FileInfo(ctx context.Context, dir, name string) (protocol.FileInfo, error) {
	conn, err := m.selectedConnection()
	if err != nil {
		return protocol.FileInfo{}, err
	}
	return conn.dev.FileInfo(ctx, dir, name)
}

// PreviewImage returns the current job preview of the selected device, or
// nil when it has none.
func (m *Manager) PreviewImage(ctx context.Context) ([]byte, error) {
	conn, err := m.selectedConnection()
	if err != nil {
		return nil, err
	}
	return conn.dev.Preview(ctx)
}

// StartCamera streams camera frames from the selected device. A stream
// running on another device is stopped first.
func (m *Manager) StartCamera(ctx context.Context, onFrame func([]byte)) error {
	conn, err := m.selectedConnection()
	if err != nil {
		return err
	}
	if err := m.StopCamera(); err != nil {
		return err
	}
	if err := conn.dev.StartCamera(ctx, onFrame); err != nil {
		return err
	}
	m.mu.Lock()
	m.camera = conn.desc.ID
	m.mu.Unlock()
	return nil
}

// StopCamera stops the active camera stream. It is safe to call when no
// stream is running.
func (m *Manager) StopCamera() error {
	m.mu.Lock()
	id := m.camera
	m.camera = ""
	conn := m.conns[id]
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.dev.StopCamera()
}
