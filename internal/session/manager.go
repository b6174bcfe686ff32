package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"printlink/internal/logging"
	"printlink/internal/protocol"
	"printlink/internal/services"
)

// Options wires a Manager to its collaborators. Connector is required;
// Authenticator and Prompter may be nil, in which case challenged devices
// resolve AUTH_REQUIRED.
type Options struct {
	Connector     Connector
	Authenticator Authenticator
	Prompter      Prompter
	Notifier      Notifier
	Logger        *slog.Logger
}

type connection struct {
	desc  protocol.Descriptor
	dev   Device
	state protocol.OperationalState
}

// DeviceState is a snapshot of one device known to the manager.
type DeviceState struct {
	ID       string                    `json:"id"`
	Name     string                    `json:"name"`
	Status   protocol.ConnectionStatus `json:"status"`
	State    protocol.OperationalState `json:"state,omitempty"`
	Selected bool                      `json:"selected"`
}

// Manager is the session context object.
type Manager struct {
	connector Connector
	auth      Authenticator
	prompter  Prompter
	notifier  Notifier
	logger    *slog.Logger

	group singleflight.Group

	mu        sync.Mutex
	conns     map[string]*connection
	status    map[string]protocol.ConnectionStatus
	names     map[string]string
	selected  string
	camera    string
	password  string
	errLabels map[string]string
	closed    bool
}

// New constructs a manager.
func New(opts Options) (*Manager, error) {
	if opts.Connector == nil {
		return nil, services.Wrap(services.ErrValidation, "session", "new", "connector is required", nil)
	}
	return &Manager{
		connector: opts.Connector,
		auth:      opts.Authenticator,
		prompter:  opts.Prompter,
		notifier:  opts.Notifier,
		logger:    logging.NewComponentLogger(opts.Logger, "session"),
		conns:     make(map[string]*connection),
		status:    make(map[string]protocol.ConnectionStatus),
		names:     make(map[string]string),
		errLabels: make(map[string]string),
	}, nil
}

// State returns the connection status recorded for id.
func (m *Manager) State(id string) protocol.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.status[id]; ok {
		return status
	}
	return protocol.ConnUnconnected
}

// Selected returns the descriptor of the selected device.
func (m *Manager) Selected() (protocol.Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[m.selected]
	if !ok {
		return protocol.Descriptor{}, false
	}
	return conn.desc, true
}

// Devices returns every device the manager attempted, sorted by name.
func (m *Manager) Devices() []DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeviceState, 0, len(m.status))
	for id, status := range m.status {
		state := DeviceState{ID: id, Name: m.names[id], Status: status, Selected: id == m.selected}
		if conn, ok := m.conns[id]; ok {
			state.State = conn.state
		}
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetPassword replaces the cached credential tried before prompting.
func (m *Manager) SetPassword(password string) {
	m.mu.Lock()
	m.password = password
	m.mu.Unlock()
}

// Close tears down every connection. Camera streams close before their
// control channels.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := m.conns
	m.conns = make(map[string]*connection)
	m.selected = ""
	m.camera = ""
	for id := range m.status {
		m.status[id] = protocol.ConnUnconnected
	}
	m.mu.Unlock()

	var errs []error
	for id, conn := range conns {
		if err := conn.dev.Close(); err != nil {
			errs = append(errs, err)
		}
		m.logger.Debug("connection closed", logging.String(logging.FieldDeviceID, id))
	}
	return errors.Join(errs...)
}

func (m *Manager) setStatus(desc protocol.Descriptor, status protocol.ConnectionStatus) {
	m.mu.Lock()
	m.status[desc.ID] = status
	if desc.Name != "" {
		m.names[desc.ID] = desc.Name
	}
	m.mu.Unlock()
}

func (m *Manager) selectedConnection() (*connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[m.selected]
	if !ok {
		return nil, services.NewError(services.ErrNoDeviceSelected, "session", "no device selected")
	}
	return conn, nil
}

func (m *Manager) recordState(conn *connection, state protocol.OperationalState) {
	m.mu.Lock()
	conn.state = state
	m.mu.Unlock()
}

func deviceLogger(ctx context.Context, logger *slog.Logger, id string) *slog.Logger {
	return logging.WithContext(services.WithDeviceID(ctx, id), logger)
}
