package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"printlink/internal/cmdqueue"
	"printlink/internal/logging"
	"printlink/internal/protocol"
	"printlink/internal/services"
	"printlink/internal/session"
)

// DeviceView merges the catalog entry of a device with its session state.
type DeviceView struct {
	protocol.Descriptor
	Connection protocol.ConnectionStatus
	State      protocol.OperationalState
	Selected   bool
	LastError  string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// SelectResult is the outcome of a select request.
type SelectResult struct {
	Device protocol.Descriptor
	Status protocol.ConnectionStatus
	// Rejected is set when the supplied password was refused.
	Rejected bool
}

// PrintResult is the outcome of a print request.
type PrintResult struct {
	State protocol.OperationalState
	Bytes int64
}

// Devices lists every cataloged device with its live session state.
func (d *Daemon) Devices(ctx context.Context) ([]DeviceView, error) {
	entries, err := d.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	states := map[string]session.DeviceState{}
	var manager *session.Manager
	if m, _, err := d.session(); err == nil {
		manager = m
		for _, state := range m.Devices() {
			states[state.ID] = state
		}
	}

	views := make([]DeviceView, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		seen[entry.ID] = true
		view := DeviceView{
			Descriptor: entry.Descriptor,
			Connection: protocol.ConnUnconnected,
			FirstSeen:  entry.FirstSeen,
			LastSeen:   entry.LastSeen,
		}
		if state, ok := states[entry.ID]; ok {
			view.Connection = state.Status
			view.State = state.State
			view.Selected = state.Selected
		}
		if manager != nil {
			view.LastError = manager.LastErrorLabel(entry.ID)
		}
		views = append(views, view)
	}
	for _, state := range states {
		if seen[state.ID] {
			continue
		}
		views = append(views, DeviceView{
			Descriptor: protocol.Descriptor{ID: state.ID, Name: state.Name},
			Connection: state.Status,
			State:      state.State,
			Selected:   state.Selected,
		})
	}
	return views, nil
}

// Select resolves ref by id or name and selects that device. A password, when
// supplied, answers the first credential prompt.
func (d *Daemon) Select(ctx context.Context, ref, password string) (SelectResult, error) {
	manager, _, err := d.session()
	if err != nil {
		return SelectResult{}, err
	}
	desc, err := d.resolve(ctx, ref)
	if err != nil {
		return SelectResult{}, err
	}
	ctx, cred := withCredential(services.WithDeviceID(ctx, desc.ID), password)
	status, err := manager.SelectDevice(ctx, desc)
	return SelectResult{Device: desc, Status: status, Rejected: cred.wasRejected()}, err
}

// resolve finds a cataloged device. Well-formed device ids that the catalog
// has not seen yet are accepted as-is.
func (d *Daemon) resolve(ctx context.Context, ref string) (protocol.Descriptor, error) {
	entry, err := d.catalog.Resolve(ctx, ref)
	if err == nil {
		return entry.Descriptor, nil
	}
	if errors.Is(err, services.ErrNotFound) && services.ValidDeviceID(strings.TrimSpace(ref)) {
		return protocol.Descriptor{ID: strings.TrimSpace(ref)}, nil
	}
	return protocol.Descriptor{}, err
}

// Command dispatches a job control command to the selected device.
func (d *Daemon) Command(ctx context.Context, name string) (session.Result, error) {
	manager, _, err := d.session()
	if err != nil {
		return session.Result{}, err
	}
	cmd, err := session.ParseCommand(name)
	if err != nil {
		return session.Result{}, err
	}
	return manager.Dispatch(ctx, cmd)
}

// ListFiles lists a directory on the selected device.
func (d *Daemon) ListFiles(ctx context.Context, dir string) (protocol.Listing, error) {
	manager, _, err := d.session()
	if err != nil {
		return protocol.Listing{}, err
	}
	return manager.ListFiles(ctx, dir)
}

// FileInfo describes one file on the selected device.
func (d *Daemon) FileInfo(ctx context.Context, dir, name string) (protocol.FileInfo, error) {
	manager, _, err := d.session()
	if err != nil {
		return protocol.FileInfo{}, err
	}
	return manager.FileInfo(ctx, dir, name)
}

// Preview fetches the current job preview from the selected device.
func (d *Daemon) Preview(ctx context.Context) ([]byte, error) {
	manager, _, err := d.session()
	if err != nil {
		return nil, err
	}
	return manager.PreviewImage(ctx)
}

// Print uploads the job file at path to the selected device and starts it.
func (d *Daemon) Print(ctx context.Context, path string) (PrintResult, error) {
	manager, _, err := d.session()
	if err != nil {
		return PrintResult{}, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return PrintResult{}, services.Wrap(services.ErrValidation, "daemon", "print", "job path is required", nil)
	}
	file, err := os.Open(path)
	if err != nil {
		return PrintResult{}, services.Wrap(services.ErrValidation, "daemon", "print", "open job", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return PrintResult{}, fmt.Errorf("stat job: %w", err)
	}
	if info.IsDir() {
		return PrintResult{}, services.Wrap(services.ErrValidation, "daemon", "print", fmt.Sprintf("%s is a directory", path), nil)
	}

	desc, _ := manager.Selected()
	logger := d.logger.With(logging.String(logging.FieldDeviceID, desc.ID))
	state, err := manager.UploadAndStart(ctx, file, info.Size(), func(update cmdqueue.Progress) {
		logger.Debug("upload progress", logging.Int("percent", update.Percent))
	})
	if err != nil {
		return PrintResult{State: state}, err
	}
	if state == protocol.StateRunning {
		if notifyErr := d.notifier.NotifyPrintStarted(ctx, desc, filepath.Base(path)); notifyErr != nil {
			logger.Debug("print notification failed", logging.Error(notifyErr))
		}
	}
	logger.Info("print job submitted",
		logging.String("job", filepath.Base(path)),
		logging.Int64("bytes", info.Size()),
		logging.String("state", string(state)),
	)
	return PrintResult{State: state, Bytes: info.Size()}, nil
}

// Clear quits a finished job on the selected device.
func (d *Daemon) Clear(ctx context.Context) (protocol.OperationalState, error) {
	manager, _, err := d.session()
	if err != nil {
		return protocol.StateUnknown, err
	}
	return manager.ClearConnection(ctx)
}

// Rescan asks the discovery feed to re-announce devices.
func (d *Daemon) Rescan() bool {
	d.mu.Lock()
	feed := d.feed
	d.mu.Unlock()
	if feed == nil {
		return false
	}
	feed.Rescan()
	return true
}

// PruneCatalog removes devices not seen within maxAge.
func (d *Daemon) PruneCatalog(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, services.Wrap(services.ErrValidation, "daemon", "prune", "max age must be positive", nil)
	}
	return d.catalog.Prune(ctx, maxAge)
}
