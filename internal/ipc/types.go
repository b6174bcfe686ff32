package ipc

import (
	"time"

	"printlink/internal/protocol"
)

// StartRequest starts the device session.
type StartRequest struct{}

// StartResponse indicates whether the session was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the device session.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// DeviceState is the session view of one device.
type DeviceState struct {
	ID       string                    `json:"id"`
	Name     string                    `json:"name"`
	Status   protocol.ConnectionStatus `json:"status"`
	State    protocol.OperationalState `json:"state,omitempty"`
	Selected bool                      `json:"selected"`
}

// DependencyStatus reports whether an external binary is installed.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// StatusResponse describes the running daemon.
type StatusResponse struct {
	Running          bool               `json:"running"`
	PID              int                `json:"pid"`
	LockPath         string             `json:"lock_path"`
	CatalogPath      string             `json:"catalog_path"`
	BridgeURL        string             `json:"bridge_url"`
	LogPath          string             `json:"log_path"`
	DiscoveryRunning bool               `json:"discovery_running"`
	HotplugRunning   bool               `json:"hotplug_running"`
	BackendPort      int                `json:"backend_port,omitempty"`
	APIAddress       string             `json:"api_address,omitempty"`
	Selected         string             `json:"selected,omitempty"`
	Devices          []DeviceState      `json:"devices"`
	Dependencies     []DependencyStatus `json:"dependencies"`
}

// DevicesRequest lists cataloged devices.
type DevicesRequest struct{}

// DeviceInfo merges the catalog entry and the session state of a device.
type DeviceInfo struct {
	ID               string                    `json:"id"`
	Name             string                    `json:"name"`
	Serial           string                    `json:"serial,omitempty"`
	Address          string                    `json:"address,omitempty"`
	PasswordRequired bool                      `json:"password_required"`
	Connection       protocol.ConnectionStatus `json:"connection"`
	State            protocol.OperationalState `json:"state,omitempty"`
	Selected         bool                      `json:"selected"`
	LastError        string                    `json:"last_error,omitempty"`
	FirstSeen        time.Time                 `json:"first_seen"`
	LastSeen         time.Time                 `json:"last_seen"`
}

// DevicesResponse contains every known device.
type DevicesResponse struct {
	Devices []DeviceInfo `json:"devices"`
}

// SelectRequest selects a device by id or name.
type SelectRequest struct {
	Ref      string `json:"ref"`
	Password string `json:"password,omitempty"`
}

// SelectResponse reports the connection status after selection. Rejected is
// set when the supplied password was refused.
type SelectResponse struct {
	ID       string                    `json:"id"`
	Name     string                    `json:"name"`
	Status   protocol.ConnectionStatus `json:"status"`
	Rejected bool                      `json:"rejected"`
}

// CommandRequest dispatches a job control command.
type CommandRequest struct {
	Name string `json:"name"`
}

// CommandResponse carries the resulting state and, for report, the snapshot.
type CommandResponse struct {
	Command string                    `json:"command"`
	State   protocol.OperationalState `json:"state"`
	Report  *protocol.Report          `json:"report,omitempty"`
}

// ListFilesRequest lists a directory on the selected device.
type ListFilesRequest struct {
	Path string `json:"path"`
}

// ListFilesResponse contains the directory listing.
type ListFilesResponse struct {
	Listing protocol.Listing `json:"listing"`
}

// FileInfoRequest describes one stored job file.
type FileInfoRequest struct {
	Dir  string `json:"dir"`
	Name string `json:"name"`
}

// FileInfoResponse contains the file metadata.
type FileInfoResponse struct {
	Info protocol.FileInfo `json:"info"`
}

// PreviewRequest fetches the current job preview.
type PreviewRequest struct{}

// PreviewResponse contains the preview image bytes.
type PreviewResponse struct {
	Image []byte `json:"image"`
}

// PrintRequest uploads and starts a job file readable by the daemon.
type PrintRequest struct {
	Path string `json:"path"`
}

// PrintResponse reports the device state after the upload.
type PrintResponse struct {
	State protocol.OperationalState `json:"state"`
	Bytes int64                     `json:"bytes"`
}

// ClearRequest quits a finished job.
type ClearRequest struct{}

// ClearResponse reports the device state after clearing.
type ClearResponse struct {
	State protocol.OperationalState `json:"state"`
}

// CameraRequest captures frames from the selected device.
type CameraRequest struct {
	Frames        int    `json:"frames"`
	TimeoutMillis int64  `json:"timeout_ms"`
	Dir           string `json:"dir,omitempty"`
}

// CameraResponse lists the written frame files.
type CameraResponse struct {
	Paths []string `json:"paths"`
}

// SliceSetting is one engine parameter override.
type SliceSetting struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SliceRequest runs a slicing job on model files readable by the daemon.
type SliceRequest struct {
	Models   []string       `json:"models"`
	Engine   string         `json:"engine,omitempty"`
	Settings []SliceSetting `json:"settings,omitempty"`
	Mode     string         `json:"mode,omitempty"`
	ViaPath  bool           `json:"via_path"`
	Output   string         `json:"output,omitempty"`
}

// SliceResponse reports where the sliced job was written.
type SliceResponse struct {
	Path     string  `json:"path"`
	Bytes    int     `json:"bytes"`
	Time     float64 `json:"time"`
	Filament float64 `json:"filament"`
}

// RescanRequest asks the discovery feed to re-announce devices.
type RescanRequest struct{}

// RescanResponse reports whether a feed was running to receive the request.
type RescanResponse struct {
	Triggered bool `json:"triggered"`
}

// PruneRequest removes devices not seen within MaxAgeHours.
type PruneRequest struct {
	MaxAgeHours float64 `json:"max_age_hours"`
}

// PruneResponse reports how many catalog rows were removed.
type PruneResponse struct {
	Removed int64 `json:"removed"`
}

// LogTailRequest reads the daemon log.
type LogTailRequest struct {
	Offset     int64  `json:"offset"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_ms"`
	Match      string `json:"match,omitempty"`
}

// LogTailResponse returns log lines and the offset to resume from.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest sends a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the notification outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
