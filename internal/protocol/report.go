package protocol

import (
	"strings"
)

// OperationalState is the coarse job state of a device.
type OperationalState string

const (
	StateReady     OperationalState = "READY"
	StateIdle      OperationalState = "IDLE"
	StateRunning   OperationalState = "RUNNING"
	StatePaused    OperationalState = "PAUSED"
	StateCompleted OperationalState = "COMPLETED"
	StateAborted   OperationalState = "ABORTED"
	StateUnknown   OperationalState = "UNKNOWN"
)

// Device state ids reported in st_id.
const (
	StateIDIdle      = 0
	StateIDRunning   = 16
	StateIDPaused    = 48
	StateIDCompleted = 64
	StateIDAborted   = 128
)

var stateByID = map[int]OperationalState{
	StateIDIdle:      StateIdle,
	StateIDRunning:   StateRunning,
	StateIDPaused:    StatePaused,
	StateIDCompleted: StateCompleted,
	StateIDAborted:   StateAborted,
}

// Report is a parsed device status snapshot. Optional numeric fields are nil
// when the device omitted them or sent a placeholder.
type Report struct {
	StateID           int              `json:"st_id"`
	StateLabel        string           `json:"st_label"`
	State             OperationalState `json:"state"`
	Progress          *float64         `json:"progress,omitempty"`
	Temperature       *float64         `json:"temperature,omitempty"`
	TargetTemperature *float64         `json:"target_temperature,omitempty"`
	ErrorLabels       []string         `json:"error_labels,omitempty"`
	Sanitized         bool             `json:"sanitized,omitempty"`
}

// ParseReport builds a Report from a decoded response. Payloads that could
// not be parsed at all yield an UNKNOWN report rather than an error.
func ParseReport(resp Response) Report {
	report := Report{StateID: -1, State: StateUnknown, Sanitized: resp.Sanitized}
	if resp.Fields == nil {
		report.Sanitized = true
		return report
	}

	if id, ok := resp.Float("st_id"); ok {
		report.StateID = int(id)
	}
	report.StateLabel = strings.ToUpper(strings.TrimSpace(resp.String("st_label")))
	report.State = stateFor(report.StateID, report.StateLabel)

	if v, ok := resp.Float("prog"); ok {
		report.Progress = &v
	}
	if v, ok := resp.Float("rt"); ok {
		report.Temperature = &v
	}
	if v, ok := resp.Float("tt"); ok {
		report.TargetTemperature = &v
	}
	report.ErrorLabels = resp.Strings("error")
	return report
}

func stateFor(id int, label string) OperationalState {
	switch OperationalState(label) {
	case StateIdle, StateRunning, StatePaused, StateCompleted, StateAborted:
		return OperationalState(label)
	}
	if strings.HasPrefix(label, "PAUS") {
		return StatePaused
	}
	if state, ok := stateByID[id]; ok {
		return state
	}
	return StateUnknown
}
