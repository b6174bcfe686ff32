package slicing

import "printlink/internal/protocol"

// Slicing progress statuses reported by the backend.
const (
	StatusComputing = "computing"
	StatusComplete  = "complete"
	StatusWarning   = "warning"
)

// Progress is the latest slicing progress frame.
type Progress struct {
	Status     string
	Message    string
	Percentage float64
	// Length, Time and Filament are populated on completion.
	Length   float64
	Time     float64
	Filament float64
	// Empty is set when the poll ended without any progress frame.
	Empty  bool
	Fields map[string]any
}

// Complete reports whether slicing finished.
func (p Progress) Complete() bool { return p.Status == StatusComplete }

// ParseProgress decodes a report_slicing answer.
func ParseProgress(resp protocol.Response) Progress {
	if resp.Fields == nil {
		return Progress{Empty: true}
	}
	p := Progress{
		Status:  resp.Status,
		Message: resp.String("message"),
		Fields:  resp.Fields,
	}
	if v, ok := resp.Float("percentage"); ok {
		p.Percentage = v
	}
	if v, ok := resp.Float("length"); ok {
		p.Length = v
	}
	if v, ok := resp.Float("time"); ok {
		p.Time = v
	}
	if v, ok := resp.Float("filament_length"); ok {
		p.Filament = v
	}
	if p.Complete() && p.Percentage == 0 {
		p.Percentage = 1
	}
	return p
}
