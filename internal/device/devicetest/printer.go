// Package devicetest simulates printers behind a bridge for protocol tests.
package devicetest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"printlink/internal/bridge"
	"printlink/internal/protocol"
	"printlink/internal/services"
	"printlink/internal/transport"
	"printlink/internal/transport/transporttest"
)

// BaseURL is the bridge address the fleet answers on.
const BaseURL = "ws://bridge.test"

// Printer is one simulated device. Exported fields may be set before the
// printer is dialed; use the accessor methods after that.
type Printer struct {
	ID       string
	Name     string
	Password string
	// Silent printers never greet, so handshakes time out.
	Silent bool
	// ReportRaw, when set, is sent verbatim in reply to report.
	ReportRaw    string
	StateID      int
	Directories  []string
	Files        []string
	Preview      []byte
	CameraFrames [][]byte

	mu         sync.Mutex
	authorized bool
	challenges int
	expected   int64
	received   []byte
	uploads    [][]byte
	journal    []string
	controls   []*transporttest.Channel
}

// Journal returns every command verb and "chunk" for each binary frame, in
// arrival order across all control channels.
func (p *Printer) Journal() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.journal...)
}

// Challenges returns how many handshakes were refused for missing
// credentials.
func (p *Printer) Challenges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.challenges
}

// Uploads returns every completed upload payload.
func (p *Printer) Uploads() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.uploads...)
}

// State returns the current st_id.
func (p *Printer) State() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.StateID
}

// SetState replaces the current st_id.
func (p *Printer) SetState(id int) {
	p.mu.Lock()
	p.StateID = id
	p.mu.Unlock()
}

// Controls returns the control channels opened so far.
func (p *Printer) Controls() []*transporttest.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*transporttest.Channel(nil), p.controls...)
}

// Descriptor returns the discovery descriptor for the printer.
func (p *Printer) Descriptor() protocol.Descriptor {
	return protocol.Descriptor{ID: p.ID, Name: p.Name, PasswordRequired: p.Password != ""}
}

func (p *Printer) openControl() *transporttest.Channel {
	ch := transporttest.New(p.script)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controls = append(p.controls, ch)
	switch {
	case p.Silent:
	case p.Password != "" && !p.authorized:
		p.challenges++
		ch.EmitError("control: AUTH_ERROR")
	default:
		ch.EmitStatus(protocol.StatusConnecting)
		ch.EmitStatus(protocol.StatusConnected)
	}
	return ch
}

func (p *Printer) openCamera() *transporttest.Channel {
	ch := transporttest.New(nil)
	p.mu.Lock()
	frames := p.CameraFrames
	p.mu.Unlock()
	for _, frame := range frames {
		ch.EmitBinary(frame)
	}
	return ch
}

func (p *Printer) script(ch *transporttest.Channel, frame transport.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if frame.Kind == transport.FrameBinary {
		p.journal = append(p.journal, "chunk")
		p.received = append(p.received, frame.Data...)
		if int64(len(p.received)) >= p.expected {
			p.uploads = append(p.uploads, p.received)
			p.received = nil
			p.StateID = protocol.StateIDRunning
			ch.EmitStatus(protocol.StatusOK)
		}
		return
	}

	fields := strings.Fields(string(frame.Data))
	if len(fields) == 0 {
		ch.EmitError("control: UNKNOWN_COMMAND")
		return
	}
	p.journal = append(p.journal, fields[0])
	switch fields[0] {
	case "report":
		if p.ReportRaw != "" {
			ch.EmitRaw(p.ReportRaw)
			return
		}
		ch.EmitJSON(map[string]any{"status": "ok", "st_id": p.StateID, "prog": 0.5, "rt": 200.0})
	case "pause":
		p.StateID = protocol.StateIDPaused
		ch.EmitStatus(protocol.StatusOK)
	case "resume":
		p.StateID = protocol.StateIDRunning
		ch.EmitStatus(protocol.StatusOK)
	case "abort":
		p.StateID = protocol.StateIDAborted
		ch.EmitStatus(protocol.StatusOK)
	case "quit":
		p.StateID = protocol.StateIDIdle
		ch.EmitStatus(protocol.StatusOK)
	case "upload":
		size, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
		if err != nil || len(fields) != 3 {
			ch.EmitError("upload: BAD_PARAMS")
			return
		}
		if p.StateID != protocol.StateIDIdle {
			ch.EmitError("upload: RESOURCE_BUSY")
			return
		}
		p.expected = size
		p.received = nil
		ch.EmitStatus(protocol.StatusContinue)
	case "ls":
		ch.EmitJSON(map[string]any{"status": "ok", "directories": p.Directories, "files": p.Files})
	case "fileinfo":
		ch.EmitJSON(map[string]any{"status": "ok", "size": 2048, "path": strings.Join(fields[1:], " ")})
	case "get_preview":
		if p.Preview != nil {
			ch.EmitBinary(p.Preview)
			return
		}
		ch.EmitStatus(protocol.StatusOK)
	default:
		ch.EmitError("control: UNKNOWN_COMMAND")
	}
}

// Fleet routes bridge endpoints to simulated printers.
type Fleet struct {
	Endpoints bridge.Endpoints
	Dialer    *transporttest.Dialer

	mu       sync.Mutex
	printers map[string]*Printer
	attempts []string
}

// NewFleet returns a fleet serving printers.
func NewFleet(printers ...*Printer) *Fleet {
	f := &Fleet{
		Endpoints: bridge.Endpoints{Base: BaseURL},
		printers:  make(map[string]*Printer, len(printers)),
	}
	for _, p := range printers {
		f.printers[p.ID] = p
	}
	f.Dialer = transporttest.NewDialer(f.dial)
	return f
}

// Authenticate implements the touch exchange against the simulated printer.
func (f *Fleet) Authenticate(_ context.Context, deviceID, password string) error {
	f.mu.Lock()
	f.attempts = append(f.attempts, password)
	p := f.printers[deviceID]
	f.mu.Unlock()
	if p == nil {
		return services.NewError(services.ErrNotFound, "touch", "unknown device "+deviceID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if password != p.Password {
		return services.NewError(services.ErrAuthFailed, "touch", "credential rejected")
	}
	p.authorized = true
	return nil
}

// Attempts returns every password submitted through Authenticate.
func (f *Fleet) Attempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attempts...)
}

func (f *Fleet) dial(endpoint string) (transport.Channel, error) {
	rest := strings.TrimPrefix(endpoint, BaseURL+"/ws/")
	kind, id, _ := strings.Cut(rest, "/")
	f.mu.Lock()
	p := f.printers[id]
	f.mu.Unlock()
	if p == nil {
		return nil, services.Wrap(services.ErrProtocol, "devicetest", "dial", fmt.Sprintf("no printer at %s", endpoint), nil)
	}
	switch kind {
	case "control":
		return p.openControl(), nil
	case "camera":
		return p.openCamera(), nil
	}
	return nil, services.Wrap(services.ErrProtocol, "devicetest", "dial", "unsupported endpoint "+endpoint, nil)
}
