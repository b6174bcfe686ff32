// Package transport defines the bidirectional message channel consumed by the
// command queue and session layers, and a websocket implementation of it.
package transport

import (
	"context"

	"printlink/internal/protocol"
)

// FrameKind distinguishes text command lines from binary payloads.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

// Frame is one outbound message.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Text builds a text frame.
func Text(line string) Frame { return Frame{Kind: FrameText, Data: []byte(line)} }

// Binary builds a binary frame.
func Binary(data []byte) Frame { return Frame{Kind: FrameBinary, Data: data} }

// EventKind tags inbound channel events.
type EventKind int

const (
	// EventMessage carries a decoded peer response.
	EventMessage EventKind = iota
	// EventError carries a peer-reported error for the current command.
	EventError
	// EventFatal reports that the channel is broken.
	EventFatal
	// EventClose reports an orderly close.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventFatal:
		return "fatal"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one inbound notification from a channel.
type Event struct {
	Kind     EventKind
	Response protocol.Response
	Err      error
}

// Channel is an opaque request/response connection to a device or backend.
// Events is closed after a Fatal or Close event has been delivered. Send
// must not retain frame.Data after it returns.
type Channel interface {
	Send(ctx context.Context, frame Frame) error
	Events() <-chan Event
	Close() error
}

// Dialer opens channels to bridge endpoints.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Channel, error)
}

// Classify maps a decoded text response to the event kind the bridge intends.
func Classify(resp protocol.Response) EventKind {
	switch resp.Status {
	case protocol.StatusError:
		return EventError
	case protocol.StatusFatal:
		return EventFatal
	default:
		return EventMessage
	}
}
