// Package transporttest provides a scripted in-memory transport.Channel and
// Dialer for protocol tests.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"printlink/internal/protocol"
	"printlink/internal/services"
	"printlink/internal/transport"
)

// Script reacts to an outbound frame. It runs on the sender's goroutine and
// may call Emit helpers on the channel.
type Script func(ch *Channel, frame transport.Frame)

// Channel records every sent frame and delivers events pushed by the test or
// by its Script.
type Channel struct {
	mu      sync.Mutex
	sent    []transport.Frame
	script  Script
	sendErr error
	closed  bool
	ended   bool
	events  chan transport.Event
	notify  chan struct{}
}

// New returns a channel with an optional script.
func New(script Script) *Channel {
	return &Channel{
		script: script,
		events: make(chan transport.Event, 1024),
		notify: make(chan struct{}, 1),
	}
}

// SetScript replaces the reaction script.
func (c *Channel) SetScript(script Script) {
	c.mu.Lock()
	c.script = script
	c.mu.Unlock()
}

// FailSends makes subsequent Send calls return err.
func (c *Channel) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *Channel) Send(_ context.Context, frame transport.Frame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return services.ErrConnectionClosed
	}
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return err
	}
	data := append([]byte(nil), frame.Data...)
	c.sent = append(c.sent, transport.Frame{Kind: frame.Kind, Data: data})
	script := c.script
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	if script != nil {
		script(c, frame)
	}
	return nil
}

func (c *Channel) Events() <-chan transport.Event { return c.events }

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if !c.ended {
		c.ended = true
		c.events <- transport.Event{Kind: transport.EventClose, Err: services.ErrConnectionClosed}
		close(c.events)
	}
	return nil
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Emit delivers a raw event. Fatal and Close events end the stream.
func (c *Channel) Emit(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.events <- ev
	if ev.Kind == transport.EventFatal || ev.Kind == transport.EventClose {
		c.ended = true
		close(c.events)
	}
}

// EmitJSON encodes payload and delivers it the way the websocket channel
// would, including status classification.
func (c *Channel) EmitJSON(payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("transporttest: marshal payload: %v", err))
	}
	c.EmitRaw(string(data))
}

// EmitRaw decodes a text payload, sanitizing it like the real channel.
func (c *Channel) EmitRaw(text string) {
	resp := protocol.Decode([]byte(text))
	c.Emit(transport.Event{Kind: transport.Classify(resp), Response: resp})
}

// EmitStatus delivers {"status": status}.
func (c *Channel) EmitStatus(status string) {
	c.EmitJSON(map[string]any{"status": status})
}

// EmitError delivers {"status":"error","error":label}.
func (c *Channel) EmitError(label string) {
	c.EmitJSON(map[string]any{"status": protocol.StatusError, "error": label})
}

// EmitBinary delivers a binary frame.
func (c *Channel) EmitBinary(data []byte) {
	c.Emit(transport.Event{Kind: transport.EventMessage, Response: protocol.DecodeBinary(data)})
}

// EmitFatal breaks the channel.
func (c *Channel) EmitFatal(err error) {
	if err == nil {
		err = errors.New("transport broken")
	}
	c.Emit(transport.Event{Kind: transport.EventFatal, Err: err})
}

// Sent returns a copy of every frame sent so far.
func (c *Channel) Sent() []transport.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.Frame(nil), c.sent...)
}

// TextSent returns the text frames sent so far.
func (c *Channel) TextSent() []string {
	var lines []string
	for _, frame := range c.Sent() {
		if frame.Kind == transport.FrameText {
			lines = append(lines, string(frame.Data))
		}
	}
	return lines
}

// BinarySent returns the binary frames sent so far.
func (c *Channel) BinarySent() [][]byte {
	var chunks [][]byte
	for _, frame := range c.Sent() {
		if frame.Kind == transport.FrameBinary {
			chunks = append(chunks, frame.Data)
		}
	}
	return chunks
}

// WaitSent blocks until at least n frames were sent or fails the test after
// two seconds.
func (c *Channel) WaitSent(t testing.TB, n int) []transport.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if sent := c.Sent(); len(sent) >= n {
			return sent
		}
		select {
		case <-c.notify:
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, have %d", n, len(c.Sent()))
		}
	}
}
