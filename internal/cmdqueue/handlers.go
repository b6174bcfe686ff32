package cmdqueue

import (
	"printlink/internal/protocol"
	"printlink/internal/transport"
)

// Handler interprets the non-error messages received while its command is in
// flight. Error and fatal events are handled by the queue itself. Handlers run
// on the queue goroutine.
type Handler interface {
	Handle(x *Exchange, resp protocol.Response)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(x *Exchange, resp protocol.Response)

func (f HandlerFunc) Handle(x *Exchange, resp protocol.Response) { f(x, resp) }

// Exchange lets a handler act on its in-flight command.
type Exchange struct {
	q   *Queue
	cmd *command
}

// Label returns the command label.
func (x *Exchange) Label() string { return x.cmd.req.Label }

// Send writes a frame on the command's channel. A failed write breaks the
// queue once the handler returns.
func (x *Exchange) Send(frame transport.Frame) error {
	if x.cmd.sendErr != nil {
		return x.cmd.sendErr
	}
	if err := x.q.write(frame); err != nil {
		x.cmd.sendErr = err
		return err
	}
	return nil
}

// Notify streams a progress update to the caller.
func (x *Exchange) Notify(update Progress) { x.cmd.pending.notify(update) }

// Resolve finishes the command successfully.
func (x *Exchange) Resolve(resp protocol.Response) { x.cmd.finish(protocol.Ok(resp)) }

// Reject finishes the command with err.
func (x *Exchange) Reject(resp protocol.Response, err error) {
	x.cmd.finish(protocol.Failed(resp, err))
}

// Finished reports whether the command already has an outcome.
func (x *Exchange) Finished() bool { return x.cmd.done }

// Simple resolves on the first message.
func Simple() Handler {
	return HandlerFunc(func(x *Exchange, resp protocol.Response) {
		x.Resolve(resp)
	})
}

// Connect waits out "connecting" notices and resolves on "connected".
func Connect() Handler {
	return HandlerFunc(func(x *Exchange, resp protocol.Response) {
		if resp.Status == protocol.StatusConnected {
			x.Resolve(resp)
		}
	})
}

// LongPoll buffers intermediate messages and, on "ok", resolves with the most
// recent one, or with an empty response when none arrived.
func LongPoll() Handler {
	var last *protocol.Response
	return HandlerFunc(func(x *Exchange, resp protocol.Response) {
		if resp.Status == protocol.StatusOK {
			if last != nil {
				x.Resolve(*last)
				return
			}
			x.Resolve(protocol.Response{})
			return
		}
		latest := resp
		last = &latest
	})
}

// BinaryResult resolves on the first binary frame. When allowEmpty is set an
// "ok" without binary data resolves with an empty response; other text
// messages are skipped.
func BinaryResult(allowEmpty bool) Handler {
	return HandlerFunc(func(x *Exchange, resp protocol.Response) {
		if resp.IsBinary() {
			x.Resolve(resp)
			return
		}
		if allowEmpty && resp.Status == protocol.StatusOK {
			x.Resolve(protocol.Response{})
		}
	})
}
