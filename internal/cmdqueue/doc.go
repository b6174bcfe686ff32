// Package cmdqueue serializes protocol commands over a single transport
// channel.
//
// The wire protocol carries no request ids, so a response is attributed to
// whichever command was sent last. The queue therefore keeps at most one
// command in flight: a scheduler goroutine owns the channel's inbound events,
// dequeues the next submitted command only after the current one reaches a
// terminal outcome, and routes every inbound message to the current command's
// Handler. Submission never blocks the caller; each command reports through a
// Pending that carries optional progress and exactly one tagged Outcome.
//
// A fatal channel event or a failed write rejects the current command and
// every queued command with services.ErrQueueFatal, and all later submissions
// fail the same way without being sent.
package cmdqueue
