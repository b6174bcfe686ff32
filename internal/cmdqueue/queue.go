package cmdqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"printlink/internal/logging"
	"printlink/internal/protocol"
	"printlink/internal/services"
	"printlink/internal/transport"
)

const (
	defaultInterval      = 10 * time.Millisecond
	defaultChunkSize     = 4096
	defaultProgressSteps = 10
	defaultWriteTimeout  = 30 * time.Second
)

// Request describes one command. Line is sent as a text frame when the
// command starts; an empty Line sends nothing and waits for the peer.
type Request struct {
	Label   string
	Line    string
	Handler Handler
}

type command struct {
	req     Request
	pending *Pending
	done    bool
	sendErr error
}

func (c *command) finish(outcome protocol.Outcome) {
	if c.done {
		return
	}
	c.done = true
	c.pending.finish(outcome)
}

// Option customizes a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logging.NewComponentLogger(logger, "cmdqueue") }
}

// WithInterval sets the scheduler tick.
func WithInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.interval = d
		}
	}
}

// WithChunkSize sets the upload chunk size in bytes.
func WithChunkSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.chunkSize = n
		}
	}
}

// WithProgressSteps sets how many discrete progress values an upload reports.
func WithProgressSteps(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.steps = n
		}
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.writeTimeout = d
		}
	}
}

// Queue serializes commands against one channel.
type Queue struct {
	ch           transport.Channel
	logger       *slog.Logger
	interval     time.Duration
	chunkSize    int
	steps        int
	writeTimeout time.Duration

	mu      sync.Mutex
	waiting []*command
	err     error

	locked    atomic.Bool
	wake      chan struct{}
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// New starts a queue over ch. The queue owns ch from here on.
func New(ch transport.Channel, opts ...Option) *Queue {
	q := newQueue(ch, opts)
	go q.run()
	return q
}

// Open starts a queue whose first command is handshake. The handshake is
// admitted before the scheduler reads any event, so greetings the peer sends
// right after connecting are routed to it.
func Open(ch transport.Channel, handshake Request, opts ...Option) (*Queue, *Pending) {
	q := newQueue(ch, opts)
	pending := q.Enqueue(handshake)
	go q.run()
	return q, pending
}

func newQueue(ch transport.Channel, opts []Option) *Queue {
	q := &Queue{
		ch:           ch,
		logger:       logging.NewComponentLogger(nil, "cmdqueue"),
		interval:     defaultInterval,
		chunkSize:    defaultChunkSize,
		steps:        defaultProgressSteps,
		writeTimeout: defaultWriteTimeout,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue admits a command and returns immediately.
func (q *Queue) Enqueue(req Request) *Pending {
	return q.enqueue(req, 1)
}

// Command enqueues a text command that resolves on its first response.
func (q *Queue) Command(label, line string) *Pending {
	return q.Enqueue(Request{Label: label, Line: line, Handler: Simple()})
}

func (q *Queue) enqueue(req Request, progressBuffer int) *Pending {
	if req.Handler == nil {
		req.Handler = Simple()
	}
	pending := newPending(req.Label, progressBuffer)
	cmd := &command{req: req, pending: pending}

	q.mu.Lock()
	if q.err != nil {
		err := q.err
		q.mu.Unlock()
		cmd.finish(terminalOutcome(err))
		return pending
	}
	q.waiting = append(q.waiting, cmd)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return pending
}

// Locked reports whether a command is in flight.
func (q *Queue) Locked() bool { return q.locked.Load() }

// Len returns the number of commands waiting behind the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Err returns the terminal error once the queue is broken or closed.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Close stops the scheduler, rejects outstanding commands with
// services.ErrConnectionClosed, and closes the channel.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.stop) })
	<-q.stopped
	return q.ch.Close()
}

func (q *Queue) run() {
	defer close(q.stopped)
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	events := q.ch.Events()
	current := q.schedule(nil)
	for {
		select {
		case <-q.stop:
			q.shutdown(current, services.ErrConnectionClosed)
			return
		case <-ticker.C:
			current = q.schedule(current)
		case <-q.wake:
			current = q.schedule(current)
		case ev, ok := <-events:
			if !ok {
				q.shutdown(current, services.ErrConnectionClosed)
				return
			}
			if terminal := q.route(current, ev); terminal != nil {
				q.shutdown(current, terminal)
				return
			}
		}

		if current == nil {
			continue
		}
		if current.sendErr != nil {
			q.shutdown(current, fatalError(current.sendErr))
			return
		}
		if current.done {
			q.logger.Debug("command finished",
				logging.String(logging.FieldCommand, current.req.Label),
				logging.String("outcome", current.pending.outcome.Kind.String()),
			)
			current = nil
			q.locked.Store(false)
			current = q.schedule(nil)
		}
	}
}

// schedule starts the next waiting command when nothing is in flight.
func (q *Queue) schedule(current *command) *command {
	if current != nil {
		return current
	}
	q.mu.Lock()
	if len(q.waiting) == 0 {
		q.mu.Unlock()
		return nil
	}
	next := q.waiting[0]
	q.waiting[0] = nil
	q.waiting = q.waiting[1:]
	q.mu.Unlock()

	q.locked.Store(true)
	if next.req.Line != "" {
		q.logger.Debug("command sent", logging.String(logging.FieldCommand, next.req.Label))
		if err := q.write(transport.Text(next.req.Line)); err != nil {
			next.sendErr = err
		}
	}
	return next
}

// route delivers one event to the current command. It returns a non-nil error
// when the event ends the queue.
func (q *Queue) route(current *command, ev transport.Event) error {
	switch ev.Kind {
	case transport.EventFatal:
		logging.WarnWithContext(q.logger, "channel failed; rejecting queued commands", "queue_fatal",
			logging.Error(ev.Err),
			logging.String(logging.FieldErrorHint, "reconnect to the device or restart the slicing backend"),
			logging.String(logging.FieldImpact, "all pending commands on this connection fail"),
		)
		return fatalError(ev.Err)
	case transport.EventClose:
		if ev.Err != nil && !errors.Is(ev.Err, services.ErrConnectionClosed) {
			return fmt.Errorf("%w: %w", services.ErrConnectionClosed, ev.Err)
		}
		return services.ErrConnectionClosed
	}

	if current == nil || current.done {
		q.logger.Debug("dropping message with no command in flight",
			logging.String("event", ev.Kind.String()),
			logging.String("status", ev.Response.Status),
		)
		return nil
	}

	if ev.Kind == transport.EventError || ev.Response.Status == protocol.StatusError {
		current.finish(protocol.Failed(ev.Response, eventError(current.req.Label, ev)))
		return nil
	}
	if ev.Response.Status == protocol.StatusFatal {
		return fatalError(services.FromPayload(current.req.Label, ev.Response.Fields))
	}
	current.req.Handler.Handle(&Exchange{q: q, cmd: current}, ev.Response)
	return nil
}

func (q *Queue) shutdown(current *command, err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	err = q.err
	waiting := q.waiting
	q.waiting = nil
	q.mu.Unlock()

	outcome := terminalOutcome(err)
	if current != nil {
		current.finish(outcome)
	}
	for _, cmd := range waiting {
		cmd.finish(outcome)
	}
	q.locked.Store(false)
	if len(waiting) > 0 {
		q.logger.Debug("rejected queued commands", logging.Int("count", len(waiting)), logging.Error(err))
	}
}

func (q *Queue) write(frame transport.Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), q.writeTimeout)
	defer cancel()
	return q.ch.Send(ctx, frame)
}

func eventError(label string, ev transport.Event) error {
	if ev.Response.Fields != nil {
		return services.FromPayload(label, ev.Response.Fields)
	}
	if ev.Err != nil {
		return services.Wrap(services.ErrProtocol, "cmdqueue", label, "channel error", ev.Err)
	}
	return services.NewError(services.ErrProtocol, label, "channel error")
}

func fatalError(cause error) error {
	if cause == nil || errors.Is(cause, services.ErrQueueFatal) {
		if cause == nil {
			return services.ErrQueueFatal
		}
		return cause
	}
	return fmt.Errorf("%w: %w", services.ErrQueueFatal, cause)
}

func terminalOutcome(err error) protocol.Outcome {
	if errors.Is(err, services.ErrQueueFatal) {
		return protocol.Outcome{Kind: protocol.OutcomeFatal, Err: err}
	}
	return protocol.Failed(protocol.Response{}, err)
}
