package cmdqueue

import (
	"context"
	"errors"
	"sync"

	"printlink/internal/protocol"
	"printlink/internal/services"
)

// Progress is a coarse upload progress notification.
type Progress struct {
	Chunk   int
	Total   int
	Percent int
}

// Pending is the caller's handle on a submitted command.
type Pending struct {
	label    string
	done     chan struct{}
	progress chan Progress
	once     sync.Once
	outcome  protocol.Outcome
}

func newPending(label string, progressBuffer int) *Pending {
	return &Pending{
		label:    label,
		done:     make(chan struct{}),
		progress: make(chan Progress, progressBuffer),
	}
}

// Label returns the command label.
func (p *Pending) Label() string { return p.label }

// Done is closed once the command has an outcome.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Progress streams progress notifications and is closed when the command
// finishes. Notifications are dropped when the caller falls behind.
func (p *Pending) Progress() <-chan Progress { return p.progress }

// Outcome returns the terminal outcome. It must only be called after Done is closed.
func (p *Pending) Outcome() protocol.Outcome { return p.outcome }

// Await blocks until the command finishes or ctx ends. An abandoned wait does
// not cancel the command; it stays in flight until the peer answers.
func (p *Pending) Await(ctx context.Context) (protocol.Outcome, error) {
	select {
	case <-p.done:
		return p.outcome, nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return protocol.Outcome{}, services.Wrap(services.ErrTimeout, "cmdqueue", p.label, "no response before deadline", err)
		}
		return protocol.Outcome{}, err
	}
}

// Wait blocks for the outcome and unpacks it into a response and error.
func (p *Pending) Wait(ctx context.Context) (protocol.Response, error) {
	outcome, err := p.Await(ctx)
	if err != nil {
		return protocol.Response{}, err
	}
	return outcome.Result()
}

// Follow hands every progress update to onProgress until the command
// finishes, then returns its outcome. Updates still buffered at completion
// are delivered first. A ctx that ends first returns ctx.Err() and leaves the
// command in flight.
func (p *Pending) Follow(ctx context.Context, onProgress func(Progress)) (protocol.Outcome, error) {
	deliver := func(update Progress) {
		if onProgress != nil {
			onProgress(update)
		}
	}
	progress := p.progress
	for {
		select {
		case update, ok := <-progress:
			if !ok {
				// Closed just before done; stop selecting on it.
				progress = nil
				continue
			}
			deliver(update)
		case <-p.done:
			for update := range p.progress {
				deliver(update)
			}
			return p.outcome, nil
		case <-ctx.Done():
			return protocol.Outcome{}, ctx.Err()
		}
	}
}

func (p *Pending) notify(update Progress) {
	select {
	case p.progress <- update:
	default:
	}
}

func (p *Pending) finish(outcome protocol.Outcome) bool {
	finished := false
	p.once.Do(func() {
		p.outcome = outcome
		close(p.progress)
		close(p.done)
		finished = true
	})
	return finished
}
