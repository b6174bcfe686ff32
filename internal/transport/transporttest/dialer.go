package transporttest

import (
	"context"
	"sync"

	"printlink/internal/transport"
)

// Dialer hands out channels from a factory and records dialed endpoints.
type Dialer struct {
	mu        sync.Mutex
	factory   func(endpoint string) (transport.Channel, error)
	endpoints []string
}

// NewDialer returns a dialer backed by factory.
func NewDialer(factory func(endpoint string) (transport.Channel, error)) *Dialer {
	return &Dialer{factory: factory}
}

func (d *Dialer) Dial(ctx context.Context, endpoint string) (transport.Channel, error) {
	d.mu.Lock()
	d.endpoints = append(d.endpoints, endpoint)
	factory := d.factory
	d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return factory(endpoint)
}

// Endpoints returns every endpoint dialed so far.
func (d *Dialer) Endpoints() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.endpoints...)
}

// Count returns how many dials targeted endpoint.
func (d *Dialer) Count(endpoint string) int {
	n := 0
	for _, e := range d.Endpoints() {
		if e == endpoint {
			n++
		}
	}
	return n
}
