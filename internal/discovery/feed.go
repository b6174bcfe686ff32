package discovery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"printlink/internal/logging"
	"printlink/internal/protocol"
	"printlink/internal/services"
	"printlink/internal/transport"
)

const (
	defaultInterval = time.Second
	staleIntervals  = 10
	rescanLine      = "rescan"
)

// Options configures a Feed.
type Options struct {
	Dialer   transport.Dialer
	Endpoint string
	// Interval is both the snapshot cadence and the reconnect delay.
	Interval time.Duration
	// StaleAfter drops devices not announced for this long. Zero means ten
	// intervals.
	StaleAfter time.Duration
	Logger     *slog.Logger
}

type sighting struct {
	desc protocol.Descriptor
	seen time.Time
}

// Feed aggregates discovery announcements.
type Feed struct {
	dialer     transport.Dialer
	endpoint   string
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	devices map[string]sighting

	rescan chan struct{}
}

// NewFeed validates opts and returns an idle feed.
func NewFeed(opts Options) (*Feed, error) {
	if opts.Dialer == nil || strings.TrimSpace(opts.Endpoint) == "" {
		return nil, services.Wrap(services.ErrValidation, "discovery", "new feed", "dialer and endpoint are required", nil)
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = staleIntervals * interval
	}
	return &Feed{
		dialer:     opts.Dialer,
		endpoint:   opts.Endpoint,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logging.NewComponentLogger(opts.Logger, "discovery"),
		now:        time.Now,
		devices:    make(map[string]sighting),
		rescan:     make(chan struct{}, 1),
	}, nil
}

// Run streams announcements until ctx ends, delivering a snapshot to
// onSnapshot on every interval. A dropped stream is redialed after one
// interval.
func (f *Feed) Run(ctx context.Context, onSnapshot func([]protocol.Descriptor)) error {
	for {
		err := f.stream(ctx, onSnapshot)
		if ctx.Err() != nil {
			return nil
		}
		logging.WarnWithContext(f.logger, "discovery stream interrupted; redialing", "discovery_interrupted",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the bridge service is running"),
			logging.String(logging.FieldImpact, "device list may be stale"),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.interval):
		}
	}
}

// Rescan asks the bridge to announce every device again. It never blocks.
func (f *Feed) Rescan() {
	select {
	case f.rescan <- struct{}{}:
	default:
	}
}

// Snapshot returns the current devices sorted by name.
func (f *Feed) Snapshot() []protocol.Descriptor {
	cutoff := f.now().Add(-f.staleAfter)
	f.mu.Lock()
	out := make([]protocol.Descriptor, 0, len(f.devices))
	for id, s := range f.devices {
		if s.seen.Before(cutoff) {
			delete(f.devices, id)
			continue
		}
		out = append(out, s.desc)
	}
	f.mu.Unlock()
	protocol.SortDescriptors(out)
	return out
}

func (f *Feed) stream(ctx context.Context, onSnapshot func([]protocol.Descriptor)) error {
	ch, err := f.dialer.Dial(ctx, f.endpoint)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()
	f.logger.Debug("discovery stream open", logging.String("endpoint", f.endpoint))

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	events := ch.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if onSnapshot != nil {
				onSnapshot(f.Snapshot())
			}
		case <-f.rescan:
			if err := ch.Send(ctx, transport.Text(rescanLine)); err != nil {
				return err
			}
			f.logger.Debug("rescan requested")
		case ev, ok := <-events:
			if !ok {
				return services.ErrConnectionClosed
			}
			switch ev.Kind {
			case transport.EventMessage:
				f.ingest(ev.Response)
			case transport.EventError:
				f.logger.Debug("discovery error message", logging.String(logging.FieldErrorLabel, ev.Response.String("error")))
			case transport.EventFatal, transport.EventClose:
				if ev.Err == nil {
					return services.ErrConnectionClosed
				}
				return ev.Err
			}
		}
	}
}

func (f *Feed) ingest(resp protocol.Response) {
	if resp.IsBinary() || resp.Fields == nil {
		return
	}
	var batch []protocol.Descriptor
	if items, ok := resp.Fields["devices"].([]any); ok {
		for _, item := range items {
			if fields, ok := item.(map[string]any); ok {
				if desc, ok := ParseDescriptor(fields); ok {
					batch = append(batch, desc)
				}
			}
		}
	} else if desc, ok := ParseDescriptor(resp.Fields); ok {
		batch = append(batch, desc)
	}
	if len(batch) == 0 {
		return
	}
	now := f.now()
	f.mu.Lock()
	for _, desc := range batch {
		f.devices[desc.ID] = sighting{desc: desc, seen: now}
	}
	f.mu.Unlock()
}

// ParseDescriptor reads one announcement. Announcements without a uuid are
// rejected.
func ParseDescriptor(fields map[string]any) (protocol.Descriptor, bool) {
	resp := protocol.Response{Fields: fields}
	id := strings.TrimSpace(resp.String("uuid"))
	if id == "" {
		return protocol.Descriptor{}, false
	}
	desc := protocol.Descriptor{
		ID:      id,
		Name:    strings.TrimSpace(resp.String("name")),
		Serial:  strings.TrimSpace(resp.String("serial")),
		Status:  strings.ToUpper(strings.TrimSpace(resp.String("st_label"))),
		Address: strings.TrimSpace(resp.String("ipaddr")),
	}
	if labels := resp.Strings("error_label"); len(labels) > 0 {
		desc.ErrorLabel = labels[0]
	}
	switch v := fields["password"].(type) {
	case bool:
		desc.PasswordRequired = v
	case string:
		desc.PasswordRequired = strings.EqualFold(v, "true")
	}
	if desc.Name == "" {
		desc.Name = desc.ID
	}
	return desc, true
}
