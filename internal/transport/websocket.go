package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"printlink/internal/logging"
	"printlink/internal/protocol"
	"printlink/internal/services"
)

const (
	eventBuffer  = 256
	maxFrameSize = 64 << 20
)

// WebsocketDialer dials bridge endpoints with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Dial opens a websocket channel. Dial failures caused by an expired context
// or handshake timeout are tagged services.ErrTimeout.
func (d WebsocketDialer) Dial(ctx context.Context, endpoint string) (Channel, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            websocket.DefaultDialer.Proxy,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, services.Wrap(services.ErrTimeout, "transport", "dial", endpoint, err)
		}
		return nil, services.Wrap(services.ErrProtocol, "transport", "dial", endpoint, err)
	}
	return newWebsocketChannel(conn, endpoint, d.Logger), nil
}

type websocketChannel struct {
	conn     *websocket.Conn
	endpoint string
	logger   *slog.Logger

	writeMu   sync.Mutex
	events    chan Event
	closeOnce sync.Once
	closed    chan struct{}
}

func newWebsocketChannel(conn *websocket.Conn, endpoint string, logger *slog.Logger) *websocketChannel {
	conn.SetReadLimit(maxFrameSize)
	ch := &websocketChannel{
		conn:     conn,
		endpoint: endpoint,
		logger:   logging.NewComponentLogger(logger, "transport").With(logging.String("endpoint", endpoint)),
		events:   make(chan Event, eventBuffer),
		closed:   make(chan struct{}),
	}
	go ch.readLoop()
	return ch
}

func (c *websocketChannel) Events() <-chan Event { return c.events }

func (c *websocketChannel) Send(ctx context.Context, frame Frame) error {
	select {
	case <-c.closed:
		return services.ErrConnectionClosed
	default:
	}

	messageType := websocket.TextMessage
	if frame.Kind == FrameBinary {
		messageType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(messageType, frame.Data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *websocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *websocketChannel) readLoop() {
	defer close(c.events)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.deliver(c.terminalEvent(err))
			return
		}
		var resp protocol.Response
		switch messageType {
		case websocket.BinaryMessage:
			resp = protocol.DecodeBinary(data)
		default:
			resp = protocol.Decode(data)
			if resp.Sanitized {
				c.logger.Debug("sanitized malformed payload", logging.Int("bytes", len(data)))
			}
		}
		kind := EventMessage
		if !resp.IsBinary() {
			kind = Classify(resp)
		}
		if !c.deliver(Event{Kind: kind, Response: resp}) {
			return
		}
		if kind == EventFatal {
			_ = c.Close()
			return
		}
	}
}

// deliver hands ev to the consumer unless the channel was closed locally.
func (c *websocketChannel) deliver(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closed:
		return false
	}
}

func (c *websocketChannel) terminalEvent(err error) Event {
	select {
	case <-c.closed:
		return Event{Kind: EventClose, Err: services.ErrConnectionClosed}
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return Event{Kind: EventClose, Err: fmt.Errorf("%w: %w", services.ErrConnectionClosed, err)}
	}
	c.logger.Debug("channel read failed", logging.Error(err))
	return Event{Kind: EventFatal, Err: err}
}
