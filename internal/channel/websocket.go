package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Emitter sends one framed event to every peer in the session.
type Emitter interface {
	Emit(event string, payload any) error
}

// Channel is a bidirectional sync channel. Delivery is assumed reliable
// at-least-once; ordering is not guaranteed.
type Channel interface {
	Emitter
	// Receive blocks until the next inbound event arrives, the context is
	// canceled, or the channel closes.
	Receive(ctx context.Context) (Inbound, error)
	Close() error
}

const (
	defaultWriteTimeout = 10 * time.Second
	receiveBuffer       = 64
)

// WSChannel carries envelopes over a websocket connection. Writes are
// serialized with a mutex; reads run on a single background loop feeding
// Receive.
type WSChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	inbound chan Inbound

	closeOnce sync.Once
	closed    chan struct{}
	readErr   error
}

type WSOptions struct {
	WriteTimeout time.Duration
	Header       http.Header
}

// Dial connects to a relay websocket endpoint.
func Dial(ctx context.Context, url string, opts WSOptions) (*WSChannel, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWSChannel(conn, opts), nil
}

// NewWSChannel wraps an established connection, e.g. one accepted by the
// relay's upgrader.
func NewWSChannel(conn *websocket.Conn, opts WSOptions) *WSChannel {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	c := &WSChannel{
		conn:         conn,
		writeTimeout: opts.WriteTimeout,
		inbound:      make(chan Inbound, receiveBuffer),
		closed:       make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *WSChannel) Emit(event string, payload any) error {
	data, err := Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (c *WSChannel) Receive(ctx context.Context) (Inbound, error) {
	select {
	case ev, ok := <-c.inbound:
		if !ok {
			if c.readErr != nil {
				return nil, c.readErr
			}
			return nil, fmt.Errorf("channel closed")
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *WSChannel) readLoop() {
	defer close(c.inbound)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.readErr = fmt.Errorf("read: %w", err)
			}
			return
		}
		ev, err := Decode(data)
		if err != nil {
			// unknown or malformed events are dropped, not fatal
			continue
		}
		select {
		case c.inbound <- ev:
		case <-c.closed:
			return
		}
	}
}

func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(c.writeTimeout)
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
