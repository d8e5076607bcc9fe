package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Send while no connection is open.
var ErrNotConnected = errors.New("realtime channel not connected")

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 25 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultWriteWait        = 10 * time.Second
)

// WSChannel is a websocket realtime channel. It reports true on a completed
// handshake and false whenever the read loop ends.
type WSChannel struct {
	url          string
	header       http.Header
	dialer       *websocket.Dialer
	pingInterval time.Duration
	pongWait     time.Duration
	log          *slog.Logger
	onMessage    func([]byte)

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	nextID int
	subs   map[int]func(bool)

	writeMu sync.Mutex
}

// WSOption configures a WSChannel.
type WSOption func(*WSChannel)

// WithHeader sets headers sent with the handshake, e.g. authentication.
func WithHeader(h http.Header) WSOption {
	return func(c *WSChannel) { c.header = h }
}

// WithPing sets the keepalive ping interval and how long to wait for a pong.
func WithPing(interval, pongWait time.Duration) WSOption {
	return func(c *WSChannel) {
		c.pingInterval = interval
		c.pongWait = pongWait
	}
}

// WithMessageHandler sets the callback for inbound messages.
func WithMessageHandler(fn func([]byte)) WSOption {
	return func(c *WSChannel) { c.onMessage = fn }
}

// WithWSLogger sets the logger.
func WithWSLogger(l *slog.Logger) WSOption {
	return func(c *WSChannel) { c.log = l }
}

// NewWSChannel creates a channel for url. It does not dial until Reconnect.
func NewWSChannel(url string, opts ...WSOption) *WSChannel {
	c := &WSChannel{
		url:          url,
		header:       http.Header{},
		dialer:       &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		pingInterval: defaultPingInterval,
		pongWait:     defaultPongWait,
		log:          slog.Default(),
		subs:         make(map[int]func(bool)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers fn for connectivity changes.
func (c *WSChannel) Subscribe(fn func(connected bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Reconnect dials the endpoint, replacing any existing connection. A failed
// dial is reported to subscribers as disconnected.
func (c *WSChannel) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return net.ErrClosed
	}
	old := c.conn
	c.conn = nil
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		c.emit(false)
		if resp != nil {
			return fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	done := make(chan struct{})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return net.ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	c.log.Info("Realtime channel connected", "url", c.url)
	go c.readLoop(conn, done)
	go c.pingLoop(conn, done)
	c.emit(true)
	return nil
}

// Send writes v as a JSON text message.
func (c *WSChannel) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to write realtime message: %w", err)
	}
	return nil
}

// Close sends a close frame and shuts the connection down. Subscribers are
// not notified.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *WSChannel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.conn = nil
			}
			closed := c.closed
			c.mu.Unlock()
			_ = conn.Close()

			if current && !closed {
				c.log.Warn("Realtime channel lost", "error", err)
				c.emit(false)
			}
			return
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *WSChannel) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteWait)); err != nil {
				c.log.Debug("Realtime ping failed", "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *WSChannel) emit(connected bool) {
	c.mu.Lock()
	fns := make([]func(bool), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}
