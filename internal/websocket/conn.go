package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/kephasrpc/internal/transport"
)

const (
	// maxCloseReason is the longest reason that fits a close control frame.
	maxCloseReason   = 123
	defaultKeepAlive = 60 * time.Second
)

// deadline returns now+d, or no deadline for a non-positive d.
func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

type connOptions struct {
	MaxMessageSize    int64
	KeepAliveInterval time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

type outbound struct {
	data []byte
	done chan error
}

type closeRequest struct {
	code   int
	reason string
}

// Conn adapts a gorilla connection to transport.Conn. Every write goes
// through writePump, so frames are never interleaved.
type Conn struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string
	opts       connOptions

	ctx    context.Context
	cancel context.CancelFunc

	sendCh   chan outbound
	closeCh  chan closeRequest
	pumpDone chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ transport.Conn = (*Conn)(nil)

func newConn(conn *websocket.Conn, remoteAddr string, opts connOptions) *Conn {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		id:         uuid.New().String(),
		conn:       conn,
		remoteAddr: remoteAddr,
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		sendCh:     make(chan outbound, 256),
		closeCh:    make(chan closeRequest, 1),
		pumpDone:   make(chan struct{}),
	}

	if opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	conn.SetReadDeadline(deadline(opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(deadline(opts.ReadTimeout))
	})

	go c.writePump()
	return c
}

// ID returns the unique id of this physical connection.
func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Context is cancelled once the connection is closed.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// ReadFrame blocks for the next message. A close frame from the peer is
// returned as transport.FrameClose. The read itself is bounded by the read
// deadline, not by ctx.
func (c *Conn) ReadFrame(ctx context.Context) (transport.Frame, error) {
	if err := ctx.Err(); err != nil {
		return transport.Frame{}, transport.ErrContextCancelled
	}

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return transport.Frame{Type: transport.FrameClose}, nil
		}
		if !c.IsAlive() {
			return transport.Frame{}, transport.ErrConnectionClosed
		}
		return transport.Frame{}, fmt.Errorf("read: %w", err)
	}

	c.conn.SetReadDeadline(deadline(c.opts.ReadTimeout))

	switch messageType {
	case websocket.BinaryMessage:
		return transport.Frame{Type: transport.FrameBinary, Data: data}, nil
	case websocket.TextMessage:
		return transport.Frame{Type: transport.FrameText, Data: data}, nil
	default:
		return transport.Frame{Type: transport.FrameClose}, nil
	}
}

// Send queues one binary frame and waits until the write pump wrote it.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return transport.ErrConnectionClosed
	}

	msg := outbound{data: data, done: make(chan error, 1)}
	select {
	case c.sendCh <- msg:
	case <-c.pumpDone:
		return transport.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-msg.done:
		return err
	case <-c.pumpDone:
		select {
		case err := <-msg.done:
			return err
		default:
			return transport.ErrConnectionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes queued frames, sends a close frame and closes the socket.
// It returns once the socket is closed or ctx is done.
func (c *Conn) Close(ctx context.Context, code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	c.closeCh <- closeRequest{code: code, reason: reason}

	select {
	case <-c.pumpDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsAlive reports whether the connection is still usable.
func (c *Conn) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.ctx.Err() == nil
}

// writePump owns every write to the socket.
func (c *Conn) writePump() {
	interval := c.opts.KeepAliveInterval
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
		close(c.pumpDone)
	}()

	for {
		select {
		case msg := <-c.sendCh:
			if err := c.write(msg.data); err != nil {
				msg.done <- err
				return
			}
			msg.done <- nil

		case req := <-c.closeCh:
			c.drain()
			message := websocket.FormatCloseMessage(req.code, req.reason)
			c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(deadline(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drain writes whatever is queued at close time.
func (c *Conn) drain() {
	for {
		select {
		case msg := <-c.sendCh:
			err := c.write(msg.data)
			msg.done <- err
			if err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(data []byte) error {
	c.conn.SetWriteDeadline(deadline(c.opts.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
