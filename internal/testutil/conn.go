// Package testutil provides an in-memory transport.Conn for tests.
package testutil

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luciancaetano/kephasrpc/internal/transport"
)

var connSeq atomic.Uint64

// CloseRecord captures the arguments of the first Close call.
type CloseRecord struct {
	Code   int
	Reason string
}

// Conn is a fake connection. Inbound frames are queued with Push and every
// sent frame is recorded.
type Conn struct {
	id      string
	inbound chan transport.Frame

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	sent    [][]byte
	closed  *CloseRecord
	sendErr error
	notify  chan struct{}
}

// NewConn returns an open fake connection.
func NewConn() *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:      "fake-" + strconv.FormatUint(connSeq.Add(1), 10),
		inbound: make(chan transport.Frame, 64),
		ctx:     ctx,
		cancel:  cancel,
		notify:  make(chan struct{}, 1),
	}
}

func (c *Conn) ID() string               { return c.id }
func (c *Conn) RemoteAddr() string       { return "127.0.0.1:0" }
func (c *Conn) Context() context.Context { return c.ctx }
func (c *Conn) IsAlive() bool            { return c.ctx.Err() == nil }

// FailSends makes every later Send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Push queues an inbound frame.
func (c *Conn) Push(t transport.FrameType, data []byte) {
	c.inbound <- transport.Frame{Type: t, Data: data}
}

// PushBinary queues a binary frame holding data.
func (c *Conn) PushBinary(data string) { c.Push(transport.FrameBinary, []byte(data)) }

// ReadFrame returns queued frames before reporting a closed connection, like a
// socket that still holds buffered input.
func (c *Conn) ReadFrame(ctx context.Context) (transport.Frame, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	default:
	}

	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.ctx.Done():
		return transport.Frame{}, transport.ErrConnectionClosed
	case <-ctx.Done():
		return transport.Frame{}, transport.ErrContextCancelled
	}
}

func (c *Conn) Send(_ context.Context, data []byte) error {
	if !c.IsAlive() {
		return transport.ErrConnectionClosed
	}
	c.mu.Lock()
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return err
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *Conn) Close(_ context.Context, code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return nil
	}
	c.closed = &CloseRecord{Code: code, Reason: reason}
	c.cancel()
	return nil
}

// Sent returns a copy of every frame sent so far.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Messages decodes every sent frame as a JSON object.
func (c *Conn) Messages() []map[string]any {
	var out []map[string]any
	for _, raw := range c.Sent() {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// WaitSent blocks until at least n frames were sent or timeout expires.
func (c *Conn) WaitSent(n int, timeout time.Duration) [][]byte {
	deadline := time.After(timeout)
	for {
		if sent := c.Sent(); len(sent) >= n {
			return sent
		}
		select {
		case <-c.notify:
		case <-deadline:
			return c.Sent()
		}
	}
}

// Closed returns the close record, or nil while the connection is open.
func (c *Conn) Closed() *CloseRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed == nil {
		return nil
	}
	cp := *c.closed
	return &cp
}
