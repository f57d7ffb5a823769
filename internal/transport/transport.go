// Package transport defines the connection contract the registry, engine and
// lifecycle controller work against. The websocket package provides the real
// implementation; tests use an in-memory one.
package transport

import (
	"context"
	"errors"
)

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrContextCancelled = errors.New("connection context cancelled")
)

// FrameType classifies an inbound frame.
type FrameType int

const (
	FrameBinary FrameType = iota
	FrameText
	// FrameClose is a close signal from the peer.
	FrameClose
)

func (t FrameType) String() string {
	switch t {
	case FrameBinary:
		return "binary"
	case FrameText:
		return "text"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}

// Frame is one inbound message.
type Frame struct {
	Type FrameType
	Data []byte
}

// Close codes used by the server.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
)

// Conn is a full-duplex frame connection.
//
// Send is safe for concurrent use and never interleaves two frames. ReadFrame
// is called from a single goroutine.
type Conn interface {
	// ID is unique per physical connection.
	ID() string
	RemoteAddr() string

	// Context is cancelled once the connection is closed.
	Context() context.Context

	// ReadFrame blocks for the next inbound frame.
	ReadFrame(ctx context.Context) (Frame, error)

	// Send writes one frame and returns once it has been written.
	Send(ctx context.Context, data []byte) error

	// Close sends a close frame with code and reason and releases the connection.
	// Closing twice is a no-op.
	Close(ctx context.Context, code int, reason string) error

	IsAlive() bool
}
