// Package session drives one connection from acceptance to close.
//
// A connection starts Pending. With an abort reason it is told why and closed
// (Rejected). Otherwise it displaces any earlier connection of the same
// identity, is registered, receives WSConnected and enters its receive loop
// (Open) until the peer leaves, the transport fails or the server closes it
// (Closed).
package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/internal/engine"
	"github.com/luciancaetano/kephasrpc/internal/observability"
	"github.com/luciancaetano/kephasrpc/internal/registry"
	"github.com/luciancaetano/kephasrpc/internal/transport"
)

var errServerStopping = errors.New("server is stopping")

// State of a connection lifecycle.
type State int32

const (
	StatePending State = iota
	StateRejected
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRejected:
		return "rejected"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OnConnectFn is called once a connection is registered, before its first
// frame is read.
type OnConnectFn = func(identity kephasrpc.Identity)

// OnDisconnectFn is called after a registered connection closed. voluntary is
// true when the peer closed the connection itself.
type OnDisconnectFn = func(identity kephasrpc.Identity, voluntary bool)

// RateLimit bounds the inbound frame rate of each connection.
type RateLimit struct {
	Enabled           bool
	MessagesPerSecond float64
	Burst             int
}

// Options configures a Controller.
type Options struct {
	Engine   *engine.Engine
	Registry *registry.Registry
	Logger   zerolog.Logger

	// AllowTextFrames dispatches text frames like binary ones instead of
	// treating them as a disconnect.
	AllowTextFrames bool
	RateLimit       RateLimit

	OnConnect    OnConnectFn
	OnDisconnect OnDisconnectFn
}

// Controller runs connection lifecycles.
type Controller struct {
	opts   Options
	logger zerolog.Logger
}

// New creates a controller.
func New(opts Options) *Controller {
	return &Controller{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "session").Logger(),
	}
}

// lifecycle is the state of one connection.
type lifecycle struct {
	conn     transport.Conn
	identity kephasrpc.Identity
	state    atomic.Int32
	limiter  *rate.Limiter

	// connected is set once WSConnected went out and OnConnect ran.
	connected bool
}

func (s *lifecycle) State() State { return State(s.state.Load()) }

// Run drives conn through its lifecycle and returns the terminal state. It
// blocks for as long as the connection stays open.
//
// A zero abort reason with an incomplete identity is rejected as well.
func (c *Controller) Run(ctx context.Context, conn transport.Conn, identity kephasrpc.Identity, abort kephasrpc.AbortReason) State {
	s := &lifecycle{conn: conn, identity: identity}
	s.state.Store(int32(StatePending))

	if abort == kephasrpc.AbortNone && !identity.Valid() {
		abort = kephasrpc.AbortUserNameNotFound
		if identity.ID == uuid.Nil {
			abort = kephasrpc.AbortUserIDNotFound
		}
	}
	if abort != kephasrpc.AbortNone {
		c.reject(ctx, s, abort)
		return s.State()
	}

	if err := c.open(ctx, s); err != nil {
		if errors.Is(err, errServerStopping) {
			return s.State()
		}
		c.logger.Debug().Err(err).Str("identity", identity.String()).Msg("connection lost during registration")
		c.close(ctx, s, false)
		return s.State()
	}

	voluntary := c.receive(ctx, s)
	c.close(ctx, s, voluntary)
	return s.State()
}

func (c *Controller) reject(ctx context.Context, s *lifecycle, abort kephasrpc.AbortReason) {
	ctx = context.WithoutCancel(ctx)
	c.logger.Info().
		Str("conn", s.conn.ID()).
		Str("remote_addr", s.conn.RemoteAddr()).
		Str("reason", abort.String()).
		Msg("connection rejected")

	if err := c.opts.Engine.SendNotification(ctx, s.conn, kephasrpc.NotifyAborted, abort.Notice()); err != nil {
		c.logger.Debug().Err(err).Str("conn", s.conn.ID()).Msg("failed to send abort notice")
	}
	if err := s.conn.Close(ctx, transport.CloseNormal, kephasrpc.ReasonClosedByServer); err != nil {
		c.logger.Debug().Err(err).Str("conn", s.conn.ID()).Msg("close failed")
	}

	observability.ConnectionRejected()
	s.state.Store(int32(StateRejected))
}

func (c *Controller) open(ctx context.Context, s *lifecycle) error {
	c.opts.Registry.Remove(ctx, s.identity.ID, kephasrpc.ReasonReconnecting, false)
	c.opts.Registry.Add(ctx, s.identity, s.conn)

	// Shutdown may have cleared the registry between the upgrade and Add.
	if ctx.Err() != nil {
		c.reject(ctx, s, kephasrpc.AbortServerNotWorking)
		c.opts.Registry.Release(context.WithoutCancel(ctx), s.identity.ID, s.conn, kephasrpc.ReasonClosedByServer)
		return errServerStopping
	}
	s.state.Store(int32(StateOpen))

	if rl := c.opts.RateLimit; rl.Enabled {
		s.limiter = rate.NewLimiter(rate.Limit(rl.MessagesPerSecond), rl.Burst)
	}

	c.logger.Info().
		Str("identity", s.identity.String()).
		Str("conn", s.conn.ID()).
		Str("remote_addr", s.conn.RemoteAddr()).
		Msg("connection opened")

	if err := c.opts.Engine.SendNotification(ctx, s.conn, kephasrpc.NotifyConnected, struct{}{}); err != nil {
		return err
	}

	s.connected = true
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(s.identity)
	}
	return nil
}

// receive runs the read loop. It reports whether the peer ended the connection.
func (c *Controller) receive(ctx context.Context, s *lifecycle) bool {
	for {
		frame, err := s.conn.ReadFrame(ctx)
		if err != nil {
			if !errors.Is(err, transport.ErrConnectionClosed) && !errors.Is(err, transport.ErrContextCancelled) {
				c.logger.Debug().Err(err).Str("conn", s.conn.ID()).Msg("read failed")
			}
			return false
		}

		switch frame.Type {
		case transport.FrameClose:
			// a close echoed after the server closed the connection is not voluntary
			return s.conn.IsAlive()
		case transport.FrameText:
			if !c.opts.AllowTextFrames {
				return true
			}
		}

		if s.limiter != nil && !s.limiter.Allow() {
			c.logger.Warn().
				Str("identity", s.identity.String()).
				Str("remote_addr", s.conn.RemoteAddr()).
				Msg("rate limit exceeded")
			_ = s.conn.Close(ctx, transport.ClosePolicyViolation, kephasrpc.ReasonRateLimited)
			return false
		}

		if err := c.opts.Engine.HandleFrame(ctx, s.conn, frame.Data); err != nil {
			c.logger.Debug().Err(err).Str("conn", s.conn.ID()).Msg("write failed")
			return false
		}
	}
}

func (c *Controller) close(ctx context.Context, s *lifecycle, voluntary bool) {
	ctx = context.WithoutCancel(ctx)

	released := c.opts.Registry.Release(ctx, s.identity.ID, s.conn, kephasrpc.ReasonClosedByClient)
	if !released {
		// displaced or already removed by the server
		_ = s.conn.Close(ctx, transport.CloseNormal, kephasrpc.ReasonClosedByClient)
	}
	s.state.Store(int32(StateClosed))

	c.logger.Info().
		Str("identity", s.identity.String()).
		Str("conn", s.conn.ID()).
		Bool("voluntary", voluntary).
		Msg("connection closed")

	if s.connected && c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(s.identity, voluntary)
	}
}
