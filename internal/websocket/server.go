package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/internal/config"
	"github.com/luciancaetano/kephasrpc/internal/engine"
	"github.com/luciancaetano/kephasrpc/internal/observability"
	"github.com/luciancaetano/kephasrpc/internal/registry"
	"github.com/luciancaetano/kephasrpc/internal/session"
)

// ErrServerAlreadyRunning is returned by Start on a running server.
var ErrServerAlreadyRunning = errors.New(kephasrpc.ErrServerAlreadyRunning)

// HealthPath serves the liveness check.
const HealthPath = "/healthz"

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
// Use this to implement CORS policies for your WebSocket server.
type CheckOriginFn = func(r *http.Request) bool

// ServerConfig wires a Server.
type ServerConfig struct {
	Config config.Config
	Table  *kephasrpc.MethodTable

	// Resolver derives the identity of each upgrade request. Defaults to
	// HeaderResolver.
	Resolver    kephasrpc.IdentityResolver
	CheckOrigin CheckOriginFn

	OnConnect    session.OnConnectFn
	OnDisconnect session.OnDisconnectFn

	Logger zerolog.Logger
}

// Server accepts WebSocket connections and runs one lifecycle per connection.
type Server struct {
	cfg      config.Config
	resolver kephasrpc.IdentityResolver
	logger   zerolog.Logger

	registry *registry.Registry
	engine   *engine.Engine
	sessions *session.Controller

	upgrader websocket.Upgrader
	router   *httprouter.Router

	mu       sync.RWMutex
	running  bool
	server   *http.Server
	listener net.Listener
	stopped  chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	conns   sync.WaitGroup
}

var _ kephasrpc.Server = (*Server)(nil)

// New creates a server. Nothing is bound until Start.
func New(sc *ServerConfig) *Server {
	cfg := sc.Config
	logger := sc.Logger.With().Str("component", "server").Logger()

	resolver := sc.Resolver
	if resolver == nil {
		resolver = HeaderResolver()
	}

	reg := registry.New(
		registry.WithLogger(sc.Logger.With().Str("component", "registry").Logger()),
		registry.WithVerboseLogging(cfg.LogAllRequests),
	)
	eng := engine.New(engine.Options{
		Table:          sc.Table,
		Registry:       reg,
		Logger:         sc.Logger,
		LogAllRequests: cfg.LogAllRequests,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		resolver: resolver,
		logger:   logger,
		registry: reg,
		engine:   eng,
		sessions: session.New(session.Options{
			Engine:          eng,
			Registry:        reg,
			Logger:          sc.Logger,
			AllowTextFrames: cfg.AllowTextFrames,
			RateLimit: session.RateLimit{
				Enabled:           cfg.RateLimit.Enabled,
				MessagesPerSecond: cfg.RateLimit.MessagesPerSecond,
				Burst:             cfg.RateLimit.Burst,
			},
			OnConnect:    sc.OnConnect,
			OnDisconnect: sc.OnDisconnect,
		}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReceiveBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     sc.CheckOrigin,
		},
		router:  httprouter.New(),
		baseCtx: ctx,
		cancel:  cancel,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET(s.cfg.Path, s.handleWebSocket)
	s.router.GET(HealthPath, s.handleHealth)

	if s.cfg.Metrics.Enabled {
		observability.RegisterMetrics()
		s.router.Handler(http.MethodGet, s.cfg.Metrics.Path, observability.MetricsHandler())
	}
}

// Start binds the listener and serves in the background. Cancelling ctx
// stops the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.running = true
	s.listener = ln
	s.stopped = make(chan struct{})
	if s.baseCtx.Err() != nil {
		s.baseCtx, s.cancel = context.WithCancel(context.Background())
	}
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server, stopped := s.server, s.stopped
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Str("path", s.cfg.Path).Msg("listening")

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("serve failed")
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Stop(stopCtx); err != nil {
				s.logger.Warn().Err(err).Msg("stop failed")
			}
		case <-stopped:
		}
	}()

	return nil
}

// Stop closes every registered connection, telling each client the server
// closed it, then shuts the HTTP server down. It is safe to call on a server
// that was never started.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	if s.running {
		s.running = false
		close(s.stopped)
	}
	s.server = nil
	cancel := s.cancel
	s.mu.Unlock()

	// cancel first so no new connection registers after ClearAll
	cancel()
	s.registry.ClearAll(ctx)

	var err error
	if server != nil {
		err = server.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.logger.Info().Msg("stopped")
	return err
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address once started, the configured one otherwise.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Hub returns the notification API.
func (s *Server) Hub() kephasrpc.Hub {
	return s.engine
}

// Registry exposes the connection registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()

	identity, abort := s.resolver(r)
	if ctx.Err() != nil {
		abort = kephasrpc.AbortServerNotWorking
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	conn := newConn(wsConn, r.RemoteAddr, connOptions{
		MaxMessageSize:    s.cfg.MaxMessageSize,
		KeepAliveInterval: s.cfg.KeepAliveInterval,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	})

	s.conns.Add(1)
	go func() {
		defer s.conns.Done()
		s.sessions.Run(ctx, conn, identity, abort)
	}()
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Connections: s.registry.Len()})
}
