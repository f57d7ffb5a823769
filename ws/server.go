package ws

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/internal/config"
	"github.com/luciancaetano/kephasrpc/internal/websocket"
)

type Config = config.Config
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = func(identity kephasrpc.Identity)
type OnDisconnectFn = func(identity kephasrpc.Identity, voluntary bool)
type TokenValidator = websocket.TokenValidator
type ServerConfig = *websocket.ServerConfig

// ErrServerAlreadyRunning is returned by Start on a running server.
var ErrServerAlreadyRunning = websocket.ErrServerAlreadyRunning

// New creates a new kephasrpc server. Nothing is bound until Start.
//
// Example:
//
//	table := kephasrpc.NewTableBuilder().
//	    Register("User.Info", func(call *kephasrpc.Call, _ kephasrpc.Args) kephasrpc.Result {
//	        return kephasrpc.Success(call.Identity)
//	    }).
//	    MustBuild()
//
//	server := ws.New(ws.NewConfig(ws.DefaultConfig(), table, ws.HeaderResolver()))
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
func New(cfg ServerConfig) kephasrpc.Server {
	return websocket.New(cfg)
}

// NewConfig builds a server configuration. A nil resolver falls back to
// HeaderResolver. Use the With* helpers for the optional parts.
func NewConfig(cfg Config, table *kephasrpc.MethodTable, resolver kephasrpc.IdentityResolver) ServerConfig {
	return &websocket.ServerConfig{
		Config:   cfg,
		Table:    table,
		Resolver: resolver,
		Logger:   zerolog.Nop(),
	}
}

// WithCheckOrigin sets the origin policy of the upgrade.
func WithCheckOrigin(sc ServerConfig, fn CheckOriginFn) ServerConfig {
	sc.CheckOrigin = fn
	return sc
}

// WithHooks sets the connection lifecycle callbacks. Either may be nil.
func WithHooks(sc ServerConfig, onConnect OnConnectFn, onDisconnect OnDisconnectFn) ServerConfig {
	sc.OnConnect = onConnect
	sc.OnDisconnect = onDisconnect
	return sc
}

// WithLogger sets the server logger.
func WithLogger(sc ServerConfig, logger zerolog.Logger) ServerConfig {
	sc.Logger = logger
	return sc
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a TOML or YAML file, applies KEPHASRPC_* environment
// overrides and validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// HeaderResolver trusts the UserId and UserName request headers.
func HeaderResolver() kephasrpc.IdentityResolver {
	return websocket.HeaderResolver()
}

// TokenResolver authenticates a bearer token with validate.
func TokenResolver(validate TokenValidator) kephasrpc.IdentityResolver {
	return websocket.TokenResolver(validate)
}
