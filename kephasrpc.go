package kephasrpc

import (
	"context"
	"net/http"
)

// Server defines the lifecycle of a kephasrpc WebSocket server.
//
// Example usage:
//
//	import "github.com/luciancaetano/kephasrpc/ws"
//
//	table := kephasrpc.NewTableBuilder().
//	    Register("User.Info", userInfo).
//	    MustBuild()
//
//	server := ws.New(ws.NewConfig(cfg, table, ws.HeaderResolver()))
//	server.Start(ctx)
type Server interface {
	// Start binds the listener and begins accepting connections.
	//
	// Returns an error if the server is already running or if there's a problem
	// binding to the network address.
	Start(ctx context.Context) error

	// Stop closes every registered connection and shuts the HTTP server down.
	Stop(ctx context.Context) error

	// Handler returns the HTTP handler serving the WebSocket endpoint, the
	// health check and, when enabled, metrics. Useful with httptest.
	Handler() http.Handler

	// Addr returns the bound listener address once started.
	Addr() string

	// Hub returns the notification API, for pushing events from outside a handler.
	Hub() Hub
}

// IdentityResolver derives the identity of an incoming connection from its
// upgrade request. When the identity cannot be established it returns the
// reason the connection must be aborted.
type IdentityResolver func(r *http.Request) (Identity, AbortReason)
