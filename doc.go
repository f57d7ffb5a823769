// Package kephasrpc is a WebSocket RPC server that dispatches named
// "Controller.Action" requests to registered handlers and pushes
// server-initiated notifications to connected users.
//
// Every connection belongs to one identity, resolved from the upgrade request.
// An identity holds at most one live connection: connecting again closes the
// previous socket with the reason "reconnecting".
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/kephasrpc"
//	    "github.com/luciancaetano/kephasrpc/coerce"
//	    "github.com/luciancaetano/kephasrpc/ws"
//	)
//
//	table := kephasrpc.NewTableBuilder().
//	    Register("Chat.Message", func(call *kephasrpc.Call, args kephasrpc.Args) kephasrpc.Result {
//	        call.Hub.Notify(call.Context, args.UUID(0), args.String(1), "Chat.Message")
//	        return kephasrpc.Success("sent")
//	    },
//	        kephasrpc.Param{Name: "userId", Type: coerce.UUID},
//	        kephasrpc.Param{Name: "message", Type: coerce.String}).
//	    MustBuild()
//
//	server := ws.New(ws.NewConfig(ws.DefaultConfig(), table, ws.HeaderResolver()))
//	server.Start(ctx)
//
// # Protocol Format
//
// Each binary frame carries one JSON envelope. Requests look like:
//
//	{"id": "1", "method": "Chat.Message", "params": {"userId": "...", "message": "hi"}}
//
// Responses echo id and method and always carry errorId:
//
//	{"id": "1", "method": "Chat.Message", "errorId": 0, "result": "..."}
//	{"id": "1", "method": "Chat", "errorId": 103, "description": "..."}
//
// Notifications have an empty id and put their payload in data. WSConnected is
// sent once a connection is registered, ConnectionAborted before a rejected
// connection is closed and User.UnAuth before the server closes a registered one.
//
// # Error Ids
//
//   - 101: malformed request, parameter coercion failure or handler panic
//   - 102: empty id or method
//   - 103: method name is not exactly two segments
//   - 104: unknown controller
//   - 105: connection has no registered identity
//   - 106: unknown action
//
// Handlers pick their own ids for application errors through Fail.
//
// # Parameters
//
// Parameters are declared per method and bound by name. An absent or null
// parameter takes its declared default. Values are coerced to the declared
// type: numeric strings become numbers, enum members are accepted by name or
// value, and array parameters accept a JSON array or a "[a, b]" literal.
//
// # Rate Limiting
//
// Each connection has an independent token bucket. A connection exceeding it is
// closed with code 1008 (Policy Violation).
package kephasrpc
