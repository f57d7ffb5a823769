package kephasrpc

// Protocol error ids returned in the errorId field of a response.
const (
	ErrIDNone           = 0
	ErrIDInvalidRequest = 101
	ErrIDMissingField   = 102
	ErrIDMethodLevels   = 103
	ErrIDUnknownClass   = 104
	ErrIDNoSession      = 105
	ErrIDInvalidMethod  = 106
)

// Reserved notification method names.
const (
	// NotifyConnected is sent to a connection right after it is registered.
	NotifyConnected = "WSConnected"
	// NotifyAborted is sent before a rejected connection is closed.
	NotifyAborted = "ConnectionAborted"
	// NotifyUnauthorized is sent when the server forcibly closes a registered connection.
	NotifyUnauthorized = "User.UnAuth"
)

// Standard error messages
const (
	// Protocol errors
	ErrInvalidRequest = "request is malformed or failed"
	ErrMissingField   = "request id or method is empty"
	ErrMethodLevels   = "only two-level method names are supported"
	ErrUnknownClass   = "unknown method class"
	ErrNoSession      = "no active session for this connection"
	ErrInvalidMethod  = "invalid method or parameters"
	ErrNoAccess       = "you haven't access to API"

	// Connection close reasons
	ReasonReconnecting   = "reconnecting"
	ReasonClosedByClient = "The connection closed by the client"
	ReasonClosedByServer = "The connection closed by the server"
	ReasonRateLimited    = "Rate limit exceeded"

	// Server errors
	ErrServerAlreadyRunning = "server already running"
)
