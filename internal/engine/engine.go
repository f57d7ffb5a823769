// Package engine turns inbound request frames into handler calls and handler
// results into response frames. It also implements kephasrpc.Hub so handlers
// can reach other connections.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/coerce"
	"github.com/luciancaetano/kephasrpc/internal/observability"
	"github.com/luciancaetano/kephasrpc/internal/protocol"
	"github.com/luciancaetano/kephasrpc/internal/registry"
	"github.com/luciancaetano/kephasrpc/internal/transport"
)

// Options configures an Engine.
type Options struct {
	Table    *kephasrpc.MethodTable
	Registry *registry.Registry
	Logger   zerolog.Logger

	// LogAllRequests logs every request frame and response envelope.
	LogAllRequests bool
}

// Engine dispatches requests against a method table.
type Engine struct {
	table    *kephasrpc.MethodTable
	registry *registry.Registry
	logger   zerolog.Logger
	logAll   bool
}

var _ kephasrpc.Hub = (*Engine)(nil)

// New creates an engine. A nil table behaves as an empty one.
func New(opts Options) *Engine {
	return &Engine{
		table:    opts.Table,
		registry: opts.Registry,
		logger:   opts.Logger.With().Str("component", "engine").Logger(),
		logAll:   opts.LogAllRequests,
	}
}

// HandleFrame dispatches one request frame and writes the response to conn.
func (e *Engine) HandleFrame(ctx context.Context, conn transport.Conn, data []byte) error {
	return e.Send(ctx, conn, e.Dispatch(ctx, conn, data))
}

// Dispatch runs one request to completion and returns its response envelope.
// It never panics.
func (e *Engine) Dispatch(ctx context.Context, conn transport.Conn, data []byte) (resp protocol.Response) {
	start := time.Now()
	label := observability.UnknownMethod

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("conn", conn.ID()).
				Msg("dispatch failed")
			resp = failure(resp.ID, resp.Method, kephasrpc.ErrIDInvalidRequest, kephasrpc.ErrInvalidRequest)
		}
		observability.RecordRequest(label, resp.ErrorID, time.Since(start))
	}()

	if e.logAll {
		e.logger.Info().Str("conn", conn.ID()).Bytes("frame", data).Msg("request")
	}

	req, err := protocol.Decode(data)
	if err != nil {
		e.logger.Warn().Err(err).Str("conn", conn.ID()).Msg("malformed request")
		return failure("", "", kephasrpc.ErrIDInvalidRequest, kephasrpc.ErrInvalidRequest)
	}
	resp = protocol.Response{ID: req.ID, Method: req.Method}

	identity, ok := e.registry.LookupIdentity(conn)
	if !ok {
		return failure(req.ID, req.Method, kephasrpc.ErrIDNoSession, kephasrpc.ErrNoSession)
	}
	if req.ID == "" || req.Method == "" {
		return failure(req.ID, req.Method, kephasrpc.ErrIDMissingField, kephasrpc.ErrMissingField)
	}

	controller, action, ok := kephasrpc.SplitMethod(req.Method)
	if !ok {
		return failure(req.ID, req.Method, kephasrpc.ErrIDMethodLevels, kephasrpc.ErrMethodLevels)
	}
	if !e.table.HasController(controller) {
		return failure(req.ID, req.Method, kephasrpc.ErrIDUnknownClass, kephasrpc.ErrUnknownClass)
	}
	method, ok := e.table.Lookup(controller, action)
	if !ok {
		return failure(req.ID, req.Method, kephasrpc.ErrIDInvalidMethod, kephasrpc.ErrInvalidMethod)
	}
	label = method.Name

	call := &kephasrpc.Call{
		Context:   ctx,
		Hub:       e,
		Identity:  identity,
		RequestID: req.ID,
		Method:    req.Method,
		Logger: e.logger.With().
			Str("method", req.Method).
			Str("request_id", req.ID).
			Str("identity", identity.String()).
			Logger(),
	}

	result, err := invoke(call, method, req.Params)
	if err != nil {
		call.Logger.Error().Err(err).Msg("request failed")
		return failure(req.ID, req.Method, kephasrpc.ErrIDInvalidRequest, kephasrpc.ErrInvalidRequest)
	}

	resp.ErrorID = result.ErrorID
	if result.OK() {
		// handlers may build a Result without Success
		resp.Result = kephasrpc.Success(result.Value).Value
	} else {
		resp.Description = result.Error
	}
	return resp
}

func failure(id, method string, errorID int, description string) protocol.Response {
	return protocol.Response{ID: id, Method: method, ErrorID: errorID, Description: description}
}

// invoke binds params and calls the handler, converting panics into errors.
func invoke(call *kephasrpc.Call, method *kephasrpc.Method, params map[string]coerce.Value) (result kephasrpc.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", method.Name, r)
		}
	}()

	args, err := Bind(method.Params, params)
	if err != nil {
		return kephasrpc.Result{}, err
	}
	return method.Handler(call, args), nil
}

// Bind resolves declared parameters from the wire params by exact name. Absent
// or null values take the declared default.
func Bind(declared []kephasrpc.Param, wire map[string]coerce.Value) (kephasrpc.Args, error) {
	args := make(kephasrpc.Args, len(declared))
	for i, p := range declared {
		v, ok := wire[p.Name]
		if !ok || v.IsNull() {
			args[i] = p.Default
			continue
		}
		val, err := coerce.Coerce(v, p.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		args[i] = val
	}
	return args, nil
}

// Send serializes resp once and writes it to conn.
func (e *Engine) Send(ctx context.Context, conn transport.Conn, resp protocol.Response) error {
	data, err := protocol.Encode(resp)
	if err != nil {
		e.logger.Error().Err(err).Str("method", resp.Method).Msg("failed to encode response")
		data, err = protocol.Encode(failure(resp.ID, resp.Method, kephasrpc.ErrIDInvalidRequest, kephasrpc.ErrInvalidRequest))
		if err != nil {
			return err
		}
	}

	if e.logAll {
		e.logger.Info().Str("conn", conn.ID()).Bytes("frame", data).Msg("response")
	}

	if err := conn.Send(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", resp.Method, err)
	}
	return nil
}

// SendNotification writes a notification straight to conn, registered or not.
func (e *Engine) SendNotification(ctx context.Context, conn transport.Conn, method string, payload any) error {
	return e.Send(ctx, conn, protocol.Notification(method, payload))
}

// Notify sends a notification to one identity. Missing targets and send
// failures are logged and dropped.
func (e *Engine) Notify(ctx context.Context, id uuid.UUID, payload any, method string) {
	data, err := protocol.Encode(protocol.Notification(method, payload))
	if err != nil {
		e.logger.Warn().Err(err).Str("method", method).Msg("failed to encode notification")
		return
	}
	e.deliver(ctx, id, method, data)
}

// NotifyMany sends one notification to each id in order, encoding it once.
func (e *Engine) NotifyMany(ctx context.Context, ids []uuid.UUID, payload any, method string) {
	if len(ids) == 0 {
		return
	}
	data, err := protocol.Encode(protocol.Notification(method, payload))
	if err != nil {
		e.logger.Warn().Err(err).Str("method", method).Msg("failed to encode notification")
		return
	}
	for _, id := range ids {
		e.deliver(ctx, id, method, data)
	}
}

func (e *Engine) deliver(ctx context.Context, id uuid.UUID, method string, data []byte) {
	conn, ok := e.registry.Lookup(id)
	if !ok || !conn.IsAlive() {
		observability.RecordNotification(method, false)
		return
	}

	if e.logAll {
		e.logger.Info().Str("conn", conn.ID()).Bytes("frame", data).Msg("notification")
	}

	if err := conn.Send(ctx, data); err != nil {
		e.logger.Debug().Err(err).Str("target", id.String()).Str("method", method).Msg("notification dropped")
		observability.RecordNotification(method, false)
		return
	}
	observability.RecordNotification(method, true)
}

// Identities returns a snapshot of the registered identities.
func (e *Engine) Identities() []kephasrpc.Identity {
	return e.registry.All()
}

// Disconnect closes the connection of id after sending it a User.UnAuth notice.
func (e *Engine) Disconnect(ctx context.Context, id uuid.UUID, reason string) bool {
	return e.registry.Remove(ctx, id, reason, true)
}
