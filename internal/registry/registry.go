// Package registry tracks the one live connection each identity may hold.
//
// Lookups are lock-free. Mutations on one identity are serialized through a
// striped lock chosen by hashing the identity id, so unrelated identities
// never contend; connection I/O always happens after the lock is released.
package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/internal/observability"
	"github.com/luciancaetano/kephasrpc/internal/protocol"
	"github.com/luciancaetano/kephasrpc/internal/transport"
)

const shardCount = 64

// State of a connection record.
type State int32

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Record binds an identity to its transport.
type Record struct {
	Identity kephasrpc.Identity
	Conn     transport.Conn
	state    atomic.Int32
}

// State returns the current record state.
func (r *Record) State() State { return State(r.state.Load()) }

// Registry maps identity ids to connection records.
type Registry struct {
	records sync.Map // uuid.UUID -> *Record
	byConn  sync.Map // transport connection id -> uuid.UUID
	shards  [shardCount]sync.Mutex

	logger zerolog.Logger
	logAll bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithVerboseLogging logs every removal.
func WithVerboseLogging(enabled bool) Option {
	return func(r *Registry) { r.logAll = enabled }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) lock(id uuid.UUID) *sync.Mutex {
	return &r.shards[xxhash.Sum64(id[:])%shardCount]
}

// Add registers conn as the connection of identity. A connection already
// registered for the same identity is displaced and closed without notice.
func (r *Registry) Add(ctx context.Context, identity kephasrpc.Identity, conn transport.Conn) {
	rec := &Record{Identity: identity, Conn: conn}

	mu := r.lock(identity.ID)
	mu.Lock()
	old := r.take(identity.ID)
	r.records.Store(identity.ID, rec)
	r.byConn.Store(conn.ID(), identity.ID)
	mu.Unlock()

	if old != nil && old.Conn.ID() == conn.ID() {
		return
	}
	observability.ConnectionOpened()
	if old != nil {
		r.closeRecord(ctx, old, kephasrpc.ReasonReconnecting, false)
	}
}

// Remove drops the record of id and closes its transport with reason. When
// notifyClient is set a User.UnAuth notification is sent first. It reports
// whether a record existed.
func (r *Registry) Remove(ctx context.Context, id uuid.UUID, reason string, notifyClient bool) bool {
	mu := r.lock(id)
	mu.Lock()
	rec := r.take(id)
	mu.Unlock()

	if rec == nil {
		return false
	}
	r.closeRecord(ctx, rec, reason, notifyClient)
	return true
}

// Release removes the record of id only while it still belongs to conn. A
// connection that was displaced by a reconnect therefore never tears down its
// successor.
func (r *Registry) Release(ctx context.Context, id uuid.UUID, conn transport.Conn, reason string) bool {
	mu := r.lock(id)
	mu.Lock()
	v, ok := r.records.Load(id)
	if !ok || v.(*Record).Conn.ID() != conn.ID() {
		mu.Unlock()
		r.byConn.CompareAndDelete(conn.ID(), id)
		return false
	}
	rec := r.take(id)
	mu.Unlock()

	r.closeRecord(ctx, rec, reason, false)
	return true
}

// take removes and returns the record of id. The caller holds the shard lock.
func (r *Registry) take(id uuid.UUID) *Record {
	v, ok := r.records.LoadAndDelete(id)
	if !ok {
		return nil
	}
	rec := v.(*Record)
	r.byConn.CompareAndDelete(rec.Conn.ID(), id)
	rec.state.Store(int32(StateClosed))
	return rec
}

func (r *Registry) closeRecord(ctx context.Context, rec *Record, reason string, notifyClient bool) {
	if r.logAll {
		r.logger.Info().
			Str("identity", rec.Identity.String()).
			Str("conn", rec.Conn.ID()).
			Str("reason", reason).
			Bool("notify", notifyClient).
			Msg("removing connection")
	}

	outcome := observability.OutcomeClosed
	if reason == kephasrpc.ReasonReconnecting {
		outcome = observability.OutcomeDisplaced
	}
	observability.ConnectionClosed(outcome)

	if !rec.Conn.IsAlive() {
		return
	}

	if notifyClient {
		payload := map[string]string{"description": reason}
		data, err := protocol.Encode(protocol.Notification(kephasrpc.NotifyUnauthorized, payload))
		if err == nil {
			err = rec.Conn.Send(ctx, data)
		}
		if err != nil {
			r.logger.Debug().Err(err).Str("identity", rec.Identity.String()).Msg("failed to send unauth notice")
		}
	}

	if err := rec.Conn.Close(ctx, transport.CloseNormal, reason); err != nil {
		r.logger.Debug().Err(err).Str("conn", rec.Conn.ID()).Msg("close failed")
	}
}

// Lookup returns the live connection of id.
func (r *Registry) Lookup(id uuid.UUID) (transport.Conn, bool) {
	v, ok := r.records.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Record).Conn, true
}

// Record returns the record of id.
func (r *Registry) Record(id uuid.UUID) (*Record, bool) {
	v, ok := r.records.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Record), true
}

// LookupIdentity returns the identity conn is registered under.
func (r *Registry) LookupIdentity(conn transport.Conn) (kephasrpc.Identity, bool) {
	v, ok := r.byConn.Load(conn.ID())
	if !ok {
		return kephasrpc.Identity{}, false
	}
	rec, ok := r.records.Load(v.(uuid.UUID))
	if !ok || rec.(*Record).Conn.ID() != conn.ID() {
		return kephasrpc.Identity{}, false
	}
	return rec.(*Record).Identity, true
}

// All returns a snapshot of the registered identities.
func (r *Registry) All() []kephasrpc.Identity {
	var out []kephasrpc.Identity
	r.records.Range(func(_, v any) bool {
		out = append(out, v.(*Record).Identity)
		return true
	})
	return out
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	n := 0
	r.records.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// ClearAll removes every record, notifying each client that the server closed it.
func (r *Registry) ClearAll(ctx context.Context) {
	var ids []uuid.UUID
	r.records.Range(func(k, _ any) bool {
		ids = append(ids, k.(uuid.UUID))
		return true
	})
	for _, id := range ids {
		r.Remove(ctx, id, kephasrpc.ReasonClosedByServer, true)
	}
}
