package kephasrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/kephasrpc/coerce"
)

// Hub is the server-side API handlers use to reach other connections.
//
// Notifications are best effort: a missing or closed target is skipped and
// send failures are never reported back to the caller.
type Hub interface {
	// Notify sends payload as a notification with the given method to one identity.
	Notify(ctx context.Context, id uuid.UUID, payload any, method string)

	// NotifyMany sends the same notification to each identity in order.
	NotifyMany(ctx context.Context, ids []uuid.UUID, payload any, method string)

	// Identities returns a snapshot of every registered identity.
	Identities() []Identity

	// Disconnect forcibly closes the connection of id, telling the client why.
	Disconnect(ctx context.Context, id uuid.UUID, reason string) bool
}

// Call carries everything a handler needs for one request.
type Call struct {
	Context   context.Context
	Hub       Hub
	Identity  Identity
	Logger    zerolog.Logger
	RequestID string
	Method    string
}

// HandlerFunc handles one request. args holds the coerced parameters in the
// order they were declared.
type HandlerFunc func(call *Call, args Args) Result

// Args is the positional argument list handed to a handler.
//
// Accessors return the zero value when the slot holds nil (an absent parameter
// without default) and panic on a type mismatch, which the dispatcher reports
// as a failed request.
type Args []any

func (a Args) at(i int) any {
	if i < 0 || i >= len(a) {
		panic(fmt.Sprintf("kephasrpc: argument %d out of range (%d args)", i, len(a)))
	}
	return a[i]
}

// IsNil reports whether argument i is nil.
func (a Args) IsNil(i int) bool { return a.at(i) == nil }

// Raw returns argument i unchanged.
func (a Args) Raw(i int) any { return a.at(i) }

func (a Args) String(i int) string {
	if v := a.at(i); v != nil {
		return v.(string)
	}
	return ""
}

func (a Args) Int(i int) int64 {
	switch v := a.at(i).(type) {
	case nil:
		return 0
	case int:
		return int64(v)
	default:
		return v.(int64)
	}
}

func (a Args) Float(i int) float64 {
	switch v := a.at(i).(type) {
	case nil:
		return 0
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			panic(err)
		}
		return f
	default:
		return v.(float64)
	}
}

func (a Args) Bool(i int) bool {
	if v := a.at(i); v != nil {
		return v.(bool)
	}
	return false
}

func (a Args) UUID(i int) uuid.UUID {
	if v := a.at(i); v != nil {
		return v.(uuid.UUID)
	}
	return uuid.Nil
}

func (a Args) Enum(i int) coerce.EnumMember {
	if v := a.at(i); v != nil {
		return v.(coerce.EnumMember)
	}
	return coerce.EnumMember{}
}

func (a Args) Strings(i int) []string {
	if v := a.at(i); v != nil {
		return v.([]string)
	}
	return nil
}

func (a Args) Ints(i int) []int64 {
	if v := a.at(i); v != nil {
		return v.([]int64)
	}
	return nil
}
