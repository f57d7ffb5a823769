package chat

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/kephasrpc"
)

type notification struct {
	target  uuid.UUID
	payload any
	method  string
}

type fakeHub struct {
	identities []kephasrpc.Identity
	sent       []notification
}

func (h *fakeHub) Notify(_ context.Context, id uuid.UUID, payload any, method string) {
	h.sent = append(h.sent, notification{id, payload, method})
}

func (h *fakeHub) NotifyMany(ctx context.Context, ids []uuid.UUID, payload any, method string) {
	for _, id := range ids {
		h.Notify(ctx, id, payload, method)
	}
}

func (h *fakeHub) Identities() []kephasrpc.Identity { return h.identities }

func (h *fakeHub) Disconnect(context.Context, uuid.UUID, string) bool { return false }

var (
	alice = kephasrpc.Identity{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), Name: "Alice"}
	bob   = kephasrpc.Identity{ID: uuid.MustParse("22222222-2222-2222-2222-222222222222"), Name: "Bob"}
	carol = kephasrpc.Identity{ID: uuid.MustParse("33333333-3333-3333-3333-333333333333"), Name: "Carol"}
)

func newCall(hub kephasrpc.Hub, method string) *kephasrpc.Call {
	return &kephasrpc.Call{
		Context:  context.Background(),
		Hub:      hub,
		Identity: alice,
		Logger:   zerolog.Nop(),
		Method:   method,
	}
}

// TestTable tests that every sample method is registered
func TestTable(t *testing.T) {
	t.Parallel()

	table, err := Table()
	if err != nil {
		t.Fatalf("Table() failed: %v", err)
	}

	for _, name := range []string{"Chat.Message", "Chat.MessageToAll", "Chat.MessageToMany", "User.Info", "User.Online"} {
		controller, action, _ := kephasrpc.SplitMethod(name)
		if _, ok := table.Lookup(controller, action); !ok {
			t.Errorf("%s is not registered", name)
		}
	}
}

// TestMessage tests a direct message
func TestMessage(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{}
	res := message(newCall(hub, "Chat.Message"), kephasrpc.Args{bob.ID, "hi"})

	if !res.OK() || res.Value != "'hi' message sent to '22222222-2222-2222-2222-222222222222' user" {
		t.Errorf("result = %+v", res)
	}
	if len(hub.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(hub.sent))
	}
	want := notification{bob.ID, "Alice user sent 'hi' message", "Chat.Message"}
	if hub.sent[0] != want {
		t.Errorf("notification = %+v, want %+v", hub.sent[0], want)
	}
}

// TestMessageToAll tests that the sender is skipped
func TestMessageToAll(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{identities: []kephasrpc.Identity{alice, bob, carol}}
	res := messageToAll(newCall(hub, "Chat.MessageToAll"), kephasrpc.Args{"hello"})

	if res.Value != "'hello' message sent to all active users" {
		t.Errorf("result = %v", res.Value)
	}
	if len(hub.sent) != 2 {
		t.Fatalf("sent %d notifications, want 2", len(hub.sent))
	}
	for _, n := range hub.sent {
		if n.target == alice.ID {
			t.Error("sender should not be notified")
		}
		if n.method != "Chat.MessageToAll" || n.payload != "Alice user sent 'hello' message" {
			t.Errorf("notification = %+v", n)
		}
	}
}

// TestMessageToMany tests fan-out to an explicit list
func TestMessageToMany(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		ids         []string
		wantErrorID int
		wantSent    int
	}{
		{
			name:     "two users",
			ids:      []string{bob.ID.String(), carol.ID.String()},
			wantSent: 2,
		},
		{
			name:     "empty list",
			ids:      []string{},
			wantSent: 0,
		},
		{
			name:        "bad id",
			ids:         []string{bob.ID.String(), "nope"},
			wantErrorID: ErrIDInvalidUser,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hub := &fakeHub{}
			res := messageToMany(newCall(hub, "Chat.MessageToMany"), kephasrpc.Args{tt.ids, "yo"})

			if res.ErrorID != tt.wantErrorID {
				t.Errorf("errorId = %d, want %d", res.ErrorID, tt.wantErrorID)
			}
			if len(hub.sent) != tt.wantSent {
				t.Errorf("sent %d notifications, want %d", len(hub.sent), tt.wantSent)
			}
		})
	}
}

// TestUser tests the User controller
func TestUser(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{identities: []kephasrpc.Identity{alice, bob}}

	if res := userInfo(newCall(hub, "User.Info"), nil); res.Value != alice {
		t.Errorf("User.Info = %v, want %v", res.Value, alice)
	}

	res := usersOnline(newCall(hub, "User.Online"), nil)
	online, ok := res.Value.([]kephasrpc.Identity)
	if !ok || len(online) != 2 {
		t.Errorf("User.Online = %v", res.Value)
	}
}
