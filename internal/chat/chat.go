// Package chat holds the sample controllers served by kephasrpcd.
package chat

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/luciancaetano/kephasrpc"
	"github.com/luciancaetano/kephasrpc/coerce"
)

// ErrIDInvalidUser is returned when a target user id cannot be parsed.
const ErrIDInvalidUser = 1

// Register adds the Chat and User controllers to b.
func Register(b *kephasrpc.TableBuilder) *kephasrpc.TableBuilder {
	return b.
		Register("Chat.Message", message,
			kephasrpc.Param{Name: "userId", Type: coerce.UUID},
			kephasrpc.Param{Name: "message", Type: coerce.String}).
		Register("Chat.MessageToAll", messageToAll,
			kephasrpc.Param{Name: "message", Type: coerce.String}).
		Register("Chat.MessageToMany", messageToMany,
			kephasrpc.Param{Name: "userIds", Type: coerce.ArrayOf(coerce.String)},
			kephasrpc.Param{Name: "message", Type: coerce.String}).
		Register("User.Info", userInfo).
		Register("User.Online", usersOnline)
}

// Table builds a method table holding only the sample controllers.
func Table() (*kephasrpc.MethodTable, error) {
	return Register(kephasrpc.NewTableBuilder()).Build()
}

func sentBy(call *kephasrpc.Call, text string) string {
	return fmt.Sprintf("%s user sent '%s' message", call.Identity.Name, text)
}

func message(call *kephasrpc.Call, args kephasrpc.Args) kephasrpc.Result {
	target, text := args.UUID(0), args.String(1)
	call.Hub.Notify(call.Context, target, sentBy(call, text), "Chat.Message")
	return kephasrpc.Success(fmt.Sprintf("'%s' message sent to '%s' user", text, target))
}

func messageToAll(call *kephasrpc.Call, args kephasrpc.Args) kephasrpc.Result {
	text := args.String(0)

	var targets []uuid.UUID
	for _, identity := range call.Hub.Identities() {
		if identity.ID != call.Identity.ID {
			targets = append(targets, identity.ID)
		}
	}
	call.Hub.NotifyMany(call.Context, targets, sentBy(call, text), "Chat.MessageToAll")
	return kephasrpc.Success(fmt.Sprintf("'%s' message sent to all active users", text))
}

func messageToMany(call *kephasrpc.Call, args kephasrpc.Args) kephasrpc.Result {
	raw, text := args.Strings(0), args.String(1)

	targets := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return kephasrpc.Fail(fmt.Sprintf("'%s' is not a valid user id", s), ErrIDInvalidUser)
		}
		targets = append(targets, id)
	}

	call.Hub.NotifyMany(call.Context, targets, sentBy(call, text), "Chat.MessageToMany")
	return kephasrpc.Success(fmt.Sprintf("'%s' message sent to %d users", text, len(targets)))
}

func userInfo(call *kephasrpc.Call, _ kephasrpc.Args) kephasrpc.Result {
	return kephasrpc.Success(call.Identity)
}

func usersOnline(call *kephasrpc.Call, _ kephasrpc.Args) kephasrpc.Result {
	return kephasrpc.Success(call.Hub.Identities())
}
