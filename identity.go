package kephasrpc

import "github.com/google/uuid"

// Identity is the resolved party behind a connection.
//
// It is produced once per connection by an IdentityResolver and never changes
// while the connection is registered.
type Identity struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Valid reports whether both the id and the display name are present.
func (i Identity) Valid() bool {
	return i.ID != uuid.Nil && i.Name != ""
}

func (i Identity) String() string {
	return i.Name + "(" + i.ID.String() + ")"
}
