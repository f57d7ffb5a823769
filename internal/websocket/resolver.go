package websocket

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/luciancaetano/kephasrpc"
)

// Header names read by HeaderResolver.
const (
	HeaderUserID   = "UserId"
	HeaderUserName = "UserName"
)

// HeaderResolver trusts the UserId and UserName request headers. It is meant
// for deployments where an upstream proxy has already authenticated the caller.
func HeaderResolver() kephasrpc.IdentityResolver {
	return func(r *http.Request) (kephasrpc.Identity, kephasrpc.AbortReason) {
		rawID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		id, err := uuid.Parse(rawID)
		if rawID == "" || err != nil || id == uuid.Nil {
			return kephasrpc.Identity{}, kephasrpc.AbortUserIDNotFound
		}

		name := strings.TrimSpace(r.Header.Get(HeaderUserName))
		if name == "" {
			return kephasrpc.Identity{}, kephasrpc.AbortUserNameNotFound
		}
		return kephasrpc.Identity{ID: id, Name: name}, kephasrpc.AbortNone
	}
}

// TokenValidator turns a bearer token into an identity.
type TokenValidator func(token string) (kephasrpc.Identity, error)

// TokenResolver reads a bearer token from the Authorization header, or the
// access_token query parameter for browsers that cannot set headers on an
// upgrade, and hands it to validate.
func TokenResolver(validate TokenValidator) kephasrpc.IdentityResolver {
	return func(r *http.Request) (kephasrpc.Identity, kephasrpc.AbortReason) {
		token := bearerToken(r)
		if token == "" {
			return kephasrpc.Identity{}, kephasrpc.AbortTokenExpiredOrInvalid
		}

		identity, err := validate(token)
		if err != nil {
			return kephasrpc.Identity{}, kephasrpc.AbortTokenExpiredOrInvalid
		}
		if !identity.Valid() {
			return kephasrpc.Identity{}, kephasrpc.AbortUserNotExist
		}
		return identity, kephasrpc.AbortNone
	}
}

func bearerToken(r *http.Request) string {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
