package kephasrpc

import "strconv"

// AbortReason explains why a connection was rejected before registration.
type AbortReason int

const (
	AbortNone AbortReason = iota
	AbortTokenUpdated
	AbortTokenExpiredOrInvalid
	AbortServerNotWorking
	AbortUserNotExist
	AbortUserDoesNotHaveAccess
	AbortUserIDNotFound
	AbortUserNameNotFound
)

var abortDescriptions = map[AbortReason]string{
	AbortNone:                  "None",
	AbortTokenUpdated:          "The token updated",
	AbortTokenExpiredOrInvalid: "The token already is expired or invalid",
	AbortServerNotWorking:      "The server not working",
	AbortUserNotExist:          "User not exist",
	AbortUserDoesNotHaveAccess: "User does not have access",
	AbortUserIDNotFound:        "The user id not found from header of request",
	AbortUserNameNotFound:      "The user name not found from header of request",
}

// String returns the human description sent to the client.
func (r AbortReason) String() string {
	if d, ok := abortDescriptions[r]; ok {
		return d
	}
	return "AbortReason(" + strconv.Itoa(int(r)) + ")"
}

// AbortNotice is the payload of a ConnectionAborted notification.
type AbortNotice struct {
	Status      AbortReason `json:"status"`
	Description string      `json:"description"`
}

// Notice builds the notification payload for r.
func (r AbortReason) Notice() AbortNotice {
	return AbortNotice{Status: r, Description: r.String()}
}
