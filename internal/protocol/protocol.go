package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luciancaetano/kephasrpc/coerce"
)

const maxPayloadSize = 10 * 1024 * 1024 // 10MB max payload size

// Request is a client request envelope.
type Request struct {
	ID     string                  `json:"id"`
	Method string                  `json:"method"`
	Params map[string]coerce.Value `json:"params,omitempty"`
}

// Response is a server envelope: either the answer to a request or, with an
// empty ID, a notification carrying Data.
type Response struct {
	ID          string `json:"id"`
	Method      string `json:"method"`
	ErrorID     int    `json:"errorId"`
	Description string `json:"description,omitempty"`
	Result      any    `json:"result,omitempty"`
	Data        any    `json:"data,omitempty"`
}

// Notification builds a notification envelope.
func Notification(method string, payload any) Response {
	return Response{Method: method, Data: payload}
}

// Encode serializes a response envelope.
func Encode(resp Response) ([]byte, error) {
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	if len(out) > maxPayloadSize {
		return nil, fmt.Errorf("payload size %d exceeds maximum %d bytes", len(out), maxPayloadSize)
	}
	return out, nil
}

// Decode parses a request envelope. Missing id or method is not an error here;
// the dispatcher reports those with a protocol error id.
func Decode(data []byte) (Request, error) {
	if len(data) == 0 {
		return Request{}, errors.New("empty frame")
	}
	if len(data) > maxPayloadSize {
		return Request{}, fmt.Errorf("payload size %d exceeds maximum %d bytes", len(data), maxPayloadSize)
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}
