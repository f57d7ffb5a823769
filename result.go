package kephasrpc

import "reflect"

// Result is the body a handler returns: either a success value or an error id
// with a description.
type Result struct {
	ErrorID int
	Error   string
	Value   any
}

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.ErrorID == ErrIDNone }

// Success wraps v. A nil v, including a nil slice, map or pointer, becomes an
// empty object so clients always see a result.
func Success(v any) Result {
	if isNil(v) {
		v = struct{}{}
	}
	return Result{Value: v}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Fail builds an error result. Handlers pick their own ids; 101-106 are
// reserved for the protocol.
func Fail(message string, errorID int) Result {
	return Result{ErrorID: errorID, Error: message}
}

// NoAccess builds the standard access-denied error result.
func NoAccess(errorID int) Result {
	return Fail(ErrNoAccess, errorID)
}
