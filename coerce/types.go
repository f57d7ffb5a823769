package coerce

import (
	"fmt"
	"strings"
)

// Type describes the exact parameter type a handler expects.
//
// Types are plain descriptors; all conversion rules live in Coerce.
type Type interface {
	// Name is used in error messages and method listings.
	Name() string
}

type primitive struct {
	name string
}

func (p primitive) Name() string { return p.name }

// Primitive target types.
var (
	String Type = primitive{"string"}
	Int    Type = primitive{"int"}
	Float  Type = primitive{"float"}
	Bool   Type = primitive{"bool"}
	UUID   Type = primitive{"uuid"}
	// Any passes the wire value through as plain Go values.
	Any Type = primitive{"any"}
)

// EnumMember is one member of an enumerated type.
type EnumMember struct {
	Name  string
	Value int64
}

// EnumType is an enumerated target type. Coercion yields an EnumMember.
type EnumType struct {
	name    string
	members []EnumMember
}

// Enum declares an enumerated type with the given members.
func Enum(name string, members ...EnumMember) *EnumType {
	return &EnumType{name: name, members: append([]EnumMember(nil), members...)}
}

func (e *EnumType) Name() string { return e.name }

// Members returns a copy of the declared members.
func (e *EnumType) Members() []EnumMember {
	return append([]EnumMember(nil), e.members...)
}

func (e *EnumType) byValue(n int64) (EnumMember, bool) {
	for _, m := range e.members {
		if m.Value == n {
			return m, true
		}
	}
	return EnumMember{}, false
}

func (e *EnumType) byName(name string) (EnumMember, bool) {
	for _, m := range e.members {
		if m.Name == name {
			return m, true
		}
	}
	return EnumMember{}, false
}

// ArrayType is a sequence target type. Only String and Int elements are supported.
type ArrayType struct {
	elem Type
}

// ArrayOf declares a sequence of elem. It panics for element types other than
// String and Int, since method tables are built once at startup.
func ArrayOf(elem Type) *ArrayType {
	if elem != String && elem != Int {
		panic(fmt.Sprintf("coerce: unsupported array element type %s", elem.Name()))
	}
	return &ArrayType{elem: elem}
}

func (a *ArrayType) Name() string { return "[]" + a.elem.Name() }

func (a *ArrayType) Elem() Type { return a.elem }

// OptionalType wraps another type and lets null through.
type OptionalType struct {
	inner Type
}

// Optional declares a nullable inner type.
func Optional(inner Type) *OptionalType {
	return &OptionalType{inner: inner}
}

func (o *OptionalType) Name() string { return "?" + o.inner.Name() }

func (o *OptionalType) Inner() Type { return o.inner }

// Error reports a failed coercion.
type Error struct {
	Value  string
	Target string
	Reason string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot cast %q to %s", e.Value, e.Target)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}
