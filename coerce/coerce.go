// Package coerce converts loosely-typed wire values into the exact types a
// handler declares for its parameters.
//
// Supported targets and their results:
//
//	String, Int, Float, Bool  string, int64, float64, bool
//	UUID                      uuid.UUID (canonical string form only)
//	Enum(...)                 EnumMember, from the numeric value or the member name
//	ArrayOf(String|Int)       []string or []int64, from a JSON array or a "[a, b]" literal
//	Optional(T)               nil for null, otherwise the result for T
//	Any                       the plain Go form of the value
//
// A null value coerces to nil for every target; binding code substitutes the
// declared default.
package coerce

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Coerce converts v into the Go value for target t. Failures are *Error.
func Coerce(v Value, t Type) (any, error) {
	if v.IsNull() {
		return nil, nil
	}

	switch target := t.(type) {
	case *OptionalType:
		return Coerce(v, target.inner)
	case *EnumType:
		return toEnum(v, target)
	case *ArrayType:
		return toArray(v, target)
	}

	switch t {
	case String:
		return toString(v, t)
	case Int:
		return toInt(v, t)
	case Float:
		return toFloat(v, t)
	case Bool:
		return toBool(v, t)
	case UUID:
		if v.Kind() != KindString {
			return nil, fail(v, t, "expected a string")
		}
		id, err := uuid.Parse(strings.TrimSpace(v.Text()))
		if err != nil {
			return nil, fail(v, t, err.Error())
		}
		return id, nil
	case Any:
		return v.Interface(), nil
	}

	name := "<nil>"
	if t != nil {
		name = t.Name()
	}
	return nil, &Error{Value: v.Literal(), Target: name, Reason: "unsupported target type"}
}

func fail(v Value, t Type, reason string) *Error {
	return &Error{Value: v.Literal(), Target: t.Name(), Reason: reason}
}

func toString(v Value, t Type) (any, error) {
	switch v.Kind() {
	case KindString, KindNumber:
		return v.Text(), nil
	case KindBool:
		return strconv.FormatBool(v.Bool()), nil
	}
	return nil, fail(v, t, "expected a scalar")
}

func toInt(v Value, t Type) (any, error) {
	switch v.Kind() {
	case KindNumber, KindString:
		n, err := parseInt(v.Text())
		if err != nil {
			return nil, fail(v, t, err.Error())
		}
		return n, nil
	case KindBool:
		if v.Bool() {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, fail(v, t, "expected a number")
}

// parseInt accepts integer literals and floats with no fractional part.
// float64(math.MaxInt64) rounds up to 2^63, which is already out of range.
func parseInt(text string) (int64, error) {
	text = strings.TrimSpace(text)
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, strconv.ErrRange
	}
	return int64(f), nil
}

func toFloat(v Value, t Type) (any, error) {
	switch v.Kind() {
	case KindNumber, KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Text()), 64)
		if err != nil {
			return nil, fail(v, t, err.Error())
		}
		return f, nil
	case KindBool:
		if v.Bool() {
			return float64(1), nil
		}
		return float64(0), nil
	}
	return nil, fail(v, t, "expected a number")
}

func toBool(v Value, t Type) (any, error) {
	switch v.Kind() {
	case KindBool:
		return v.Bool(), nil
	case KindString:
		b, err := strconv.ParseBool(strings.TrimSpace(v.Text()))
		if err != nil {
			return nil, fail(v, t, err.Error())
		}
		return b, nil
	case KindNumber:
		f, err := strconv.ParseFloat(v.Text(), 64)
		if err != nil {
			return nil, fail(v, t, err.Error())
		}
		return f != 0, nil
	}
	return nil, fail(v, t, "expected a bool")
}

func toEnum(v Value, t *EnumType) (any, error) {
	switch v.Kind() {
	case KindNumber, KindString:
		text := strings.TrimSpace(v.Text())
		if n, err := parseInt(text); err == nil {
			if m, ok := t.byValue(n); ok {
				return m, nil
			}
			return nil, fail(v, t, "value outside enum domain")
		}
		if v.Kind() == KindString {
			if m, ok := t.byName(text); ok {
				return m, nil
			}
		}
		return nil, fail(v, t, "unknown enum member")
	}
	return nil, fail(v, t, "expected a number or member name")
}

const literalNoise = " \t\r\n\"'"

func toArray(v Value, t *ArrayType) (any, error) {
	var parts []Value
	switch v.Kind() {
	case KindArray:
		parts = v.Elems()
	case KindString, KindNumber:
		literal := strings.TrimSpace(v.Text())
		literal = strings.TrimSuffix(strings.TrimPrefix(literal, "["), "]")
		if strings.Trim(literal, literalNoise) != "" {
			for _, p := range strings.Split(literal, ",") {
				parts = append(parts, StringValue(strings.Trim(p, literalNoise)))
			}
		}
	default:
		return nil, fail(v, t, "expected an array or delimited literal")
	}

	if t.elem == String {
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s, err := toString(p, String)
			if err != nil {
				return nil, fail(v, t, err.Error())
			}
			out = append(out, s.(string))
		}
		return out, nil
	}

	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := toInt(p, Int)
		if err != nil {
			return nil, fail(v, t, err.Error())
		}
		out = append(out, n.(int64))
	}
	return out, nil
}
