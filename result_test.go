package kephasrpc

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/luciancaetano/kephasrpc/coerce"
)

// TestResultConstructors tests Success, Fail and NoAccess
func TestResultConstructors(t *testing.T) {
	t.Parallel()

	if r := Success("ok"); !r.OK() || r.Value != "ok" {
		t.Errorf("Success() = %+v", r)
	}
	if r := Success(nil); r.Value != struct{}{} {
		t.Errorf("Success(nil).Value = %#v, want empty struct", r.Value)
	}
	for _, v := range []any{[]Identity(nil), map[string]int(nil), (*Identity)(nil)} {
		if r := Success(v); r.Value != struct{}{} {
			t.Errorf("Success(%#v).Value = %#v, want empty struct", v, r.Value)
		}
	}
	if r := Success([]Identity{}); r.Value == struct{}{} {
		t.Error("an empty slice is a value, not nil")
	}
	if r := Fail("nope", 7); r.OK() || r.ErrorID != 7 || r.Error != "nope" {
		t.Errorf("Fail() = %+v", r)
	}
	if r := NoAccess(403); r.ErrorID != 403 || r.Error != ErrNoAccess {
		t.Errorf("NoAccess() = %+v", r)
	}
}

// TestAbortNotice tests abort descriptions and their wire form
func TestAbortNotice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason     AbortReason
		wantStatus int
		wantText   string
	}{
		{AbortNone, 0, "None"},
		{AbortTokenExpiredOrInvalid, 2, "The token already is expired or invalid"},
		{AbortServerNotWorking, 3, "The server not working"},
		{AbortUserIDNotFound, 6, "The user id not found from header of request"},
		{AbortUserNameNotFound, 7, "The user name not found from header of request"},
		{AbortReason(42), 42, "AbortReason(42)"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.wantText, func(t *testing.T) {
			t.Parallel()

			data, err := json.Marshal(tt.reason.Notice())
			if err != nil {
				t.Fatalf("Marshal() failed: %v", err)
			}

			var got struct {
				Status      int    `json:"status"`
				Description string `json:"description"`
			}
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal() failed: %v", err)
			}
			if got.Status != tt.wantStatus || got.Description != tt.wantText {
				t.Errorf("notice = %+v, want {%d %q}", got, tt.wantStatus, tt.wantText)
			}
		})
	}
}

// TestIdentity tests validity and string form
func TestIdentity(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	if !(Identity{ID: id, Name: "Alice"}).Valid() {
		t.Error("complete identity should be valid")
	}
	if (Identity{ID: id}).Valid() || (Identity{Name: "Alice"}).Valid() {
		t.Error("partial identity should be invalid")
	}
	if got := (Identity{ID: id, Name: "Alice"}).String(); got != "Alice(11111111-1111-1111-1111-111111111111)" {
		t.Errorf("String() = %q", got)
	}
}

// TestArgs tests the typed accessors
func TestArgs(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	member := coerce.EnumMember{Name: "High", Value: 2}
	args := Args{"hi", int64(7), 1.5, true, id, member, []string{"a"}, []int64{1, 2}, nil, json.Number("2.5")}

	if args.String(0) != "hi" || args.Int(1) != 7 || args.Float(2) != 1.5 || !args.Bool(3) {
		t.Error("scalar accessors returned wrong values")
	}
	if args.UUID(4) != id || args.Enum(5) != member {
		t.Error("uuid or enum accessor returned wrong value")
	}
	if len(args.Strings(6)) != 1 || len(args.Ints(7)) != 2 {
		t.Error("array accessors returned wrong values")
	}
	if !args.IsNil(8) || args.String(8) != "" || args.Int(8) != 0 || args.UUID(8) != uuid.Nil || args.Strings(8) != nil {
		t.Error("nil slot should yield zero values")
	}
	if args.Float(9) != 2.5 {
		t.Errorf("Float(json.Number) = %v", args.Float(9))
	}
	if args.Raw(0) != "hi" {
		t.Error("Raw() should return the value unchanged")
	}
}

// TestArgsPanics tests that misuse panics for the dispatcher to recover
func TestArgsPanics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func()
	}{
		{"out of range", func() { Args{}.String(0) }},
		{"wrong type", func() { Args{"x"}.Int(0) }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}
