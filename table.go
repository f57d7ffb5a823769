package kephasrpc

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/luciancaetano/kephasrpc/coerce"
)

// Param declares one named handler parameter.
type Param struct {
	Name    string
	Type    coerce.Type
	Default any
}

// Method is an immutable method descriptor.
type Method struct {
	Name       string
	Controller string
	Action     string
	Params     []Param
	Handler    HandlerFunc
}

// MethodTable maps "Controller.Action" names to methods. It is read-only once
// built and safe for concurrent use.
type MethodTable struct {
	controllers map[string]map[string]*Method
}

// HasController reports whether any method is registered under controller.
func (t *MethodTable) HasController(controller string) bool {
	if t == nil {
		return false
	}
	_, ok := t.controllers[controller]
	return ok
}

// Lookup returns the method registered for controller and action.
func (t *MethodTable) Lookup(controller, action string) (*Method, bool) {
	if t == nil {
		return nil, false
	}
	m, ok := t.controllers[controller][action]
	return m, ok
}

// Methods returns every method sorted by name.
func (t *MethodTable) Methods() []*Method {
	if t == nil {
		return nil
	}
	var out []*Method
	for _, actions := range t.controllers {
		for _, m := range actions {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SplitMethod splits a qualified method name into its two segments.
func SplitMethod(name string) (controller, action string, ok bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// TableBuilder collects method registrations before the server starts.
//
// Example:
//
//	table, err := kephasrpc.NewTableBuilder().
//	    Register("Chat.Message", sendMessage,
//	        kephasrpc.Param{Name: "userId", Type: coerce.UUID},
//	        kephasrpc.Param{Name: "message", Type: coerce.String}).
//	    Build()
type TableBuilder struct {
	controllers map[string]map[string]*Method
	errs        []error
}

// NewTableBuilder returns an empty builder.
func NewTableBuilder() *TableBuilder {
	return &TableBuilder{controllers: make(map[string]map[string]*Method)}
}

// Register adds a method. Problems are reported by Build.
func (b *TableBuilder) Register(name string, handler HandlerFunc, params ...Param) *TableBuilder {
	controller, action, ok := SplitMethod(name)
	if !ok || controller == "" || action == "" {
		b.errs = append(b.errs, fmt.Errorf("method %q: name must be Controller.Action", name))
		return b
	}
	if handler == nil {
		b.errs = append(b.errs, fmt.Errorf("method %q: nil handler", name))
		return b
	}

	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Name == "" || p.Type == nil {
			b.errs = append(b.errs, fmt.Errorf("method %q: parameter needs a name and a type", name))
			return b
		}
		if seen[p.Name] {
			b.errs = append(b.errs, fmt.Errorf("method %q: duplicate parameter %q", name, p.Name))
			return b
		}
		seen[p.Name] = true
	}

	actions, ok := b.controllers[controller]
	if !ok {
		actions = make(map[string]*Method)
		b.controllers[controller] = actions
	}
	if _, dup := actions[action]; dup {
		b.errs = append(b.errs, fmt.Errorf("method %q: registered twice", name))
		return b
	}

	actions[action] = &Method{
		Name:       name,
		Controller: controller,
		Action:     action,
		Params:     append([]Param(nil), params...),
		Handler:    handler,
	}
	return b
}

// Build freezes the registrations into a MethodTable.
func (b *TableBuilder) Build() (*MethodTable, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	controllers := make(map[string]map[string]*Method, len(b.controllers))
	for c, actions := range b.controllers {
		copied := make(map[string]*Method, len(actions))
		for a, m := range actions {
			copied[a] = m
		}
		controllers[c] = copied
	}
	return &MethodTable{controllers: controllers}, nil
}

// MustBuild is like Build but panics on error.
func (b *TableBuilder) MustBuild() *MethodTable {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}
