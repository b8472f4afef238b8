package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"
)

// Component is a constructible factory. NewInput returns a pointer to the
// struct the binder decodes arguments into; NewDeps returns a pointer to
// the dependency struct the builder injects for deferred construction.
type Component struct {
	Name        string
	Description string
	InputType   reflect.Type
	DepsType    reflect.Type
	NewInput    func() any
	NewDeps     func() any
	Fn          func(ctx context.Context, deps, input any) (any, error)
}

// NewComponent wraps a typed constructor. D and I are struct types; the
// constructor receives pointers to them.
func NewComponent[D, I any](description string, fn func(ctx context.Context, deps *D, input *I) (any, error)) *Component {
	return &Component{
		Description: description,
		InputType:   reflect.TypeOf((*I)(nil)).Elem(),
		DepsType:    reflect.TypeOf((*D)(nil)).Elem(),
		NewInput:    func() any { return new(I) },
		NewDeps:     func() any { return new(D) },
		Fn: func(ctx context.Context, deps, input any) (any, error) {
			return fn(ctx, deps.(*D), input.(*I))
		},
	}
}

// NoDeps is the dependency type of components built purely from arguments.
type NoDeps struct{}

// Namespace collects the names one module contributes.
type Namespace struct {
	name       string
	components map[string]*Component
	symbols    map[string]any
}

func newNamespace(name string) *Namespace {
	return &Namespace{
		name:       name,
		components: make(map[string]*Component),
		symbols:    make(map[string]any),
	}
}

// Name returns the namespace qualifier.
func (ns *Namespace) Name() string { return ns.name }

// RegisterComponent adds a constructible factory.
func (ns *Namespace) RegisterComponent(name string, c *Component) {
	if _, exists := ns.components[name]; exists {
		panic(fmt.Sprintf("component '%s.%s' already registered", ns.name, name))
	}
	if _, exists := ns.symbols[name]; exists {
		panic(fmt.Sprintf("name '%s.%s' already registered as a symbol", ns.name, name))
	}
	c.Name = ns.name + "." + name
	ns.components[name] = c
}

// RegisterSymbol adds an importable value: a function, constant or type.
func (ns *Namespace) RegisterSymbol(name string, v any) {
	if _, exists := ns.symbols[name]; exists {
		panic(fmt.Sprintf("symbol '%s.%s' already registered", ns.name, name))
	}
	if _, exists := ns.components[name]; exists {
		panic(fmt.Sprintf("name '%s.%s' already registered as a component", ns.name, name))
	}
	ns.symbols[name] = v
}

func (ns *Namespace) componentNames() []string {
	out := make([]string, 0, len(ns.components))
	for k := range ns.components {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (ns *Namespace) symbolNames() []string {
	out := make([]string, 0, len(ns.symbols))
	for k := range ns.symbols {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
