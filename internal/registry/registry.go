package registry

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Module is the interface that all compiled-in component modules implement.
type Module interface {
	// Namespace is the qualifier of every name the module provides.
	Namespace() string
	// Register fills the namespace. It runs at most once per Registry.
	Register(ns *Namespace)
}

// Registry resolves qualified names to components and symbols.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
	loaded  map[string]*Namespace
	group   singleflight.Group
}

// New creates a registry populated with the given modules. Nothing is
// loaded until the first lookup.
func New(modules ...Module) *Registry {
	r := &Registry{
		modules: make(map[string]Module),
		loaded:  make(map[string]*Namespace),
	}
	for _, m := range modules {
		r.RegisterModule(m)
	}
	return r
}

// RegisterModule adds a module. Registering two modules for the same
// namespace is a programmer error.
func (r *Registry) RegisterModule(m Module) {
	name := m.Namespace()
	if name == "" || strings.Contains(name, "/") {
		panic(fmt.Sprintf("invalid namespace name %q", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[name]; exists {
		panic(fmt.Sprintf("namespace '%s' already registered", name))
	}
	slog.Debug("Registering namespace.", "namespace", name)
	r.modules[name] = m
}

// RegisterNamespace adds a namespace filled by load on first lookup.
func (r *Registry) RegisterNamespace(name string, load func(ns *Namespace)) {
	r.RegisterModule(funcModule{name: name, load: load})
}

type funcModule struct {
	name string
	load func(ns *Namespace)
}

func (m funcModule) Namespace() string      { return m.name }
func (m funcModule) Register(ns *Namespace) { m.load(ns) }

// Namespaces returns the registered namespace names, sorted.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for name := range r.modules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// namespace returns the loaded namespace, loading it on first use.
// Concurrent first lookups share a single Register call.
func (r *Registry) namespace(name string) (*Namespace, bool) {
	r.mu.RLock()
	ns, ok := r.loaded[name]
	mod, known := r.modules[name]
	r.mu.RUnlock()
	if ok {
		return ns, true
	}
	if !known {
		return nil, false
	}

	v, _, _ := r.group.Do(name, func() (any, error) {
		r.mu.RLock()
		ns, ok := r.loaded[name]
		r.mu.RUnlock()
		if ok {
			return ns, nil
		}
		ns = newNamespace(name)
		mod.Register(ns)
		slog.Debug("Namespace loaded.", "namespace", name, "components", len(ns.components), "symbols", len(ns.symbols))
		r.mu.Lock()
		r.loaded[name] = ns
		r.mu.Unlock()
		return ns, nil
	})
	return v.(*Namespace), true
}

// Loaded reports whether a namespace has been loaded. Used by tests.
func (r *Registry) Loaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaded[name]
	return ok
}

// split separates "ns.Name" into its namespace and local name. Namespaces
// may themselves contain dots; the local name is the last element.
func split(qualified string) (string, string, bool) {
	i := strings.LastIndex(qualified, ".")
	if i <= 0 || i == len(qualified)-1 {
		return "", "", false
	}
	return qualified[:i], qualified[i+1:], true
}

// ResolveConstructible returns the factory registered under a qualified
// name. It never constructs anything.
func (r *Registry) ResolveConstructible(name string) (*Component, error) {
	nsName, local, ok := split(name)
	if !ok {
		return nil, &UnknownComponentError{Name: name, Reason: "name is not qualified with a namespace"}
	}
	ns, ok := r.namespace(nsName)
	if !ok {
		return nil, &UnknownComponentError{Name: name, Reason: fmt.Sprintf("namespace %q is not registered", nsName)}
	}
	c, ok := ns.components[local]
	if !ok {
		return nil, &UnknownComponentError{Name: name, Reason: fmt.Sprintf("namespace %q has no component %q", nsName, local), Suggestions: ns.componentNames()}
	}
	return c, nil
}

// ResolveSymbol returns the value bound to a qualified name. Components are
// importable too: their factory is returned uninvoked, which is how a class
// is passed as a parameter for later construction.
func (r *Registry) ResolveSymbol(name string) (any, error) {
	nsName, local, ok := split(name)
	if !ok {
		return nil, &UnknownSymbolError{Name: name, Reason: "name is not qualified with a namespace"}
	}
	ns, ok := r.namespace(nsName)
	if !ok {
		return nil, &UnknownSymbolError{Name: name, Reason: fmt.Sprintf("namespace %q is not registered", nsName)}
	}
	if v, ok := ns.symbols[local]; ok {
		return v, nil
	}
	if c, ok := ns.components[local]; ok {
		return c, nil
	}
	return nil, &UnknownSymbolError{Name: name, Reason: fmt.Sprintf("namespace %q has no symbol %q", nsName, local)}
}

// ResolveModel resolves a model class given the document's model.path. An
// already qualified class wins; otherwise the namespace is the base name of
// path without its extension ("models/nn.py" -> "nn").
func (r *Registry) ResolveModel(path, class string) (*Component, string, error) {
	qualified := ModelName(path, class)
	c, err := r.ResolveConstructible(qualified)
	return c, qualified, err
}

// ModelName computes the qualified model class name ResolveModel looks up.
func ModelName(path, class string) string {
	if strings.Contains(class, ".") || path == "" {
		return class
	}
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return base + "." + class
}

// Entry describes one registered name for listings.
type Entry struct {
	Name        string
	Kind        string
	Description string
}

// Describe loads every namespace and lists its names, sorted.
func (r *Registry) Describe() []Entry {
	var out []Entry
	for _, nsName := range r.Namespaces() {
		ns, _ := r.namespace(nsName)
		for _, local := range ns.componentNames() {
			out = append(out, Entry{Name: nsName + "." + local, Kind: "component", Description: ns.components[local].Description})
		}
		for _, local := range ns.symbolNames() {
			out = append(out, Entry{Name: nsName + "." + local, Kind: "symbol"})
		}
	}
	return out
}
