package binder

import (
	"context"
	"fmt"
	"reflect"

	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/ctxlog"
	"github.com/vk/trainspec/internal/registry"
)

// Resolver is the part of the registry the binder needs.
type Resolver interface {
	ResolveConstructible(name string) (*registry.Component, error)
	ResolveSymbol(name string) (any, error)
}

// Binder resolves value trees against a registry.
type Binder struct {
	reg Resolver
}

// New creates a binder.
func New(reg Resolver) *Binder {
	return &Binder{reg: reg}
}

// Validate checks that every directive in v names something the registry
// can resolve. It performs lookups only.
func (b *Binder) Validate(path config.Path, v config.Value) error {
	switch t := v.(type) {
	case *config.Mapping:
		for _, k := range t.Keys() {
			if err := b.Validate(path.Key(k), t.Get(k)); err != nil {
				return err
			}
		}
	case config.Sequence:
		for i, item := range t {
			if err := b.Validate(path.Index(i), item); err != nil {
				return err
			}
		}
	case *config.Import:
		if _, err := b.reg.ResolveSymbol(t.Name); err != nil {
			return registry.WithPath(err, path)
		}
	case *config.Component:
		if _, err := b.reg.ResolveConstructible(t.Name); err != nil {
			return registry.WithPath(err, path)
		}
		return b.Validate(path, t.Args)
	}
	return nil
}

// Resolve validates v and then returns its resolved form. Already resolved
// nodes are returned as they are, so resolving twice is a no-op.
func (b *Binder) Resolve(ctx context.Context, path config.Path, v config.Value) (config.Value, error) {
	if err := b.Validate(path, v); err != nil {
		return nil, err
	}
	return b.resolve(ctx, path, v)
}

func (b *Binder) resolve(ctx context.Context, path config.Path, v config.Value) (config.Value, error) {
	switch t := v.(type) {
	case nil:
		return config.Absent{}, nil
	case *config.Mapping:
		out := config.NewMapping()
		for _, k := range t.Keys() {
			rv, err := b.resolve(ctx, path.Key(k), t.Get(k))
			if err != nil {
				return nil, err
			}
			out.Set(k, rv)
		}
		return out, nil
	case config.Sequence:
		out := make(config.Sequence, len(t))
		for i, item := range t {
			rv, err := b.resolve(ctx, path.Index(i), item)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	case *config.Import:
		sym, err := b.reg.ResolveSymbol(t.Name)
		if err != nil {
			return nil, registry.WithPath(err, path)
		}
		return &config.Symbol{Name: t.Name, Object: sym}, nil
	case *config.Component:
		args, err := b.resolve(ctx, path, t.Args)
		if err != nil {
			return nil, err
		}
		comp, err := b.reg.ResolveConstructible(t.Name)
		if err != nil {
			return nil, registry.WithPath(err, path)
		}
		obj, err := b.Construct(ctx, path, comp, args.(*config.Mapping), nil)
		if err != nil {
			return nil, err
		}
		return &config.Instance{Name: t.Name, Object: obj}, nil
	default:
		return v, nil
	}
}

// Construct builds one component from resolved arguments. deps is the
// dependency struct for deferred construction and must match the
// component's deps type; nil leaves the component's zero deps.
func (b *Binder) Construct(ctx context.Context, path config.Path, comp *registry.Component, args *config.Mapping, deps any) (any, error) {
	fail := func(err error) (any, error) {
		return nil, &ComponentConstructionError{Path: path, Name: comp.Name, Args: args.String(), Err: err}
	}
	if args == nil {
		args = config.NewMapping()
	}
	if !config.IsResolved(args) {
		return fail(fmt.Errorf("arguments contain unresolved directives"))
	}

	input := comp.NewInput()
	if err := Decode(path, args, input); err != nil {
		return fail(err)
	}

	if deps == nil {
		deps = comp.NewDeps()
	} else if comp.DepsType != nil && reflect.TypeOf(deps) != reflect.PointerTo(comp.DepsType) {
		return fail(fmt.Errorf("component needs %s dependencies, got %T", comp.DepsType, deps))
	}

	ctxlog.FromContext(ctx).Debug("Constructing component.", "path", path.String(), "component", comp.Name)
	obj, err := comp.Fn(ctx, deps, input)
	if err != nil {
		return fail(err)
	}
	return obj, nil
}

// ResolveAndConstruct resolves args and constructs comp from them.
func (b *Binder) ResolveAndConstruct(ctx context.Context, path config.Path, comp *registry.Component, args config.Value, deps any) (any, error) {
	if config.IsAbsent(args) {
		args = config.NewMapping()
	}
	if _, ok := args.(*config.Mapping); !ok {
		return nil, &ComponentConstructionError{Path: path, Name: comp.Name, Args: args.String(), Err: fmt.Errorf("class_args must be a mapping")}
	}
	resolved, err := b.Resolve(ctx, path, args)
	if err != nil {
		return nil, err
	}
	return b.Construct(ctx, path, comp, resolved.(*config.Mapping), deps)
}
