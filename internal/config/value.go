package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a node of a configuration tree. The set of implementations is
// closed: Scalar, Absent, *Mapping, Sequence, *Component, *Import, and the
// two resolved forms *Instance and *Symbol.
type Value interface {
	isValue()
	String() string
}

// Scalar holds a literal: bool, int64, float64 or string.
type Scalar struct {
	V any
}

// Absent marks a value that is explicitly not configured (null in the
// source document). It is distinct from an empty string.
type Absent struct{}

// Sequence is an ordered list of values.
type Sequence []Value

// Component is a directive to construct the named component from Args.
type Component struct {
	Name string
	Args *Mapping
}

// Import is a directive to bind the named symbol without invoking it.
type Import struct {
	Name string
}

// Instance is a Component that has been constructed.
type Instance struct {
	Name   string
	Object any
}

// Symbol is an Import that has been resolved.
type Symbol struct {
	Name   string
	Object any
}

func (Scalar) isValue()     {}
func (Absent) isValue()     {}
func (Sequence) isValue()   {}
func (*Mapping) isValue()   {}
func (*Component) isValue() {}
func (*Import) isValue()    {}
func (*Instance) isValue()  {}
func (*Symbol) isValue()    {}

// String renders a scalar the way it would appear in a document.
func (s Scalar) String() string {
	switch v := s.V.(type) {
	case string:
		return strconv.Quote(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (Absent) String() string { return "null" }

func (s Sequence) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (c *Component) String() string {
	return fmt.Sprintf("!obj:%s %s", c.Name, c.Args.String())
}

func (i *Import) String() string { return "!import:" + i.Name }

func (i *Instance) String() string { return fmt.Sprintf("<%s instance>", i.Name) }

func (s *Symbol) String() string { return fmt.Sprintf("<%s>", s.Name) }

// Str, Int, Float and Bool build scalars.
func Str(s string) Scalar    { return Scalar{V: s} }
func Int(i int64) Scalar     { return Scalar{V: i} }
func Float(f float64) Scalar { return Scalar{V: f} }
func Bool(b bool) Scalar     { return Scalar{V: b} }

// IsAbsent reports whether v is nil or the Absent sentinel.
func IsAbsent(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Absent)
	return ok
}

// IsResolved reports whether v contains no unresolved directives.
func IsResolved(v Value) bool {
	switch t := v.(type) {
	case *Component, *Import:
		return false
	case *Mapping:
		for _, k := range t.Keys() {
			if !IsResolved(t.Get(k)) {
				return false
			}
		}
	case Sequence:
		for _, item := range t {
			if !IsResolved(item) {
				return false
			}
		}
	}
	return true
}

// ToNative converts a resolved value into plain Go data: map[string]any,
// []any, scalars, constructed objects and nil for Absent.
func ToNative(v Value) any {
	switch t := v.(type) {
	case nil, Absent:
		return nil
	case Scalar:
		return t.V
	case Sequence:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToNative(item)
		}
		return out
	case *Mapping:
		out := make(map[string]any, t.Len())
		for _, k := range t.Keys() {
			out[k] = ToNative(t.Get(k))
		}
		return out
	case *Instance:
		return t.Object
	case *Symbol:
		return t.Object
	default:
		return v
	}
}
