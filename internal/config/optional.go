package config

import "reflect"

// Optional is the decoded form of a value that may be Absent. Set is false
// when the document says null or omits the key; an empty string is Set.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns a set Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// Get returns the value and whether it is set.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set
}

// OrElse returns the value when set, otherwise def.
func (o Optional[T]) OrElse(def T) T {
	if o.Set {
		return o.Value
	}
	return def
}

// OptionalElem reports T to decoders working through reflection.
func (o *Optional[T]) OptionalElem() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// SetOptional stores a decoded value of type T.
func (o *Optional[T]) SetOptional(v reflect.Value) {
	o.Value = v.Interface().(T)
	o.Set = true
}

// OptionalTarget is implemented by *Optional[T] for every T.
type OptionalTarget interface {
	OptionalElem() reflect.Type
	SetOptional(v reflect.Value)
}
