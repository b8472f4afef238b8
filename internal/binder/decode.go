package binder

import (
	"math"
	"reflect"
	"strings"

	"github.com/vk/trainspec/internal/config"
)

var (
	valueType   = reflect.TypeOf((*config.Value)(nil)).Elem()
	mappingType = reflect.TypeOf((*config.Mapping)(nil))
	optionalIf  = reflect.TypeOf((*config.OptionalTarget)(nil)).Elem()
)

// fieldTag is a parsed `conf:"name,opts"` struct tag.
type fieldTag struct {
	name     string
	required bool
	remain   bool
}

func parseTag(f reflect.StructField) (fieldTag, bool) {
	tag, ok := f.Tag.Lookup("conf")
	if !ok || tag == "-" {
		return fieldTag{}, false
	}
	parts := strings.Split(tag, ",")
	ft := fieldTag{name: parts[0]}
	for _, opt := range parts[1:] {
		switch opt {
		case "required":
			ft.required = true
		case "remain":
			ft.remain = true
		}
	}
	return ft, true
}

// Decode stores a resolved value into target, which must be a non-nil
// pointer. Structs are filled from mappings by `conf` tags; a field tagged
// `conf:",remain"` (map[string]any or *config.Mapping) receives keys no
// other field claims, otherwise unknown keys are an error.
func Decode(path config.Path, v config.Value, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return decodeErrorf(path, "decode target must be a non-nil pointer, got %T", target)
	}
	return decodeInto(path, v, rv.Elem())
}

func decodeInto(path config.Path, v config.Value, dst reflect.Value) error {
	if dst.CanAddr() && dst.Addr().Type().Implements(optionalIf) {
		if config.IsAbsent(v) {
			return nil
		}
		opt := dst.Addr().Interface().(config.OptionalTarget)
		elem := reflect.New(opt.OptionalElem()).Elem()
		if err := decodeInto(path, v, elem); err != nil {
			return err
		}
		opt.SetOptional(elem)
		return nil
	}

	switch dst.Type() {
	case valueType:
		if v == nil {
			v = config.Absent{}
		}
		dst.Set(reflect.ValueOf(&v).Elem())
		return nil
	case mappingType:
		if config.IsAbsent(v) {
			return nil
		}
		m, ok := v.(*config.Mapping)
		if !ok {
			return decodeErrorf(path, "expected a mapping, got %s", v.String())
		}
		dst.Set(reflect.ValueOf(m))
		return nil
	}

	if config.IsAbsent(v) {
		return nil
	}

	switch t := v.(type) {
	case *config.Instance:
		return assignObject(path, t.Name, t.Object, dst)
	case *config.Symbol:
		return assignObject(path, t.Name, t.Object, dst)
	case *config.Component, *config.Import:
		return decodeErrorf(path, "unresolved directive %s", v.String())
	}

	switch dst.Kind() {
	case reflect.Pointer:
		elem := reflect.New(dst.Type().Elem())
		if err := decodeInto(path, v, elem.Elem()); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	case reflect.Interface:
		if dst.NumMethod() > 0 {
			return decodeErrorf(path, "expected a component implementing %s, got %s", dst.Type(), v.String())
		}
		if native := config.ToNative(v); native != nil {
			dst.Set(reflect.ValueOf(native))
		}
		return nil
	case reflect.String:
		s, ok := scalarOf[string](v)
		if !ok {
			return decodeErrorf(path, "expected a string, got %s", v.String())
		}
		dst.SetString(s)
		return nil
	case reflect.Bool:
		b, ok := scalarOf[bool](v)
		if !ok {
			return decodeErrorf(path, "expected a bool, got %s", v.String())
		}
		dst.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := integerOf(v)
		if !ok {
			return decodeErrorf(path, "expected an integer, got %s", v.String())
		}
		if dst.OverflowInt(i) {
			return decodeErrorf(path, "integer %d overflows %s", i, dst.Type())
		}
		dst.SetInt(i)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, ok := integerOf(v)
		if !ok || i < 0 {
			return decodeErrorf(path, "expected a non-negative integer, got %s", v.String())
		}
		if dst.OverflowUint(uint64(i)) {
			return decodeErrorf(path, "integer %d overflows %s", i, dst.Type())
		}
		dst.SetUint(uint64(i))
		return nil
	case reflect.Float32, reflect.Float64:
		f, ok := floatOf(v)
		if !ok {
			return decodeErrorf(path, "expected a number, got %s", v.String())
		}
		dst.SetFloat(f)
		return nil
	case reflect.Slice:
		seq, ok := v.(config.Sequence)
		if !ok {
			return decodeErrorf(path, "expected a sequence, got %s", v.String())
		}
		out := reflect.MakeSlice(dst.Type(), len(seq), len(seq))
		for i, item := range seq {
			if err := decodeInto(path.Index(i), item, out.Index(i)); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil
	case reflect.Map:
		if dst.Type().Key().Kind() != reflect.String {
			return decodeErrorf(path, "unsupported map key type %s", dst.Type().Key())
		}
		m, ok := v.(*config.Mapping)
		if !ok {
			return decodeErrorf(path, "expected a mapping, got %s", v.String())
		}
		out := reflect.MakeMapWithSize(dst.Type(), m.Len())
		for _, k := range m.Keys() {
			elem := reflect.New(dst.Type().Elem()).Elem()
			if err := decodeInto(path.Key(k), m.Get(k), elem); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(dst.Type().Key()), elem)
		}
		dst.Set(out)
		return nil
	case reflect.Struct:
		m, ok := v.(*config.Mapping)
		if !ok {
			return decodeErrorf(path, "expected a mapping, got %s", v.String())
		}
		return decodeStruct(path, m, dst)
	}
	return decodeErrorf(path, "unsupported target type %s", dst.Type())
}

func decodeStruct(path config.Path, m *config.Mapping, dst reflect.Value) error {
	typ := dst.Type()
	claimed := make(map[string]struct{})
	remain := -1

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		tag, ok := parseTag(field)
		if !ok {
			continue
		}
		if tag.remain {
			remain = i
			continue
		}
		claimed[tag.name] = struct{}{}
		v, present := m.Lookup(tag.name)
		if !present {
			if tag.required {
				return decodeErrorf(path, "missing required argument %q", tag.name)
			}
			continue
		}
		if err := decodeInto(path.Key(tag.name), v, dst.Field(i)); err != nil {
			return err
		}
	}

	var extra []string
	for _, k := range m.Keys() {
		if _, ok := claimed[k]; !ok {
			extra = append(extra, k)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	if remain < 0 {
		return decodeErrorf(path, "unsupported argument %q", extra[0])
	}

	rest := config.NewMapping()
	for _, k := range extra {
		rest.Set(k, m.Get(k))
	}
	return decodeInto(path, rest, dst.Field(remain))
}

// assignObject stores a constructed object or imported symbol into dst if
// its type fits, converting named function types where needed.
func assignObject(path config.Path, name string, obj any, dst reflect.Value) error {
	if obj == nil {
		return nil
	}
	ov := reflect.ValueOf(obj)
	switch {
	case ov.Type().AssignableTo(dst.Type()):
		dst.Set(ov)
		return nil
	case ov.Kind() == reflect.Func && ov.Type().ConvertibleTo(dst.Type()):
		dst.Set(ov.Convert(dst.Type()))
		return nil
	}
	return decodeErrorf(path, "%s is a %s, which cannot be used as %s", name, ov.Type(), dst.Type())
}

func scalarOf[T any](v config.Value) (T, bool) {
	var zero T
	s, ok := v.(config.Scalar)
	if !ok {
		return zero, false
	}
	out, ok := s.V.(T)
	return out, ok
}

func integerOf(v config.Value) (int64, bool) {
	s, ok := v.(config.Scalar)
	if !ok {
		return 0, false
	}
	switch n := s.V.(type) {
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) && math.Abs(n) < 1<<63 {
			return int64(n), true
		}
	}
	return 0, false
}

func floatOf(v config.Value) (float64, bool) {
	s, ok := v.(config.Scalar)
	if !ok {
		return 0, false
	}
	switch n := s.V.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
