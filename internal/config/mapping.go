package config

import (
	"fmt"
	"strings"
)

// Mapping is a string-keyed mapping that remembers declaration order. Keys
// are unique; the order drives deterministic, left-to-right binding.
type Mapping struct {
	keys    []string
	entries map[string]Value
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{entries: make(map[string]Value)}
}

// Set adds key with value, or replaces the value in place if the key exists.
func (m *Mapping) Set(key string, v Value) {
	if m.entries == nil {
		m.entries = make(map[string]Value)
	}
	if _, ok := m.entries[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.entries[key] = v
}

// Add is Set for loaders: it rejects duplicate keys.
func (m *Mapping) Add(key string, v Value) error {
	if m.Has(key) {
		return fmt.Errorf("duplicate key %q", key)
	}
	m.Set(key, v)
	return nil
}

// Get returns the value for key or nil.
func (m *Mapping) Get(key string) Value {
	if m == nil {
		return nil
	}
	return m.entries[key]
}

// Lookup returns the value for key and whether it is present.
func (m *Mapping) Lookup(key string) (Value, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.entries[key]
	return v, ok
}

// Has reports whether key is present (an Absent value counts as present).
func (m *Mapping) Has(key string) bool {
	_, ok := m.Lookup(key)
	return ok
}

// Delete removes key.
func (m *Mapping) Delete(key string) {
	if m == nil || !m.Has(key) {
		return
	}
	delete(m.entries, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in declaration order.
func (m *Mapping) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of keys.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Clone returns a shallow copy; values are shared.
func (m *Mapping) Clone() *Mapping {
	out := NewMapping()
	for _, k := range m.Keys() {
		out.Set(k, m.entries[k])
	}
	return out
}

// Mapping returns the nested mapping under key, or nil.
func (m *Mapping) Mapping(key string) *Mapping {
	sub, _ := m.Get(key).(*Mapping)
	return sub
}

// StringAt returns the scalar string under key, or "".
func (m *Mapping) StringAt(key string) string {
	if s, ok := m.Get(key).(Scalar); ok {
		if str, ok := s.V.(string); ok {
			return str
		}
	}
	return ""
}

func (m *Mapping) String() string {
	if m == nil {
		return "{}"
	}
	parts := make([]string, 0, len(m.keys))
	for _, k := range m.keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, m.entries[k].String()))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// MergeInto copies every key of src into dst, overriding existing keys.
func MergeInto(dst, src *Mapping) {
	for _, k := range src.Keys() {
		dst.Set(k, src.Get(k))
	}
}
