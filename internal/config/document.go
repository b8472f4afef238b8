package config

import "fmt"

// RequiredKeys are the top-level keys every document must declare.
var RequiredKeys = []string{"ops", "model", "dataset", "train_model"}

// Document is a parsed experiment document. It is immutable once loaded.
type Document struct {
	root    *Mapping
	sources []string
}

// NewDocument wraps a root mapping and the files it was read from.
func NewDocument(root *Mapping, sources ...string) *Document {
	if root == nil {
		root = NewMapping()
	}
	return &Document{root: root, sources: sources}
}

// Root returns the root mapping, including keys unknown to the builder.
func (d *Document) Root() *Mapping { return d.root }

// Sources returns the files the document was loaded from.
func (d *Document) Sources() []string {
	out := make([]string, len(d.sources))
	copy(out, d.sources)
	return out
}

// Section returns the mapping under a top-level key or nil.
func (d *Document) Section(key string) *Mapping { return d.root.Mapping(key) }

// Get returns the top-level value under key.
func (d *Document) Get(key string) Value { return d.root.Get(key) }

// MissingKeys lists required keys that are not present.
func (d *Document) MissingKeys() []string {
	var missing []string
	for _, k := range RequiredKeys {
		if !d.root.Has(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// Ops returns the ordered operation names.
func (d *Document) Ops() ([]string, error) {
	v, ok := d.root.Lookup("ops")
	if !ok {
		return nil, fmt.Errorf("ops: missing")
	}
	seq, ok := v.(Sequence)
	if !ok {
		return nil, fmt.Errorf("ops: expected a sequence of names, got %s", v.String())
	}
	out := make([]string, 0, len(seq))
	for i, item := range seq {
		s, ok := item.(Scalar)
		name, isStr := s.V.(string)
		if !ok || !isStr {
			return nil, fmt.Errorf("%s: expected an operation name, got %s", Path{"ops"}.Index(i), item.String())
		}
		out = append(out, name)
	}
	return out, nil
}

// Merge combines documents left to right; later top-level keys win.
func Merge(docs ...*Document) *Document {
	root := NewMapping()
	var sources []string
	for _, d := range docs {
		if d == nil {
			continue
		}
		MergeInto(root, d.root)
		sources = append(sources, d.sources...)
	}
	return NewDocument(root, sources...)
}
