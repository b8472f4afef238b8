package config

import (
	"strconv"
	"strings"
)

// Path is the key chain from the document root to a value. Sequence
// positions are encoded as "[i]" elements.
type Path []string

// Key returns a copy of p extended with a mapping key.
func (p Path) Key(k string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, k)
}

// Index returns a copy of p extended with a sequence position.
func (p Path) Index(i int) Path {
	return p.Key("[" + strconv.Itoa(i) + "]")
}

// String renders the path as "a.b[0].c", or "<root>" when empty.
func (p Path) String() string {
	if len(p) == 0 {
		return "<root>"
	}
	var b strings.Builder
	for i, elem := range p {
		if i > 0 && !strings.HasPrefix(elem, "[") {
			b.WriteByte('.')
		}
		b.WriteString(elem)
	}
	return b.String()
}
