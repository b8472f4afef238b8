// Package yamlconf provides the YAML implementation of config.Loader.
//
// Directives are YAML tags: a mapping tagged !obj:ns.Name constructs a
// component with the mapping as its arguments, and a node tagged
// !import:ns.Name (or the scalar form `!import ns.Name`) binds a symbol.
package yamlconf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/ctxlog"
	"github.com/vk/trainspec/internal/fsutil"
)

const (
	tagComponent = "!obj"
	tagImport    = "!import"
	tagMerge     = "!!merge"
)

// Loader reads .yml and .yaml documents.
type Loader struct{}

// NewLoader creates a new YAML document loader.
func NewLoader() *Loader { return &Loader{} }

// Extensions implements config.Loader.
func (l *Loader) Extensions() []string { return []string{".yml", ".yaml"} }

// Load parses every YAML file found under paths and merges them in
// discovery order.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Document, error) {
	logger := ctxlog.FromContext(ctx)
	files, err := fsutil.FindFilesByExtension(paths, l.Extensions()...)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered YAML files.", "count", len(files))

	docs := make([]*config.Document, 0, len(files))
	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read YAML file: %w", err)
		}
		doc, err := l.LoadBytes(src, file)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return config.Merge(docs...), nil
}

// LoadBytes parses one YAML stream. Multiple documents in the stream are
// merged in order.
func (l *Loader) LoadBytes(src []byte, filename string) (*config.Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	var docs []*config.Document
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML %s: %w", filename, err)
		}
		c := converter{file: filename}
		v, err := c.node(&node)
		if err != nil {
			return nil, err
		}
		switch root := v.(type) {
		case *config.Mapping:
			docs = append(docs, config.NewDocument(root, filename))
		case config.Absent:
			docs = append(docs, config.NewDocument(config.NewMapping(), filename))
		default:
			return nil, fmt.Errorf("%s: top level must be a mapping, got %s", filename, v.String())
		}
	}
	if len(docs) == 0 {
		return config.NewDocument(config.NewMapping(), filename), nil
	}
	doc := config.Merge(docs...)
	return config.NewDocument(doc.Root(), filename), nil
}

type converter struct {
	file string
}

func (c converter) errorf(n *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("%s:%d:%d: %s", c.file, n.Line, n.Column, fmt.Sprintf(format, args...))
}

func (c converter) node(n *yaml.Node) (config.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return config.Absent{}, nil
		}
		return c.node(n.Content[0])
	case yaml.AliasNode:
		return c.node(n.Alias)
	}

	if name, ok := directiveName(n.Tag, tagImport); ok {
		if name == "" {
			if n.Kind != yaml.ScalarNode || n.Value == "" {
				return nil, c.errorf(n, "!import needs a qualified name, e.g. !import:metrics.pearson")
			}
			name = n.Value
		}
		return &config.Import{Name: name}, nil
	}
	if name, ok := directiveName(n.Tag, tagComponent); ok {
		return c.component(n, name)
	}

	switch n.Kind {
	case yaml.MappingNode:
		return c.mapping(n)
	case yaml.SequenceNode:
		seq := make(config.Sequence, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := c.node(item)
			if err != nil {
				return nil, err
			}
			seq = append(seq, v)
		}
		return seq, nil
	case yaml.ScalarNode:
		return c.scalar(n)
	}
	return nil, c.errorf(n, "unsupported YAML node")
}

// directiveName reports whether tag is the given directive and returns the
// qualified name after the colon, if any.
func directiveName(tag, directive string) (string, bool) {
	if tag == directive {
		return "", true
	}
	if rest, ok := strings.CutPrefix(tag, directive+":"); ok {
		return rest, true
	}
	return "", false
}

func (c converter) component(n *yaml.Node, name string) (config.Value, error) {
	if name == "" {
		return nil, c.errorf(n, "!obj needs a qualified name, e.g. !obj:optim.StepLR")
	}
	args := config.NewMapping()
	switch n.Kind {
	case yaml.MappingNode:
		m, err := c.mapping(n)
		if err != nil {
			return nil, err
		}
		args = m
	case yaml.ScalarNode:
		if n.Value != "" && n.Value != "~" && n.Value != "null" {
			return nil, c.errorf(n, "arguments of %s must be a mapping", name)
		}
	default:
		return nil, c.errorf(n, "arguments of %s must be a mapping", name)
	}
	return &config.Component{Name: name, Args: args}, nil
}

func (c converter) mapping(n *yaml.Node) (*config.Mapping, error) {
	m := config.NewMapping()
	var merged []*config.Mapping
	for i := 0; i+1 < len(n.Content); i += 2 {
		keyNode, valNode := n.Content[i], n.Content[i+1]
		if keyNode.ShortTag() == tagMerge {
			v, err := c.node(valNode)
			if err != nil {
				return nil, err
			}
			switch t := v.(type) {
			case *config.Mapping:
				merged = append(merged, t)
			case config.Sequence:
				for _, item := range t {
					im, ok := item.(*config.Mapping)
					if !ok {
						return nil, c.errorf(valNode, "merge key expects mappings")
					}
					merged = append(merged, im)
				}
			default:
				return nil, c.errorf(valNode, "merge key expects a mapping")
			}
			continue
		}
		if keyNode.Kind != yaml.ScalarNode {
			return nil, c.errorf(keyNode, "mapping keys must be scalars")
		}
		v, err := c.node(valNode)
		if err != nil {
			return nil, err
		}
		if err := m.Add(keyNode.Value, v); err != nil {
			return nil, c.errorf(keyNode, "%v", err)
		}
	}
	for _, src := range merged {
		for _, k := range src.Keys() {
			if !m.Has(k) {
				m.Set(k, src.Get(k))
			}
		}
	}
	return m, nil
}

func (c converter) scalar(n *yaml.Node) (config.Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return config.Absent{}, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, c.errorf(n, "%v", err)
		}
		return config.Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return nil, c.errorf(n, "%v", err)
		}
		return config.Int(i), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, c.errorf(n, "%v", err)
		}
		return config.Float(f), nil
	case "!!str", "!!timestamp", "!!binary":
		return config.Str(n.Value), nil
	}
	return nil, c.errorf(n, "unknown tag %s", n.Tag)
}
