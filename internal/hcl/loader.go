package hcl

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/ctxlog"
	"github.com/vk/trainspec/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	converter *Converter
}

// NewLoader creates a new HCL document loader.
func NewLoader() *Loader {
	return &Loader{converter: NewConverter()}
}

// Extensions implements config.Loader.
func (l *Loader) Extensions() []string { return []string{".hcl"} }

// Load parses every .hcl file found under paths and merges their root
// mappings in discovery order.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Document, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.FindFilesByExtension(paths, l.Extensions()...)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	docs := make([]*config.Document, 0, len(files))
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		body, ok := hclFile.Body.(*hclsyntax.Body)
		if !ok {
			return nil, fmt.Errorf("failed to read HCL file %s: not native HCL syntax", file)
		}
		root, diags := l.converter.Body(body)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		docs = append(docs, config.NewDocument(root, file))
	}

	doc := config.Merge(docs...)
	logger.Debug("HCL loading complete.", "files", len(files), "keys", doc.Root().Len())
	return doc, nil
}

// LoadBytes parses a single in-memory document. filename is used in
// diagnostics only.
func (l *Loader) LoadBytes(src []byte, filename string) (*config.Document, error) {
	file, diags := hclsyntax.ParseConfig(src, filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL %s: %w", filename, diags)
	}
	root, diags := l.converter.Body(file.Body.(*hclsyntax.Body))
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL %s: %w", filename, diags)
	}
	return config.NewDocument(root, filename), nil
}

// bodyItem is an attribute or block positioned in the source.
type bodyItem struct {
	offset int
	attr   *hclsyntax.Attribute
	block  *hclsyntax.Block
}

// orderedItems returns a body's attributes and blocks in source order.
// hclsyntax keeps attributes in a map, so the byte offset restores the
// declaration order binding depends on.
func orderedItems(body *hclsyntax.Body) []bodyItem {
	items := make([]bodyItem, 0, len(body.Attributes)+len(body.Blocks))
	for _, attr := range body.Attributes {
		items = append(items, bodyItem{offset: attr.SrcRange.Start.Byte, attr: attr})
	}
	for _, block := range body.Blocks {
		items = append(items, bodyItem{offset: block.TypeRange.Start.Byte, block: block})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].offset < items[j].offset })
	return items
}
