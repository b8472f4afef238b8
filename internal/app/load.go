package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vk/trainspec/internal/config"
	"github.com/vk/trainspec/internal/ctxlog"
	"github.com/vk/trainspec/internal/hcl"
	"github.com/vk/trainspec/internal/yamlconf"
)

// loaders are tried in this order for every path. A directory holding both
// formats yields its HCL documents first.
func loaders() []config.Loader {
	return []config.Loader{hcl.NewLoader(), yamlconf.NewLoader()}
}

// LoadDocument reads and merges every configured path. Each path is a
// document, picked by extension, or a directory searched for documents.
func (a *App) LoadDocument(ctx context.Context) (*config.Document, error) {
	ctx = a.withLogger(ctx)
	logger := ctxlog.FromContext(ctx)
	if len(a.config.ConfigPaths) == 0 {
		return nil, errors.New("no configuration paths given")
	}

	var docs []*config.Document
	for _, path := range a.config.ConfigPaths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("configuration path: %w", err)
		}
		ext := strings.ToLower(filepath.Ext(path))
		found := false
		for _, l := range loaders() {
			if !info.IsDir() && !slices.Contains(l.Extensions(), ext) {
				continue
			}
			doc, err := l.Load(ctx, path)
			if err != nil {
				return nil, err
			}
			if len(doc.Sources()) == 0 {
				continue
			}
			found = true
			docs = append(docs, doc)
		}
		if !found {
			return nil, fmt.Errorf("%s: no .hcl, .yaml or .yml documents found", path)
		}
	}

	doc := config.Merge(docs...)
	logger.Debug("Configuration loaded and translated into unified model.", "sources", doc.Sources())
	return doc, nil
}
