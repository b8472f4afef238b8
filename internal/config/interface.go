package config

import (
	"context"
)

// Loader is the interface for a format-specific document loader.
type Loader interface {
	// Load reads every given path, translates its content into the
	// format-agnostic model and merges the results into a single Document.
	Load(ctx context.Context, paths ...string) (*Document, error)

	// Extensions reports the file extensions the loader understands,
	// including the leading dot.
	Extensions() []string
}
