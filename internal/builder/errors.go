package builder

import (
	"fmt"

	"github.com/vk/trainspec/internal/config"
)

// ConfigConsistencyError reports a document whose parts disagree with
// each other or with the dataset files, or a key with the wrong shape.
type ConfigConsistencyError struct {
	Path config.Path
	Msg  string
}

func (e *ConfigConsistencyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

func inconsistent(path config.Path, format string, args ...any) error {
	return &ConfigConsistencyError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// CheckpointLoadError reports a requested resume that cannot be honoured.
// The builder never falls back to a fresh initialisation.
type CheckpointLoadError struct {
	Path config.Path
	File string
	Err  error
}

func (e *CheckpointLoadError) Error() string {
	return fmt.Sprintf("%s: cannot resume from checkpoint %q: %v", e.Path, e.File, e.Err)
}

func (e *CheckpointLoadError) Unwrap() error { return e.Err }
