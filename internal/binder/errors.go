package binder

import (
	"fmt"

	"github.com/vk/trainspec/internal/config"
)

// ComponentConstructionError reports a directive whose name resolved but
// whose construction failed: bad or missing arguments, incompatible types,
// or an error returned by the factory.
type ComponentConstructionError struct {
	Path config.Path
	Name string
	Args string
	Err  error
}

func (e *ComponentConstructionError) Error() string {
	return fmt.Sprintf("%s: constructing %q with %s: %v", e.Path, e.Name, e.Args, e.Err)
}

func (e *ComponentConstructionError) Unwrap() error { return e.Err }

// DecodeError reports a value that does not fit its Go target.
type DecodeError struct {
	Path config.Path
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

func decodeErrorf(path config.Path, format string, args ...any) error {
	return &DecodeError{Path: path, Msg: fmt.Sprintf(format, args...)}
}
