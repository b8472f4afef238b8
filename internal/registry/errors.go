package registry

import (
	"fmt"
	"strings"

	"github.com/vk/trainspec/internal/config"
)

// UnknownComponentError reports a constructible name that no registered
// namespace provides. Path is filled in by callers that know where in the
// document the name appeared.
type UnknownComponentError struct {
	Path        config.Path
	Name        string
	Reason      string
	Suggestions []string
}

func (e *UnknownComponentError) Error() string {
	msg := fmt.Sprintf("unknown component %q: %s", e.Name, e.Reason)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (available: %s)", strings.Join(e.Suggestions, ", "))
	}
	if len(e.Path) > 0 {
		msg = e.Path.String() + ": " + msg
	}
	return msg
}

// UnknownSymbolError reports an importable name that cannot be located.
type UnknownSymbolError struct {
	Path   config.Path
	Name   string
	Reason string
}

func (e *UnknownSymbolError) Error() string {
	msg := fmt.Sprintf("unknown symbol %q: %s", e.Name, e.Reason)
	if len(e.Path) > 0 {
		msg = e.Path.String() + ": " + msg
	}
	return msg
}

// WithPath sets the document path on a registry lookup error and returns
// it. Other errors are returned unchanged.
func WithPath(err error, path config.Path) error {
	switch e := err.(type) {
	case *UnknownComponentError:
		e.Path = path
	case *UnknownSymbolError:
		e.Path = path
	}
	return err
}
