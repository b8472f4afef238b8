package executor

import (
	"fmt"
	"strings"

	"github.com/vk/trainspec/internal/config"
)

// UnknownOperationError reports an ops entry that names no operation.
type UnknownOperationError struct {
	Path config.Path
	Op   string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("%s: unknown operation %q (known: %s)", e.Path, e.Op, strings.Join(Operations(), ", "))
}

// OpError wraps a failure inside the op at Index of the ops list.
type OpError struct {
	Index int
	Op    string
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("op %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
