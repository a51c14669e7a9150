package generation

import (
	"errors"
	"fmt"
)

// ErrEmptyContent marks a generation call that succeeded at the transport
// level but produced nothing usable. Callers skip the item.
var ErrEmptyContent = errors.New("empty content")

// Error wraps a content-generation failure with the operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generation: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
