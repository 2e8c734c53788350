// Package sources holds the adapters that load chain and subgraph data.
package sources

import (
	"errors"
	"fmt"
)

// ErrAdapter marks failures of an external data source.
var ErrAdapter = errors.New("adapter error")

// AdapterError describes a failed call to an external source.
type AdapterError struct {
	Adapter string // e.g. "subgraph", "rpc"
	Op      string // query or method name
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Adapter, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Is reports ErrAdapter as matching any AdapterError.
func (e *AdapterError) Is(target error) bool {
	return target == ErrAdapter
}

// Wrap returns err as an AdapterError, or nil if err is nil.
func Wrap(adapter, op string, err error) error {
	if err == nil {
		return nil
	}
	return &AdapterError{Adapter: adapter, Op: op, Err: err}
}
