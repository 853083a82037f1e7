package backend

import "fmt"

// AdapterError wraps a failure from a backend adapter (subprocess spawn,
// HTTP round-trip, stream read). The circuit breaker counts these as
// failures regardless of which concrete adapter produced them (spec §4.10).
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("backend adapter: %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func NewAdapterError(op string, err error) *AdapterError {
	return &AdapterError{Op: op, Err: err}
}
