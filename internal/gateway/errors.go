package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrNoBiasData         = errors.New("no bias data available for domain")
	ErrBackendUnreachable = errors.New("backend unreachable")
)

// BackendError is any transport, status or decoding failure of a backend call.
type BackendError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrBackendUnreachable}
	}
	return []error{ErrBackendUnreachable, e.Err}
}
