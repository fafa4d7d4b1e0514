package ingest

import (
	"errors"
	"fmt"
)

// ErrExhausted marks a run aborted after repeated page failures without any
// progress.
var ErrExhausted = errors.New("ingest exhausted: consecutive failed pages without progress")

// TransportError wraps a failed page fetch.
type TransportError struct {
	Page int
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
