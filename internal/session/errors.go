package session

import (
	"errors"
	"fmt"
)

var (
	ErrNoImage      = errors.New("no image loaded")
	ErrNoCrop       = errors.New("no crop in progress")
	ErrModeNotReady = errors.New("enhancement mode is not ready")
)

// TransientOperationError is a failed crop, enhance or encode call. The
// session keeps its previous results when one is returned.
type TransientOperationError struct {
	Op  string
	Err error
}

func (e *TransientOperationError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransientOperationError) Unwrap() error { return e.Err }
