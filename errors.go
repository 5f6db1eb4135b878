package docbridge

import (
	"errors"
	"fmt"
)

// ErrAlreadyStarted is returned by Start when the synchronizer is not in
// the STOPPED state.
var ErrAlreadyStarted = errors.New("synchronizer already started")

// FatalConfigurationError wraps a startup-time fault: an unreachable or
// misconfigured store. It moves the synchronizer to ERROR and no background
// work is started. Transient faults after startup are never fatal.
type FatalConfigurationError struct {
	Err   error
	Stage string
}

func (e *FatalConfigurationError) Error() string {
	return fmt.Sprintf("fatal configuration error during %s: %v", e.Stage, e.Err)
}

func (e *FatalConfigurationError) Unwrap() error {
	return e.Err
}
