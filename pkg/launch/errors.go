package launch

import (
	"errors"
	"fmt"
)

// ErrExitedEarly means the command terminated before opening its port.
var ErrExitedEarly = errors.New("service exited before accepting connections")

// ErrPortInUse means the listening port was taken before the service
// started.
var ErrPortInUse = errors.New("port already in use")

// LaunchError is a failure to start the service. It is never retried.
type LaunchError struct {
	Port    int
	Command string // empty for the in-process server
	Err     error
}

func (e *LaunchError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("launch: %q on port %d failed: %v", e.Command, e.Port, e.Err)
	}
	return fmt.Sprintf("launch: port %d: %v", e.Port, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
