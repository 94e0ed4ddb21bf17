package client

import (
	"errors"
	"fmt"
)

var (
	// ErrDaemonNotRunning is returned when the daemon socket does not exist.
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrPermissionDenied is returned when the socket is not accessible to the
	// current user.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when 404 is returned from the daemon
	ErrNotFound = errors.New("404 not found")
)

// StatusError is a non-2xx reply from the daemon.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("got %d: %s", e.Code, e.Message)
}
