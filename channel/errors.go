package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed channel or transport.
	ErrClosed = errors.New("channel closed")
	// ErrUnsupported reports a transport not available in this build or on
	// this platform.
	ErrUnsupported = errors.New("transport not supported")
)

// OpenError reports a failure to bind a channel to its interface.
type OpenError struct {
	Interface string
	Err       error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("can't open channel on interface %s: %v", e.Interface, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// SendError reports a frame the transport did not transmit.
type SendError struct {
	Len int
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("can't send %d byte frame: %v", e.Len, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ReceiveError reports a transport failure while waiting for a frame.
type ReceiveError struct {
	Err error
}

func (e *ReceiveError) Error() string { return "can't read frame: " + e.Err.Error() }

func (e *ReceiveError) Unwrap() error { return e.Err }
