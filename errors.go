package onebot

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrClosed         = errors.New("onebot: client closed")
	ErrNotConnected   = errors.New("onebot: not connected")
	ErrConnectionLost = errors.New("onebot: connection lost")
	ErrTimeout        = errors.New("onebot: call timed out")
)

// ConnectError is a handshake rejection (bad address, bad credential).
// It is not retried by the reconnection loop.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("onebot: connect %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("onebot: connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// NetworkError is a transient transport failure. It drives the
// reconnection loop rather than surfacing to callers directly.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("onebot: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RemoteError is an explicit rejection of a call by the peer.
// The connection itself stays healthy.
type RemoteError struct {
	Action  string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("onebot: %s failed [retcode %d]: %s", e.Action, e.Code, e.Message)
	}
	return fmt.Sprintf("onebot: %s failed [retcode %d]", e.Action, e.Code)
}

// MalformedEventError reports an inbound event frame missing a required
// field for its variant. The frame is dropped and the stream continues.
type MalformedEventError struct {
	PostType string
	Field    string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("onebot: malformed %s event: missing %s", e.PostType, e.Field)
}
