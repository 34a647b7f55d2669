package swi

import (
	"errors"
	"fmt"
)

var (
	ErrHandlerAlreadyExists = errors.New("handler already exists")
	ErrHandlerNotFound      = errors.New("handler not found")
	ErrListenerClosed       = errors.New("listener closed")
	ErrServerNotStarted     = errors.New("server not started")
	ErrServerAlreadyStarted = errors.New("server already started")
	ErrNotConnected         = errors.New("not connected")
	ErrInvalidValue         = errors.New("value must be an integer between 0 and 255")
	ErrAmbiguousValue       = errors.New("value collides with a reserved command byte")
	ErrPublishFailed        = errors.New("failed to publish state")
	ErrPublishQueueFull     = errors.New("publish queue full")
	ErrSerialUnsupported    = errors.New("serial ports are not supported on this platform")
	ErrUnsupportedBaud      = errors.New("unsupported baud rate")
	ErrUinputUnsupported    = errors.New("uinput is not supported on this platform")
)

// BindError reports that the control channel name could not be bound.
// It is fatal to server startup.
type BindError struct {
	Path string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("binding %s: %s", e.Path, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ConnectError reports that a client could not reach the control channel.
type ConnectError struct {
	Path string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s: %s", e.Path, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
