package rpc

import "errors"

// Domain errors for the rpc package.
var (
	// ErrUnknownMethod is reported when no handler is registered for a method.
	ErrUnknownMethod = errors.New("rpc: unknown method")

	// ErrHandlerPanic is reported when a handler panics.
	ErrHandlerPanic = errors.New("rpc: handler panicked")

	// ErrCommandTimeout is returned when a command is not acknowledged
	// by the local transport before its deadline.
	ErrCommandTimeout = errors.New("rpc: command acknowledgment timed out")

	// ErrCommandPublishFailed is returned when a command cannot be published.
	ErrCommandPublishFailed = errors.New("rpc: command publish failed")
)
