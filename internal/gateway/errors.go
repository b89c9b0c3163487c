package gateway

import "errors"

// Domain errors for the gateway package.
var (
	// ErrUnrecognizedInput is returned when a raw value cannot be coerced
	// to the attribute's kind.
	ErrUnrecognizedInput = errors.New("gateway: unrecognized input")

	// ErrUnknownAttribute is returned for an attribute that is neither
	// configured as controllable nor held in the store.
	ErrUnknownAttribute = errors.New("gateway: unknown attribute")

	// ErrMissingParams is returned when an RPC that needs params has none.
	ErrMissingParams = errors.New("gateway: rpc params missing")
)
