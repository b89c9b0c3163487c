package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrAttributeNotFound) {
//	    // never set; not a failure
//	}
var (
	// ErrAttributeNotFound is returned when an attribute has never been set.
	ErrAttributeNotFound = errors.New("device: attribute not found")
)
