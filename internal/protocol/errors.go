package protocol

import "errors"

// Domain errors for the protocol package.
//
// Decode errors are recoverable: the caller logs and discards the message.
var (
	// ErrMalformedPayload is returned when a payload is not a well-formed
	// JSON object of the shape its topic requires.
	ErrMalformedPayload = errors.New("protocol: malformed payload")

	// ErrUnknownTopic is returned when a topic matches no device API pattern.
	ErrUnknownTopic = errors.New("protocol: unknown topic")

	// ErrMissingRequestID is returned when an RPC response is encoded
	// without the identifier of the request it answers.
	ErrMissingRequestID = errors.New("protocol: missing request id")

	// ErrEncodingFailed is returned when an outbound payload cannot be
	// serialised.
	ErrEncodingFailed = errors.New("protocol: encoding failed")
)
