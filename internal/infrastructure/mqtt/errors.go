package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnect is wrapped by every connect failure; the specific reason is
	// one of ErrConnectTimeout, ErrAuthFailure or ErrConnectionFailed.
	ErrConnect = errors.New("mqtt: connect failed")

	// ErrConnectTimeout is returned when the broker does not acknowledge the
	// connection within the allowed time.
	ErrConnectTimeout = errors.New("mqtt: connect timed out")

	// ErrAuthFailure is returned when the broker refuses the credentials.
	ErrAuthFailure = errors.New("mqtt: broker refused credentials")

	// ErrConnectionFailed is returned for any other transport-level connect failure.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned when publishing on a session that is not Connected.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrPublishFailed is returned when the local transport rejects a publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a declared subscription cannot be established.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTimeout is returned when waiting for a local acknowledgment is cut
	// short by the caller's deadline.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrClosed is returned by operations on a session after Close.
	ErrClosed = errors.New("mqtt: session closed")
)
