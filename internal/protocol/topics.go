package protocol

import (
	"strconv"
	"strings"
)

// Device API topics. The device is identified by its access token on the
// connection, so every topic is addressed to "me".
const (
	// TopicTelemetry carries time-series sensor readings.
	TopicTelemetry = "v1/devices/me/telemetry"

	// TopicAttributes carries client attribute updates outbound and shared
	// attribute changes inbound.
	TopicAttributes = "v1/devices/me/attributes"

	// TopicPrefixRPCRequest is followed by the platform's request identifier.
	TopicPrefixRPCRequest = "v1/devices/me/rpc/request/"

	// TopicPrefixRPCResponse is followed by the identifier being answered.
	TopicPrefixRPCResponse = "v1/devices/me/rpc/response/"

	// TopicPrefixAttributeRequest is followed by a gateway-chosen request number.
	TopicPrefixAttributeRequest = "v1/devices/me/attributes/request/"

	// TopicPrefixAttributeResponse is followed by the request number being answered.
	TopicPrefixAttributeResponse = "v1/devices/me/attributes/response/"
)

// Topics provides builders for CoreIOT device API topics.
// Using these helpers keeps topic naming in one place:
//
//	topics := protocol.Topics{}
//	responseTopic := topics.RPCResponse("42")
//	// Returns: "v1/devices/me/rpc/response/42"
type Topics struct{}

// Telemetry returns the telemetry topic.
//
// Example: v1/devices/me/telemetry
func (Topics) Telemetry() string {
	return TopicTelemetry
}

// Attributes returns the attributes topic.
//
// Example: v1/devices/me/attributes
func (Topics) Attributes() string {
	return TopicAttributes
}

// RPCResponse returns the topic answering the RPC request with requestID.
//
// Example: v1/devices/me/rpc/response/42
func (Topics) RPCResponse(requestID string) string {
	return TopicPrefixRPCResponse + requestID
}

// AttributeRequest returns the topic for a shared attribute request.
//
// Example: v1/devices/me/attributes/request/1
func (Topics) AttributeRequest(requestID uint64) string {
	return TopicPrefixAttributeRequest + strconv.FormatUint(requestID, 10)
}

// AllRPCRequests returns a pattern matching every inbound RPC request.
//
// Pattern: v1/devices/me/rpc/request/+
func (Topics) AllRPCRequests() string {
	return TopicPrefixRPCRequest + "+"
}

// AllAttributeResponses returns a pattern matching every shared attribute response.
//
// Pattern: v1/devices/me/attributes/response/+
func (Topics) AllAttributeResponses() string {
	return TopicPrefixAttributeResponse + "+"
}

// SubscriptionPatterns returns every pattern the gateway subscribes to on
// connect, RPC requests first.
func (t Topics) SubscriptionPatterns() []string {
	return []string{
		t.AllRPCRequests(),
		t.AllAttributeResponses(),
		t.Attributes(),
	}
}

// requestIDFromTopic returns the identifier following prefix, exactly as
// the platform sent it. It returns "" when the suffix is empty, spans more
// than one topic level or contains a wildcard.
func requestIDFromTopic(topic, prefix string) string {
	suffix := strings.TrimPrefix(topic, prefix)
	if suffix == "" || strings.ContainsAny(suffix, "/+#") {
		return ""
	}
	return suffix
}
