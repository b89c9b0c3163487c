package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an inbound message.
type Kind int

const (
	// KindUnrecognized is a device API topic the gateway does not consume,
	// such as an echo of its own telemetry.
	KindUnrecognized Kind = iota

	// KindRPCRequest is a platform-initiated remote procedure call.
	KindRPCRequest

	// KindAttributeResponse answers a shared attribute request.
	KindAttributeResponse

	// KindAttributeUpdate is a pushed change of shared attributes.
	KindAttributeUpdate
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRPCRequest:
		return "rpc_request"
	case KindAttributeResponse:
		return "attribute_response"
	case KindAttributeUpdate:
		return "attribute_update"
	default:
		return "unrecognized"
	}
}

// RPCRequest is a decoded inbound RPC request.
// Topic: v1/devices/me/rpc/request/{id}
type RPCRequest struct {
	// ID is the platform's request identifier taken from the topic suffix.
	// Empty when the suffix is missing or not numeric; such requests can
	// still be executed but cannot be answered.
	ID string `json:"-"`

	// Method is the operation name (e.g., "setValueButtonLED").
	Method string `json:"method"`

	// Params holds the raw parameters. Any JSON value is allowed.
	Params json.RawMessage `json:"params,omitempty"`
}

// Message is a classified inbound message.
type Message struct {
	Kind  Kind
	Topic string

	// RPC is set for KindRPCRequest.
	RPC RPCRequest

	// RequestID is the attribute request number for KindAttributeResponse.
	RequestID string

	// Attributes holds shared attribute values for KindAttributeResponse
	// and KindAttributeUpdate. Numbers decode as json.Number.
	Attributes map[string]any
}

// Outbound is an encoded logical operation ready to publish.
type Outbound struct {
	Topic   string
	Payload []byte
}

// attributeRequestPayload is sent on v1/devices/me/attributes/request/{n}.
type attributeRequestPayload struct {
	SharedKeys string `json:"sharedKeys"`
}

// attributeResponsePayload is received on v1/devices/me/attributes/response/{n}.
type attributeResponsePayload struct {
	Shared map[string]any `json:"shared"`
}

// EncodeTelemetry encodes sensor readings for the telemetry topic.
// No schema is enforced on the readings.
func EncodeTelemetry(readings map[string]any) (Outbound, error) {
	return encode(Topics{}.Telemetry(), readings)
}

// EncodeAttributes encodes client attribute values for the attributes topic.
func EncodeAttributes(attrs map[string]any) (Outbound, error) {
	return encode(Topics{}.Attributes(), attrs)
}

// EncodeRPCResponse encodes result as the answer to requestID.
// The identifier is echoed exactly; it is never generated here.
func EncodeRPCResponse(requestID string, result map[string]any) (Outbound, error) {
	if requestID == "" {
		return Outbound{}, ErrMissingRequestID
	}
	return encode(Topics{}.RPCResponse(requestID), result)
}

// EncodeAttributeRequest encodes a request for the named shared attributes.
//
// Example payload: {"sharedKeys":"ledState,interval"}
func EncodeAttributeRequest(requestID uint64, sharedKeys []string) (Outbound, error) {
	return encode(Topics{}.AttributeRequest(requestID), attributeRequestPayload{
		SharedKeys: strings.Join(sharedKeys, ","),
	})
}

func encode(topic string, v any) (Outbound, error) {
	// A nil map still encodes as an empty object.
	if m, ok := v.(map[string]any); ok && m == nil {
		v = map[string]any{}
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return Outbound{}, fmt.Errorf("%w: %s: %w", ErrEncodingFailed, topic, err)
	}
	return Outbound{Topic: topic, Payload: payload}, nil
}

// Decode classifies an inbound message and extracts its typed fields.
//
// Returns:
//   - Message: the classified message; Kind is KindUnrecognized on error
//   - error: ErrMalformedPayload when the payload is not a JSON object of the
//     expected shape, ErrUnknownTopic when the topic matches no pattern
func Decode(topic string, payload []byte) (Message, error) {
	msg := Message{Kind: KindUnrecognized, Topic: topic}

	switch {
	case strings.HasPrefix(topic, TopicPrefixRPCRequest):
		req, err := decodeRPCRequest(payload)
		if err != nil {
			return msg, fmt.Errorf("%w: %s: %w", ErrMalformedPayload, topic, err)
		}
		req.ID = requestIDFromTopic(topic, TopicPrefixRPCRequest)
		msg.Kind = KindRPCRequest
		msg.RPC = req
		return msg, nil

	case strings.HasPrefix(topic, TopicPrefixAttributeResponse):
		var body attributeResponsePayload
		if err := unmarshalObject(payload, &body); err != nil {
			return msg, fmt.Errorf("%w: %s: %w", ErrMalformedPayload, topic, err)
		}
		msg.Kind = KindAttributeResponse
		msg.RequestID = requestIDFromTopic(topic, TopicPrefixAttributeResponse)
		msg.Attributes = body.Shared
		if msg.Attributes == nil {
			msg.Attributes = map[string]any{}
		}
		return msg, nil

	case topic == TopicAttributes:
		var attrs map[string]any
		if err := unmarshalObject(payload, &attrs); err != nil {
			return msg, fmt.Errorf("%w: %s: %w", ErrMalformedPayload, topic, err)
		}
		// Deletions arrive as {"deleted":[...]}; only value changes are kept.
		delete(attrs, "deleted")
		msg.Kind = KindAttributeUpdate
		msg.Attributes = attrs
		return msg, nil

	case topic == TopicTelemetry,
		strings.HasPrefix(topic, TopicPrefixRPCResponse),
		strings.HasPrefix(topic, TopicPrefixAttributeRequest):
		return msg, nil

	default:
		return msg, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
}

func decodeRPCRequest(payload []byte) (RPCRequest, error) {
	var raw map[string]json.RawMessage
	if err := unmarshalObject(payload, &raw); err != nil {
		return RPCRequest{}, err
	}

	var req RPCRequest
	methodRaw, ok := raw["method"]
	if !ok {
		return RPCRequest{}, errors.New("method missing")
	}
	if err := json.Unmarshal(methodRaw, &req.Method); err != nil || req.Method == "" {
		return RPCRequest{}, errors.New("method must be a non-empty string")
	}
	if params, ok := raw["params"]; ok && string(params) != "null" {
		req.Params = params
	}
	return req, nil
}

// unmarshalObject decodes a JSON object, keeping numbers as json.Number.
func unmarshalObject(payload []byte, v any) error {
	trimmed := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(trimmed, "{") {
		return errors.New("not a JSON object")
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after object")
	}
	return nil
}
