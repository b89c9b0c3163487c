// Package protocol maps CoreIOT device API messages to and from typed values.
//
// CoreIOT speaks the ThingsBoard device MQTT API. Outbound logical
// operations (telemetry, client attributes, RPC responses, shared attribute
// requests) are encoded into an Outbound topic/payload pair; inbound
// messages are classified by Decode.
//
// Every function here is pure: no connection, no shared state.
//
//	Outbound                                  Inbound
//	v1/devices/me/telemetry                   v1/devices/me/rpc/request/{id}
//	v1/devices/me/attributes                  v1/devices/me/attributes/response/{n}
//	v1/devices/me/rpc/response/{id}           v1/devices/me/attributes
//	v1/devices/me/attributes/request/{n}
//
// # Request identifiers
//
// The RPC request identifier is the numeric topic suffix. A request whose
// suffix is missing or not numeric still decodes as KindRPCRequest with an
// empty ID; EncodeRPCResponse refuses an empty ID with ErrMissingRequestID,
// so such requests are executed but never answered.
package protocol
