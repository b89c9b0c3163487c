// Package gateway provides the facade of the CoreIOT device gateway.
//
// The Gateway is the only component external callers use. It turns raw
// caller input into attribute commands, drives the broker session according
// to the configured policy, and keeps the attribute store in step with what
// the transport actually accepted.
//
// # Command path
//
//	SetLedState("on")
//	    → NormalizeBool            (ErrUnrecognizedInput)
//	    → connect if needed         (mqtt.ErrConnect)
//	    → store.Swap               speculative write
//	    → correlator.IssueCommand  (rpc.ErrCommandTimeout, rpc.ErrCommandPublishFailed)
//	    → store.Confirm | store.Revert
//	    → disconnect               per_command policy only, always runs
//
// Commands are serialised. A failed command never leaves its value in the
// store.
//
// # Inbound path
//
// The Gateway is an mqtt.Observer. On connect it requests the configured
// shared attributes; inbound RPC requests are dispatched and answered on
// the response topic of their request; shared attribute responses and
// pushes update the store as unconfirmed values.
//
// # Results
//
// Every operation returns a Result tagged "success" or "error" with a
// human-readable message. Reads never touch the transport, and reading an
// attribute that was never set succeeds with a null value.
package gateway
