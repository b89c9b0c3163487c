// Package rpc correlates CoreIOT RPC requests with their responses and
// issues outbound attribute commands.
//
// Inbound requests are dispatched to the handler registered for their
// method and answered on v1/devices/me/rpc/response/{id}, echoing the
// request identifier exactly. The exchange is fire-and-forget per request:
// a redelivered request is executed and answered again.
//
// Outbound commands are tracked as PendingCommand entries until the local
// transport accepts the publish or the acknowledgment timeout elapses.
// There is no automatic retry; callers choose the timeout and decide
// whether to try again.
package rpc
