// Package api implements the HTTP and WebSocket boundary of the device gateway.
//
// This package provides:
//   - REST endpoints that map one-to-one onto gateway facade operations
//   - A WebSocket hub relaying attribute store changes
//   - HS256 bearer-token authentication
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Routes
//
//	GET  /api/v1/health               public
//	GET  /api/v1/ws?token=...         WebSocket, channel "attribute.changed"
//	GET  /api/v1/status
//	GET  /api/v1/led
//	POST /api/v1/led                  {"state": true | "on" | 1 ...}
//	POST /api/v1/led/toggle
//	GET  /api/v1/attributes
//	POST /api/v1/attributes           client attributes, stored confirmed
//	GET  /api/v1/attributes/{name}
//	PUT  /api/v1/attributes/{name}    {"value": ...}
//	POST /api/v1/telemetry            readings object
//
// # Results
//
// Facade operations answer with the gateway Result as the body. Its status
// code follows the wrapped error: bad input is 400, an unknown attribute
// 404, a broker that cannot be reached or refuses the publish 502, and a
// command that is not acknowledged in time 504.
//
// # WebSocket
//
// Clients send {"type":"subscribe","payload":{"channels":["attribute.changed"]}}.
// The reply carries the current attribute records under "snapshot"; every
// later store write arrives as an "event" message. A record removed by a
// failed command arrives with "deleted": true. Subscribing to a channel the
// server does not serve is an error and subscribes nothing.
//
// # Security
//
// With security.jwt.secret set, every route except /health requires a token
// signed with it. An empty secret disables authentication.
package api
