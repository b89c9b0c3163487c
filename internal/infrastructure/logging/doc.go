// Package logging builds the gateway's slog loggers from the logging
// section of the configuration.
//
// Every entry carries service and version fields. Components receive a child
// logger from Component, so broker, store, gateway and api output can be
// filtered by the "component" field. Packages that log depend only on a small
// Debug/Info/Warn/Error interface, which *Logger satisfies through the
// embedded *slog.Logger.
//
// Attributes keyed token, access_token, password, secret or jwt_secret are
// written as "[REDACTED]". The device access token and the JWT secret must
// still never be passed as values under other keys.
package logging
