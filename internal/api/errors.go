package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/coreiot-gateway/internal/gateway"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/coreiot-gateway/internal/protocol"
	"github.com/nerrad567/coreiot-gateway/internal/rpc"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeResult writes a facade Result with the status code its error maps to.
// The Result shape is kept as the response body.
func writeResult(w http.ResponseWriter, res gateway.Result) {
	writeJSON(w, resultStatus(res), res)
}

// resultStatus maps a facade Result to an HTTP status code.
func resultStatus(res gateway.Result) int {
	if res.OK() {
		return http.StatusOK
	}

	err := res.Err
	switch {
	case errors.Is(err, gateway.ErrUnrecognizedInput),
		errors.Is(err, gateway.ErrMissingParams),
		errors.Is(err, protocol.ErrEncodingFailed):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrUnknownAttribute):
		return http.StatusNotFound
	case errors.Is(err, rpc.ErrCommandTimeout),
		errors.Is(err, mqtt.ErrConnectTimeout),
		errors.Is(err, mqtt.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, mqtt.ErrConnect),
		errors.Is(err, mqtt.ErrNotConnected),
		errors.Is(err, mqtt.ErrPublishFailed),
		errors.Is(err, rpc.ErrCommandPublishFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
