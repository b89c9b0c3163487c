package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// setLEDRequest is the body of POST /led.
// State accepts anything the gateway can normalise to a boolean.
type setLEDRequest struct {
	State any `json:"state"`
}

// setAttributeRequest is the body of PUT /attributes/{name}.
type setAttributeRequest struct {
	Value any `json:"value"`
}

// handleGetLED returns the last known LED state.
func (s *Server) handleGetLED(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, s.gateway.GetLedState())
}

// handleSetLED commands the LED on or off.
func (s *Server) handleSetLED(w http.ResponseWriter, r *http.Request) {
	var req setLEDRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.State == nil {
		writeBadRequest(w, "state is required")
		return
	}
	writeResult(w, s.gateway.SetLedState(r.Context(), req.State))
}

// handleToggleLED inverts the LED state.
func (s *Server) handleToggleLED(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.gateway.ToggleLedState(r.Context()))
}

// handleListAttributes returns every attribute the gateway holds.
func (s *Server) handleListAttributes(w http.ResponseWriter, _ *http.Request) {
	records := s.store.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"attributes": records,
		"count":      len(records),
	})
}

// handleGetAttribute returns one attribute.
func (s *Server) handleGetAttribute(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.gateway.GetAttribute(chi.URLParam(r, "name")))
}

// handleSetAttribute commands a configured attribute.
func (s *Server) handleSetAttribute(w http.ResponseWriter, r *http.Request) {
	var req setAttributeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}
	writeResult(w, s.gateway.SetAttribute(r.Context(), chi.URLParam(r, "name"), req.Value))
}

// handlePublishTelemetry publishes a JSON object of readings.
func (s *Server) handlePublishTelemetry(w http.ResponseWriter, r *http.Request) {
	var readings map[string]any
	if err := decodeBody(r, &readings); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if len(readings) == 0 {
		writeBadRequest(w, "at least one reading is required")
		return
	}
	writeResult(w, s.gateway.PublishTelemetry(r.Context(), readings))
}

// handlePublishAttributes publishes client attributes.
func (s *Server) handlePublishAttributes(w http.ResponseWriter, r *http.Request) {
	var attrs map[string]any
	if err := decodeBody(r, &attrs); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if len(attrs) == 0 {
		writeBadRequest(w, "at least one attribute is required")
		return
	}
	writeResult(w, s.gateway.PublishAttributes(r.Context(), attrs))
}

// decodeBody decodes a JSON request body, keeping numbers as json.Number
// so integral values survive normalisation.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}
