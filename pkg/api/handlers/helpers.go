// Package handlers implements the upload API HTTP handlers.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// errorResponse is the JSON body for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// healthResponse wraps health probe payloads.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func healthyResponse(data any) healthResponse {
	return healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func unhealthyResponse(errMsg string) healthResponse {
	return healthResponse{
		Status:    "unhealthy",
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	}
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Last resort; headers are already out.
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// WriteJSONOK writes v with 200 OK.
func WriteJSONOK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

// WriteJSONCreated writes v with 201 Created.
func WriteJSONCreated(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusCreated, v)
}

// WriteJSONAccepted writes v with 202 Accepted.
func WriteJSONAccepted(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusAccepted, v)
}

// BadRequest writes a 400 error response.
func BadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// NotFound writes a 404 error response.
func NotFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: msg})
}

// Conflict writes a 409 error response.
func Conflict(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusConflict, errorResponse{Error: msg})
}

// InternalServerError writes a 500 error response.
func InternalServerError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msg})
}

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is
// written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}
