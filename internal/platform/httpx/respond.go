// Package httpx holds the JSON envelope and error-to-status mapping shared by every handler.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Result is the envelope returned by every JSON endpoint. Failures carry a
// user-safe message and, for validation problems, per-field messages.
type Result struct {
	Success     bool              `json:"success"`
	Message     string            `json:"message,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	Data        any               `json:"data,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK writes a successful envelope.
func OK(w http.ResponseWriter, status int, data any) {
	JSON(w, status, Result{Success: true, Data: data})
}

// Fail writes a failed envelope.
func Fail(w http.ResponseWriter, status int, message string, fields map[string]string) {
	JSON(w, status, Result{Success: false, Message: message, FieldErrors: fields})
}

// DecodeJSON decodes a JSON request body into target, rejecting unknown fields.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}
