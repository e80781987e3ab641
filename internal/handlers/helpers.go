package handlers

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the JSON envelope of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Type      string   `json:"type"`
	Message   string   `json:"message"`
	Details   []string `json:"details"`
	Retryable bool     `json:"retryable"`
}

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method || (method == http.MethodGet && r.Method == http.MethodHead) {
		return true
	}
	w.Header().Set("Allow", method)
	WriteError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
	return false
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, errType, message string) error {
	return WriteErrorDetail(w, statusCode, ErrorDetail{Type: errType, Message: message})
}

// WriteErrorDetail writes a full error body. Details is always an array.
func WriteErrorDetail(w http.ResponseWriter, statusCode int, detail ErrorDetail) error {
	if detail.Details == nil {
		detail.Details = []string{}
	}
	return WriteJSON(w, statusCode, ErrorBody{Error: detail})
}
