package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// Envelope is the uniform response body: a machine-checkable success flag,
// an optional payload and a human-readable message.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondData writes a successful envelope.
func RespondData(w http.ResponseWriter, status int, data any, message string) {
	RespondJSON(w, status, Envelope{Success: true, Data: data, Message: message})
}

// RespondError writes a failed envelope.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, Envelope{Success: false, Message: message})
}
