package httpx

import (
	"encoding/json"
	"net/http"
)

// Envelope is the canonical JSON success envelope returned by the API.
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// WriteData writes a success envelope carrying the supplied payload.
func WriteData(w http.ResponseWriter, status int, message string, data any) {
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{
		Status:  status,
		Message: trimValue(message, 512),
		Data:    data,
	})
}
