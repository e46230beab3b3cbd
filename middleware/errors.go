package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/authcore"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Reference string `json:"reference,omitempty"`
}

// WriteError renders err as {"error", "message", "reference"} using only the
// stable public code and message. The cause of a technical error is never
// written; its reference is.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{
		Error:     authcore.ErrorCode(err),
		Message:   authcore.ErrorMessage(err),
		Reference: authcore.ErrorReference(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
