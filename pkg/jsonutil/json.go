// Package jsonutil holds the JSON response helpers shared by the simulator's
// HTTP handlers.
package jsonutil

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// WriteErrorJSON writes a 400 with the standard error envelope.
func WriteErrorJSON(w http.ResponseWriter, errMsg string) {
	WriteJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
}
