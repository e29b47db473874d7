package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, ErrorBody{
		Error:     msg,
		Timestamp: time.Now().UTC(),
		Path:      r.URL.Path,
	})
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func marshal(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
