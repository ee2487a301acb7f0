package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type errorPayload struct {
	Error string `json:"error"`
}

type tokenPayload struct {
	Token string `json:"token"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorPayload{Error: msg})
}

// writeSSE emits one server-sent event. The payload is always JSON so tokens
// containing newlines survive the framing.
func writeSSE(w io.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
