package kit

import (
	"bytes"
	"encoding/json"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// MessageResponse is the body of a successful mutation.
type MessageResponse struct {
	Message string `json:"message"`
}

// OutcomeResponse carries a domain result that is not a transport failure.
// It is sent with 200 and without the request id envelope.
type OutcomeResponse struct {
	Error string `json:"error"`
}

// WriteJSON encodes v before the status line goes out, so a value that cannot
// be encoded becomes a 500 rather than an empty response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(ErrorResponse{Error: "response encoding failed"})
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string, details any) {
	WriteJSON(w, status, ErrorResponse{
		Error:     msg,
		Details:   details,
		RequestID: chimw.GetReqID(r.Context()),
	})
}

func WriteMessage(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusOK, MessageResponse{Message: msg})
}

func WriteOutcome(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusOK, OutcomeResponse{Error: msg})
}
