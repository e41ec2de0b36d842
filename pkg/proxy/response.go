package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tanranv5/grok2api/pkg/proxy/types"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes an OpenAI-compatible error response. The HTTP
// status is derived from the error type.
func WriteError(w http.ResponseWriter, errResp *types.ErrorResponse) error {
	return WriteJSON(w, types.HTTPStatusCode(errResp.Error.Type), errResp)
}

// SetSSEHeaders prepares the response for Server-Sent Events
// streaming. Must be called before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteSSEEvent writes one SSE data frame and flushes it.
func WriteSSEEvent(w http.ResponseWriter, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// WriteSSEDone terminates an SSE stream with the [DONE] sentinel.
func WriteSSEDone(w http.ResponseWriter) error {
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
