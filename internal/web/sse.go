// Package web streams analysis progress to browsers as Server-Sent Events.
package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kamilpajak/diffscope/internal/progress"
	"github.com/oklog/ulid/v2"
)

// SSEEmitter implements progress.Emitter by writing Server-Sent Events.
type SSEEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEEmitter creates an SSEEmitter for the given ResponseWriter.
// Returns nil if the writer does not support flushing.
func NewSSEEmitter(w http.ResponseWriter) *SSEEmitter {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	return &SSEEmitter{w: w, flusher: f}
}

// Emit writes ev as one SSE message, named after its kind, and flushes.
func (e *SSEEmitter) Emit(ev progress.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(e.w, "id: %s\nevent: %s\ndata: %s\n\n", ulid.Make(), ev.Kind, data)
	e.flusher.Flush()
}

// Ping writes a comment line so idle proxies keep the connection open.
func (e *SSEEmitter) Ping() {
	fmt.Fprint(e.w, ": ping\n\n")
	e.flusher.Flush()
}
