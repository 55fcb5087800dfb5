package web

import (
	"net/http"
	"time"

	"github.com/kamilpajak/diffscope/internal/progress"
	"github.com/kamilpajak/diffscope/pkg/models"
)

// KeepAlive is how often an idle stream is pinged.
var KeepAlive = 15 * time.Second

// Source supplies status snapshots and live events for an analysis.
type Source interface {
	GetStatus(id string) models.StatusResponse
	Subscribe(id string) (<-chan progress.Event, func())
}

// EventsHandler streams the analysis named by the "id" path value. The
// current status is sent first; live events follow until a terminal event
// or until the client goes away.
func EventsHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		emitter := NewSSEEmitter(w)
		if emitter == nil {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		// Subscribe before the snapshot so no transition falls in between.
		events, cancel := src.Subscribe(id)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		snapshot := snapshotEvent(id, src.GetStatus(id))
		emitter.Emit(snapshot)
		if snapshot.Terminal() {
			return
		}

		ticker := time.NewTicker(KeepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				emitter.Ping()
			case ev, ok := <-events:
				if !ok {
					// The hub closed the stream, possibly after dropping the
					// terminal event for a slow reader; the cache has it.
					emitter.Emit(snapshotEvent(id, src.GetStatus(id)))
					return
				}
				emitter.Emit(ev)
				if ev.Terminal() {
					return
				}
			}
		}
	}
}

func snapshotEvent(id string, status models.StatusResponse) progress.Event {
	kind := progress.KindProgress
	switch status.Status {
	case models.StatusComplete:
		kind = progress.KindComplete
	case models.StatusError, models.StatusNotFound, models.StatusNotStarted:
		kind = progress.KindError
	}
	return progress.Event{Kind: kind, AnalysisID: id, StatusResponse: status}
}
