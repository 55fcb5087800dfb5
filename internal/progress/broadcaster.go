package progress

import (
	"sync"
	"time"

	"github.com/kamilpajak/diffscope/internal/cache"
	"github.com/kamilpajak/diffscope/pkg/models"
)

// Broadcaster mirrors every update into the cache and then pushes it to the
// hub, so clients that miss a push can still recover state by polling.
type Broadcaster struct {
	hub   *Hub
	cache cache.Cache
	now   func() time.Time

	mu        sync.RWMutex
	observers []Emitter
}

// NewBroadcaster creates a Broadcaster over hub and c.
func NewBroadcaster(hub *Hub, c cache.Cache) *Broadcaster {
	return &Broadcaster{hub: hub, cache: c, now: time.Now}
}

// Hub returns the underlying hub.
func (b *Broadcaster) Hub() *Hub {
	return b.hub
}

// Observe registers e to receive every event for every analysis.
func (b *Broadcaster) Observe(e Emitter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, e)
}

// Progress records a non-terminal status and notifies subscribers.
func (b *Broadcaster) Progress(id string, status models.Status, model, fallback string) {
	rec, ok := b.mirror(id, func(r models.AnalysisRecord) models.AnalysisRecord {
		next, _ := r.Advance(status)
		if model != "" {
			next.ModelUsed = model
		}
		if fallback != "" {
			next.FallbackModel = fallback
		}
		return next
	})
	resp := rec.Response()
	if !ok {
		resp = models.StatusResponse{Status: status, ModelUsed: model, FallbackModel: fallback}
	}
	b.publish(id, Event{Kind: KindProgress, AnalysisID: id, StatusResponse: resp})
}

// Complete records the final result and notifies subscribers.
func (b *Broadcaster) Complete(id string, result *models.AnalysisResult, modelUsed string) {
	rec, ok := b.mirror(id, func(r models.AnalysisRecord) models.AnalysisRecord {
		next, changed := r.Complete(result, b.now())
		if changed && modelUsed != "" {
			next.ModelUsed = modelUsed
		}
		return next
	})
	resp := rec.Response()
	if !ok {
		resp = models.StatusResponse{Status: models.StatusComplete, Result: result, IsComplete: true, ModelUsed: modelUsed}
	}
	b.publish(id, Event{Kind: KindComplete, AnalysisID: id, StatusResponse: resp})
}

// Fail records an error and notifies subscribers.
func (b *Broadcaster) Fail(id, message string) {
	rec, ok := b.mirror(id, func(r models.AnalysisRecord) models.AnalysisRecord {
		next, _ := r.Fail(message, b.now())
		return next
	})
	resp := rec.Response()
	if !ok {
		resp = models.StatusResponse{Status: models.StatusError, Error: message, IsComplete: true}
	}
	b.publish(id, Event{Kind: KindError, AnalysisID: id, StatusResponse: resp})
}

func (b *Broadcaster) mirror(id string, fn func(models.AnalysisRecord) models.AnalysisRecord) (models.AnalysisRecord, bool) {
	if !b.cache.Update(id, fn) {
		return models.AnalysisRecord{}, false
	}
	return b.cache.Get(id)
}

func (b *Broadcaster) publish(id string, ev Event) {
	b.mu.RLock()
	observers := b.observers
	b.mu.RUnlock()

	for _, o := range observers {
		o.Emit(ev)
	}
	b.hub.Publish(id, ev)
}
