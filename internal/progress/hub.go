package progress

import "sync"

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Hub is a publish/subscribe channel keyed by analysis id.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
}

type subscriber struct {
	ch chan Event
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{}), buffer: DefaultBuffer}
}

// Subscribe joins id's channel. The returned channel is closed after a
// terminal event or when cancel is called; cancel is idempotent.
func (h *Hub) Subscribe(id string) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[id]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[id] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	return s.ch, func() { h.remove(id, s) }
}

func (h *Hub) remove(id string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[id]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	close(s.ch)
	if len(set) == 0 {
		delete(h.subs, id)
	}
}

// Publish delivers ev to every current subscriber of id without blocking.
// A subscriber whose buffer is full misses the event. Publishing to an id
// nobody watches does nothing.
func (h *Hub) Publish(id string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[id]
	for s := range set {
		select {
		case s.ch <- ev:
		default:
		}
	}

	if ev.Terminal() {
		for s := range set {
			close(s.ch)
		}
		delete(h.subs, id)
	}
}

// Subscribers returns the number of subscribers for id.
func (h *Hub) Subscribers(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[id])
}
