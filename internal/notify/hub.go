// Package notify delivers fire-and-forget real-time events to room-keyed
// subscribers, with optional mirrors to Slack and Kafka.
package notify

import (
	"log/slog"
	"sync"
)

// Event is one delivered notification.
type Event struct {
	Room string         `json:"room"`
	Name string         `json:"event"`
	Data map[string]any `json:"data"`
}

// Mirror receives a copy of every emitted event. Mirrors are best-effort;
// a failing mirror never blocks delivery to room subscribers.
type Mirror interface {
	Mirror(ev Event)
}

// Hub fans events out to room subscribers. No delivery guarantee: a
// room with no subscribers drops the event silently.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[int]func(Event)
	nextID  int
	mirrors []Mirror
	logger  *slog.Logger
}

// NewHub creates a hub. mirrors may be empty.
func NewHub(logger *slog.Logger, mirrors ...Mirror) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:    make(map[string]map[int]func(Event)),
		mirrors: mirrors,
		logger:  logger,
	}
}

// Subscribe registers a callback for a room and returns an unsubscribe
// function. Callbacks must not block.
func (h *Hub) Subscribe(room string, fn func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	if h.subs[room] == nil {
		h.subs[room] = make(map[int]func(Event))
	}
	h.subs[room][id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[room], id)
		if len(h.subs[room]) == 0 {
			delete(h.subs, room)
		}
	}
}

// Emit delivers an event to every subscriber of the room and to all
// mirrors. Fire-and-forget.
func (h *Hub) Emit(room, event string, data map[string]any) {
	ev := Event{Room: room, Name: event, Data: data}

	h.mu.RLock()
	fns := make([]func(Event), 0, len(h.subs[room]))
	for _, fn := range h.subs[room] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
	for _, m := range h.mirrors {
		go m.Mirror(ev)
	}
}
