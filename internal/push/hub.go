package push

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"message-sync/internal/observability"
)

// Handler receives decoded events of one room.
type Handler func(ctx context.Context, roomID string, ev Event)

// Source is a realtime connection that feeds a Hub.
type Source interface {
	// Run connects and dispatches until ctx ends.
	Run(ctx context.Context) error
	// Watch starts delivery for a room. Watching a room twice is a no-op.
	Watch(roomID string)
}

// Hub maintains per-room subscriptions.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[int]Handler
	next  int
	log   *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{rooms: make(map[string]map[int]Handler), log: logger}
}

// Subscribe registers h for roomID and returns a function that removes it.
func (h *Hub) Subscribe(roomID string, handler Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[int]Handler)
	}
	id := h.next
	h.next++
	h.rooms[roomID][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(roomID, id) })
	}
}

func (h *Hub) remove(roomID string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if handlers, ok := h.rooms[roomID]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Rooms lists rooms with at least one subscriber.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms))
	for roomID := range h.rooms {
		out = append(out, roomID)
	}
	sort.Strings(out)
	return out
}

// Dispatch decodes payload and hands it to every subscriber of roomID.
// Undecodable payloads are logged and dropped.
func (h *Hub) Dispatch(ctx context.Context, roomID string, payload []byte) {
	ev, err := Decode(payload)
	if err != nil {
		outcome := "undecodable"
		if errors.Is(err, ErrEmptyEvent) {
			outcome = "empty"
		}
		observability.IncPushEvent("unknown", outcome)
		h.log.WarnContext(ctx, "dropping push payload", "room_id", roomID, "err", err)
		return
	}

	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.rooms[roomID]))
	for _, handler := range h.rooms[roomID] {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, roomID, ev)
	}
}
