package push

import "sync"

// Follower subscribes a handler to rooms on first use and asks the source to
// start delivering them.
type Follower struct {
	hub     *Hub
	source  Source
	handler Handler

	mu    sync.Mutex
	rooms map[string]func()
}

// NewFollower returns a Follower. A nil source only registers hub subscriptions.
func NewFollower(hub *Hub, source Source, handler Handler) *Follower {
	return &Follower{hub: hub, source: source, handler: handler, rooms: make(map[string]func())}
}

func (f *Follower) Watch(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[roomID]; ok {
		return
	}
	f.rooms[roomID] = f.hub.Subscribe(roomID, f.handler)
	if f.source != nil {
		f.source.Watch(roomID)
	}
}

// Unwatch drops the hub subscription. The source keeps its channel open.
func (f *Follower) Unwatch(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if unsubscribe, ok := f.rooms[roomID]; ok {
		unsubscribe()
		delete(f.rooms, roomID)
	}
}
