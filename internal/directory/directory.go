// Package directory resolves room ids to display names.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"message-sync/internal/models"
	"message-sync/internal/store"
)

var ErrRoomNotFound = errors.New("room not found")

// missRefreshInterval bounds how often a lookup miss may reload the list.
const missRefreshInterval = 30 * time.Second

// Directory caches the rooms visible to one user.
type Directory struct {
	lister store.RoomLister
	userID string
	log    *slog.Logger

	now      func() time.Time
	cooldown time.Duration

	mu        sync.RWMutex
	rooms     map[string]models.Room
	refreshed time.Time
}

func New(lister store.RoomLister, userID string, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		lister:   lister,
		userID:   userID,
		log:      logger,
		now:      time.Now,
		cooldown: missRefreshInterval,
		rooms:    make(map[string]models.Room),
	}
}

// Refresh reloads the room list. On failure the previous list is kept.
func (d *Directory) Refresh(ctx context.Context) error {
	rooms, err := d.lister.SidebarRooms(ctx, d.userID)
	if err != nil {
		d.log.WarnContext(ctx, "room directory refresh failed", "user_id", d.userID, "err", err)
		return fmt.Errorf("refresh rooms: %w", err)
	}
	byID := make(map[string]models.Room, len(rooms))
	for _, room := range rooms {
		if room.ID != "" {
			byID[room.ID] = room
		}
	}
	d.mu.Lock()
	d.rooms = byID
	d.refreshed = d.now()
	d.mu.Unlock()
	return nil
}

func (d *Directory) Room(roomID string) (models.Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[roomID]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	return room, nil
}

// Title returns the room name, or the id when the room is unknown or unnamed.
// An unknown room triggers a reload, at most once per cooldown, so rooms
// joined after startup pick up their names.
func (d *Directory) Title(ctx context.Context, roomID string) string {
	room, err := d.Room(roomID)
	if errors.Is(err, ErrRoomNotFound) && d.dueForRefresh() {
		if d.Refresh(ctx) == nil {
			room, err = d.Room(roomID)
		}
	}
	if err != nil || room.Name == "" {
		return roomID
	}
	return room.Name
}

func (d *Directory) dueForRefresh() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.now().Sub(d.refreshed) < d.cooldown {
		return false
	}
	// Claim the slot so concurrent misses do not all hit the lister.
	d.refreshed = d.now()
	return true
}

// Len reports how many rooms are known.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
