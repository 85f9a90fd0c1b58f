// Package store is the request layer for the remote message service.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"message-sync/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// DefaultPageSize matches the page size the message service paginates with.
const DefaultPageSize = 15

// MessageStore defines every persistence call the cache makes.
type MessageStore interface {
	FetchPage(ctx context.Context, roomID string, page int) (models.Page, error)
	CreateMessage(ctx context.Context, roomID string, msg NewMessage) (models.Message, error)
	UpdateMessage(ctx context.Context, roomID, messageID, senderID string, msg models.Message) (models.Message, error)
	FetchThread(ctx context.Context, roomID, threadID string) (models.Thread, error)
	FetchMemberThreads(ctx context.Context, memberID string) ([]models.Thread, error)
}

// RoomLister lists the rooms visible to a user.
type RoomLister interface {
	SidebarRooms(ctx context.Context, userID string) ([]models.Room, error)
}

// NewMessage is the create request body.
type NewMessage struct {
	SenderID  string            `json:"sender_id"`
	Timestamp int64             `json:"timestamp"`
	Reactions []models.Reaction `json:"emojis"`
	Content   json.RawMessage   `json:"richUiData"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is maps 404 responses onto ErrMessageNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrMessageNotFound && e.StatusCode == 404
}
