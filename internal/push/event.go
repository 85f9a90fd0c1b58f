// Package push delivers realtime change notifications per room.
package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"message-sync/internal/models"
)

// Event kinds published by the realtime service.
const (
	KindMessageCreate = "message_create"
	KindMessageUpdate = "message_update"
	KindMessageDelete = "message_delete"
)

var ErrEmptyEvent = errors.New("push event carries no message")

// Envelope is the payload delivered to subscribers:
// { data: { status, event, plugin_url, data: <raw message> } }.
type Envelope struct {
	Data Publication `json:"data"`
}

// Publication is what the realtime service publishes into a room channel.
type Publication struct {
	Status    int             `json:"status,omitempty"`
	Event     string          `json:"event,omitempty"`
	PluginURL string          `json:"plugin_url,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Event is a decoded change notification.
type Event struct {
	Kind     string
	SenderID string
	Message  models.Message
}

// Decode parses an envelope. Envelopes without an event name are treated as
// message creations.
func Decode(payload []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env.Event()
}

// Event converts the envelope into an Event.
func (e Envelope) Event() (Event, error) {
	if len(e.Data.Data) == 0 || string(e.Data.Data) == "null" {
		return Event{}, ErrEmptyEvent
	}
	var msg models.Message
	if err := json.Unmarshal(e.Data.Data, &msg); err != nil {
		return Event{}, fmt.Errorf("decode message: %w", err)
	}
	kind := e.Data.Event
	if kind == "" {
		kind = KindMessageCreate
	}
	return Event{Kind: kind, SenderID: msg.SenderID, Message: msg}, nil
}
