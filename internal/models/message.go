package models

import (
	"bytes"
	"encoding/json"
)

// Sender is the display snapshot of a message author, resolved once from the
// workspace roster when the message enters the cache.
type Sender struct {
	SenderID       string `json:"sender_id,omitempty"`
	SenderName     string `json:"sender_name,omitempty"`
	SenderImageURL string `json:"sender_image_url,omitempty"`
}

// Message represents a room message as held by the message store and the cache.
type Message struct {
	ID        string          `json:"message_id"`
	RoomID    string          `json:"room_id,omitempty"`
	OrgID     string          `json:"org_id,omitempty"`
	SenderID  string          `json:"sender_id"`
	Sender    Sender          `json:"sender"`
	Timestamp int64           `json:"timestamp"`
	Content   json.RawMessage `json:"richUiData,omitempty"`
	Reactions []Reaction      `json:"emojis"`
	Edited    bool            `json:"edited"`
	ThreadID  string          `json:"thread_id,omitempty"`
	Threads   []Message       `json:"threads,omitempty"`
	Files     []string        `json:"files,omitempty"`
	SavedBy   []string        `json:"saved_by,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`

	// Pending marks an optimistic record that the store has not confirmed yet.
	Pending bool `json:"pending,omitempty"`
}

// UnmarshalJSON accepts both "message_id" and the raw document "_id".
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw struct {
		alias
		DocumentID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.alias)
	if m.ID == "" {
		m.ID = raw.DocumentID
	}
	return nil
}

// Valid reports whether a record carries everything the cache needs. Records
// that fail are partially written server documents and are dropped silently.
func Valid(m Message) bool {
	if m.ID == "" || m.Timestamp == 0 {
		return false
	}
	content := bytes.TrimSpace(m.Content)
	return len(content) > 0 && !bytes.Equal(content, []byte("null"))
}

// Clone returns a deep copy so snapshots handed to callers never alias cache state.
func (m Message) Clone() Message {
	out := m
	if m.Content != nil {
		out.Content = append(json.RawMessage(nil), m.Content...)
	}
	out.Reactions = CloneReactions(m.Reactions)
	if m.Threads != nil {
		out.Threads = make([]Message, len(m.Threads))
		for i, child := range m.Threads {
			out.Threads[i] = child.Clone()
		}
	}
	if m.Files != nil {
		out.Files = append([]string(nil), m.Files...)
	}
	if m.SavedBy != nil {
		out.SavedBy = append([]string(nil), m.SavedBy...)
	}
	return out
}

// Page is one page of room history as returned by the message store.
type Page struct {
	Messages []Message `json:"data"`
	Total    int       `json:"total"`
}

// Thread is a parent message plus its replies.
type Thread struct {
	Parent  Message   `json:"parent"`
	Replies []Message `json:"replies"`
}
