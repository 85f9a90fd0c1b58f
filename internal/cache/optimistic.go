package cache

import (
	"context"
	"encoding/json"
	"strings"

	"message-sync/internal/models"
	"message-sync/internal/observability"
)

type intentKind int

const (
	intentReaction intentKind = iota
	intentEdit
)

// intent is a local mutation whose network call has not resolved. Intents are
// re-applied whenever a remote or fetched version of the message replaces the
// cached one, so in-flight local edits survive concurrent remote writes.
type intent struct {
	kind intentKind

	name    string
	glyph   string
	userID  string
	present bool
	prior   bool

	content     json.RawMessage
	priorBody   json.RawMessage
	priorEdited bool
}

func (in *intent) apply(msg *models.Message) {
	switch in.kind {
	case intentReaction:
		msg.Reactions = setReaction(msg.Reactions, in.name, in.glyph, in.userID, in.present)
	case intentEdit:
		msg.Content = in.content
		msg.Edited = true
	}
}

func (in *intent) sameTarget(other *intent) bool {
	if in.kind != other.kind {
		return false
	}
	if in.kind == intentEdit {
		return true
	}
	return in.userID == other.userID && strings.EqualFold(in.name, other.name)
}

func (w *window) addIntent(messageID string, in *intent) {
	w.intents[messageID] = append(w.intents[messageID], in)
}

// dropIntent removes in and returns the next pending intent on the same target, if any.
func (w *window) dropIntent(messageID string, in *intent) *intent {
	list := w.intents[messageID]
	var next *intent
	kept := list[:0]
	found := false
	for _, other := range list {
		if other == in {
			found = true
			continue
		}
		if found && next == nil && other.sameTarget(in) {
			next = other
		}
		kept = append(kept, other)
	}
	if len(kept) == 0 {
		delete(w.intents, messageID)
	} else {
		w.intents[messageID] = kept
	}
	return next
}

func (w *window) reapply(msg *models.Message) {
	msg.Reactions = normalizeReactions(msg.Reactions)
	for _, in := range w.intents[msg.ID] {
		in.apply(msg)
	}
}

// optimistic is the transaction wrapping one optimistic write. Exactly one of
// commit or rollback takes effect; later calls are no-ops. Neither touches a
// window that was dropped after the write began.
type optimistic struct {
	r      *Reconciler
	op     Op
	roomID string
	win    *window

	onCommit   func(w *window, result models.Message) models.Message
	onRollback func(w *window)
	done       bool
}

func (r *Reconciler) beginOptimistic(op Op, roomID string, w *window,
	onCommit func(*window, models.Message) models.Message, onRollback func(*window)) *optimistic {
	return &optimistic{r: r, op: op, roomID: roomID, win: w, onCommit: onCommit, onRollback: onRollback}
}

func (o *optimistic) commit(result models.Message) models.Message {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	if o.done {
		return result
	}
	o.done = true
	observability.IncOptimistic(string(o.op), "commit")
	if o.r.rooms[o.roomID] != o.win {
		return result
	}
	return o.onCommit(o.win, result)
}

func (o *optimistic) rollback() {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	if o.done {
		return
	}
	o.done = true
	observability.IncOptimistic(string(o.op), "rollback")
	if o.r.rooms[o.roomID] != o.win {
		return
	}
	o.onRollback(o.win)
}

// Write is the caller's handle on an optimistic write. The optimistic record
// is visible as soon as the handle is returned; confirmation arrives later.
type Write struct {
	Op      Op
	RoomID  string
	Message models.Message

	done   chan struct{}
	result models.Message
	err    error
}

func newWrite(op Op, roomID string, msg models.Message) *Write {
	return &Write{Op: op, RoomID: roomID, Message: msg, done: make(chan struct{})}
}

func (w *Write) finish(result models.Message, err error) {
	w.result = result
	w.err = err
	close(w.done)
}

// Done is closed once the write is confirmed or rolled back.
func (w *Write) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the write resolves or ctx ends. On failure the local
// state has already been rolled back.
func (w *Write) Wait(ctx context.Context) (models.Message, error) {
	select {
	case <-w.done:
		return w.result, w.err
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}
