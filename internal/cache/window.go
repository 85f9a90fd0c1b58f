package cache

import (
	"sort"

	"message-sync/internal/models"
)

// window is the ordered message sequence of one room. msgs is ascending by
// timestamp with ties kept in arrival order; index maps id to position.
type window struct {
	roomID  string
	msgs    []models.Message
	index   map[string]int
	total   int
	highest int
	intents map[string][]*intent
}

func newWindow(roomID string) *window {
	return &window{
		roomID:  roomID,
		index:   make(map[string]int),
		intents: make(map[string][]*intent),
	}
}

func (w *window) get(id string) (*models.Message, bool) {
	i, ok := w.index[id]
	if !ok {
		return nil, false
	}
	return &w.msgs[i], true
}

func (w *window) len() int {
	return len(w.msgs)
}

// add places an optimistic record at the tail.
func (w *window) add(msg models.Message) {
	w.index[msg.ID] = len(w.msgs)
	w.msgs = append(w.msgs, msg)
}

// upsert refreshes an existing record in place or inserts a new one by
// timestamp. Pending intents for the record are applied on top.
func (w *window) upsert(msg models.Message) bool {
	if i, ok := w.index[msg.ID]; ok {
		w.msgs[i] = msg
		w.reapply(&w.msgs[i])
		return false
	}
	pos := len(w.msgs)
	for pos > 0 && w.msgs[pos-1].Timestamp > msg.Timestamp {
		pos--
	}
	w.msgs = append(w.msgs, models.Message{})
	copy(w.msgs[pos+1:], w.msgs[pos:])
	w.msgs[pos] = msg
	w.reindex(pos)
	return true
}

// mergeRecent merges the newest page. Records are refreshed or inserted by timestamp.
func (w *window) mergeRecent(records []models.Message) int {
	sortStable(records)
	inserted := 0
	for _, msg := range records {
		if w.upsert(msg) {
			inserted++
		}
	}
	return inserted
}

// prependOlder places records of an older page before the current earliest
// record. Records already present are refreshed where they are.
func (w *window) prependOlder(records []models.Message) int {
	sortStable(records)
	older := make([]models.Message, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, msg := range records {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		if i, ok := w.index[msg.ID]; ok {
			w.msgs[i] = msg
			w.reapply(&w.msgs[i])
			continue
		}
		older = append(older, msg)
	}
	if len(older) == 0 {
		return 0
	}
	w.msgs = append(older, w.msgs...)
	w.reindex(0)
	return len(older)
}

// rename swaps a temporary record for its confirmed version without moving
// it. If the confirmed id already arrived through another path the
// temporary record is dropped and the existing one refreshed.
func (w *window) rename(tempID string, msg models.Message) {
	i, ok := w.index[tempID]
	if !ok {
		w.upsert(msg)
		return
	}
	if _, exists := w.index[msg.ID]; exists && msg.ID != tempID {
		w.remove(tempID)
		w.upsert(msg)
		return
	}
	delete(w.index, tempID)
	w.msgs[i] = msg
	w.index[msg.ID] = i
	if pending, ok := w.intents[tempID]; ok {
		delete(w.intents, tempID)
		w.intents[msg.ID] = pending
	}
}

func (w *window) remove(id string) bool {
	i, ok := w.index[id]
	if !ok {
		return false
	}
	delete(w.index, id)
	delete(w.intents, id)
	w.msgs = append(w.msgs[:i], w.msgs[i+1:]...)
	w.reindex(i)
	return true
}

func (w *window) reindex(from int) {
	for i := from; i < len(w.msgs); i++ {
		w.index[w.msgs[i].ID] = i
	}
}

// noteTotal records the server-side total and the deepest page loaded.
func (w *window) noteTotal(page, total int) {
	w.total = total
	if page > w.highest {
		w.highest = page
	}
}

// hasMore stays true until a page has been fetched; pushed, sent and restored
// records say nothing about the server-side history.
func (w *window) hasMore(pageSize int) bool {
	if w.highest == 0 {
		return true
	}
	return w.highest*pageSize < w.total
}

func (w *window) snapshot() []models.Message {
	out := make([]models.Message, len(w.msgs))
	for i, m := range w.msgs {
		out[i] = m.Clone()
	}
	return out
}

func sortStable(records []models.Message) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})
}
