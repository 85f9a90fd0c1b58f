// Package cache keeps the per-room message view that the UI renders. It
// merges fetched pages, optimistic local writes and push-delivered remote
// writes into one ordered, deduplicated sequence per room.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"message-sync/internal/identity"
	"message-sync/internal/models"
	"message-sync/internal/observability"
	"message-sync/internal/push"
	"message-sync/internal/store"
)

var (
	ErrStale           = errors.New("response superseded by navigation")
	ErrUnknownMessage  = errors.New("message not in cache")
	ErrMessagePending  = errors.New("message not confirmed yet")
	ErrEmptyContent    = errors.New("message content is empty")
	ErrInvalidReaction = errors.New("reaction name is empty")
	ErrClosed          = errors.New("reconciler closed")
)

const defaultWriteTimeout = 30 * time.Second

// Archive persists confirmed messages for warm starts.
type Archive interface {
	SaveMessages(ctx context.Context, roomID string, msgs []models.Message) error
	RoomMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error)
}

// Config wires a Reconciler. Store and Identity are required.
type Config struct {
	Store    store.MessageStore
	Identity identity.Provider
	Archive  Archive
	Reporter Reporter
	Logger   *slog.Logger

	PageSize     int
	WriteTimeout time.Duration
	Now          func() time.Time
	NewTempID    func() string
}

// Token identifies the navigation session an asynchronous continuation was
// started under.
type Token struct {
	Room  string
	Epoch uint64
}

// Reconciler owns every room window. All mutations go through its methods.
type Reconciler struct {
	store     store.MessageStore
	identity  identity.Provider
	archive   Archive
	reporter  Reporter
	log       *slog.Logger
	pageSize  int
	timeout   time.Duration
	now       func() time.Time
	newTempID func() string

	mu      sync.Mutex
	rooms   map[string]*window
	threads map[string]*models.Thread
	roster  *identity.Roster
	self    *models.User
	active  Token
	closed  bool

	wg sync.WaitGroup
}

// New constructs a Reconciler.
func New(cfg Config) *Reconciler {
	r := &Reconciler{
		store:     cfg.Store,
		identity:  cfg.Identity,
		archive:   cfg.Archive,
		reporter:  cfg.Reporter,
		log:       cfg.Logger,
		pageSize:  cfg.PageSize,
		timeout:   cfg.WriteTimeout,
		now:       cfg.Now,
		newTempID: cfg.NewTempID,
		rooms:     make(map[string]*window),
		threads:   make(map[string]*models.Thread),
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.reporter == nil {
		r.reporter = LogReporter{Logger: r.log}
	}
	if r.pageSize <= 0 {
		r.pageSize = store.DefaultPageSize
	}
	if r.timeout <= 0 {
		r.timeout = defaultWriteTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newTempID == nil {
		r.newTempID = func() string { return "tmp-" + uuid.NewString() }
	}
	return r
}

// Navigate makes roomID the active room. Page and thread responses started
// before the call are dropped when they arrive.
func (r *Reconciler) Navigate(roomID string) Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = Token{Room: roomID, Epoch: r.active.Epoch + 1}
	return r.active
}

// Active returns the current navigation token.
func (r *Reconciler) Active() Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Forget drops the cached window of a room. Writes still in flight for it
// resolve without touching the new window.
func (r *Reconciler) Forget(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

// Messages returns a copy of a room's ordered sequence.
func (r *Reconciler) Messages(roomID string) []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.rooms[roomID]
	if !ok {
		return []models.Message{}
	}
	return w.snapshot()
}

// HasMore reports whether older pages remain for the room.
func (r *Reconciler) HasMore(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.rooms[roomID]
	if !ok {
		return true
	}
	return w.hasMore(r.pageSize)
}

// Thread returns a copy of a loaded thread side-collection.
func (r *Reconciler) Thread(threadID string) (models.Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[threadID]
	if !ok {
		return models.Thread{}, false
	}
	return cloneThread(*t), true
}

// LoadPage fetches one page of room history and merges it. Page 1 is the
// newest page; higher pages are older history and are prepended. Fetch
// failures are reported and yield an empty result, never an error; a response that arrives
// after navigation is dropped with ErrStale.
func (r *Reconciler) LoadPage(ctx context.Context, roomID string, page int) ([]models.Message, error) {
	if page < 1 {
		page = 1
	}
	token := r.Active()

	result, err := r.store.FetchPage(ctx, roomID, page)
	if err != nil {
		observability.IncFetchError(string(OpFetchPage))
		r.reporter.ReportFailure(ctx, Failure{Op: OpFetchPage, RoomID: roomID, Err: fmt.Errorf("page %d: %w", page, err), At: r.now()})
		return []models.Message{}, nil
	}
	roster := r.refreshRoster(ctx)
	records := r.prepare(roomID, result.Messages, roster, string(OpFetchPage))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.staleLocked(token, roomID) {
		observability.IncStaleDrop(string(OpFetchPage))
		r.log.DebugContext(ctx, "dropping stale page", "room_id", roomID, "page", page)
		return nil, ErrStale
	}
	w := r.windowLocked(roomID)
	var inserted int
	if page == 1 {
		inserted = w.mergeRecent(records)
	} else {
		inserted = w.prependOlder(records)
	}
	w.noteTotal(page, result.Total)
	observability.AddMerged(string(OpFetchPage), inserted)
	r.archiveLocked(roomID, records)
	return w.snapshot(), nil
}

// SendMessage inserts an optimistic record at the tail of the room and
// persists it in the background. The returned Write carries the optimistic
// record; on success the record is swapped for the confirmed one in place,
// on failure it is removed again.
func (r *Reconciler) SendMessage(ctx context.Context, roomID string, content json.RawMessage, sender models.Sender) (*Write, error) {
	if !hasContent(content) {
		return nil, ErrEmptyContent
	}
	if sender.SenderID == "" {
		me, err := r.currentUser(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve sender: %w", err)
		}
		sender = identity.SenderFor(me)
	}

	tmp := models.Message{
		ID:        r.newTempID(),
		RoomID:    roomID,
		SenderID:  sender.SenderID,
		Sender:    sender,
		Timestamp: r.now().UnixMilli(),
		Content:   append(json.RawMessage(nil), content...),
		Reactions: []models.Reaction{},
		Pending:   true,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	w := r.windowLocked(roomID)
	w.add(tmp)
	tx := r.beginOptimistic(OpSend, roomID, w,
		func(w *window, saved models.Message) models.Message {
			final := confirmed(tmp, saved)
			w.rename(tmp.ID, final)
			r.archiveLocked(roomID, []models.Message{final})
			return final.Clone()
		},
		func(w *window) {
			w.remove(tmp.ID)
		})
	write := newWrite(OpSend, roomID, tmp.Clone())
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		wctx, cancel := r.writeContext(ctx)
		defer cancel()

		saved, err := r.store.CreateMessage(wctx, roomID, store.NewMessage{
			SenderID:  tmp.SenderID,
			Timestamp: tmp.Timestamp,
			Reactions: []models.Reaction{},
			Content:   tmp.Content,
		})
		if err != nil {
			tx.rollback()
			r.reporter.ReportFailure(wctx, Failure{Op: OpSend, RoomID: roomID, MessageID: tmp.ID, UserID: tmp.SenderID, Err: err, RolledBack: true, At: r.now()})
			write.finish(models.Message{}, err)
			return
		}
		write.finish(tx.commit(saved), nil)
	}()
	return write, nil
}

// ApplyReaction toggles userID's participation in the named reaction and
// sends the full reaction set to the store. A rejected update restores the
// user's previous participation; other users' reactions are left as they are.
func (r *Reconciler) ApplyReaction(ctx context.Context, roomID, messageID, name, glyph, userID string) (*Write, error) {
	if name == "" {
		return nil, ErrInvalidReaction
	}
	if userID == "" {
		me, err := r.currentUser(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve user: %w", err)
		}
		userID = me.ID
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	w, msg, err := r.lookupLocked(roomID, messageID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	var present bool
	prior := participates(msg.Reactions, name, userID)
	msg.Reactions, present = toggleReaction(msg.Reactions, name, glyph, userID)
	in := &intent{kind: intentReaction, name: name, glyph: glyph, userID: userID, present: present, prior: prior}
	w.addIntent(messageID, in)

	payload := msg.Clone()
	payload.Edited = true
	tx := r.beginOptimistic(OpReact, roomID, w,
		func(w *window, _ models.Message) models.Message {
			w.dropIntent(messageID, in)
			if current, ok := w.get(messageID); ok {
				return current.Clone()
			}
			return payload
		},
		func(w *window) {
			if next := w.dropIntent(messageID, in); next != nil {
				next.prior = in.prior
				return
			}
			if current, ok := w.get(messageID); ok {
				current.Reactions = setReaction(current.Reactions, in.name, in.glyph, in.userID, in.prior)
			}
		})
	write := newWrite(OpReact, roomID, msg.Clone())
	r.wg.Add(1)
	r.mu.Unlock()

	go r.persistUpdate(ctx, tx, write, roomID, messageID, userID, payload)
	return write, nil
}

// EditMessage replaces a message's content optimistically. A rejected update
// restores the previous content unless the message changed since.
func (r *Reconciler) EditMessage(ctx context.Context, roomID, messageID string, content json.RawMessage) (*Write, error) {
	if !hasContent(content) {
		return nil, ErrEmptyContent
	}
	me, err := r.currentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	w, msg, err := r.lookupLocked(roomID, messageID)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	in := &intent{
		kind:        intentEdit,
		content:     append(json.RawMessage(nil), content...),
		priorBody:   msg.Content,
		priorEdited: msg.Edited,
	}
	in.apply(msg)
	w.addIntent(messageID, in)

	payload := msg.Clone()
	tx := r.beginOptimistic(OpEdit, roomID, w,
		func(w *window, _ models.Message) models.Message {
			w.dropIntent(messageID, in)
			if current, ok := w.get(messageID); ok {
				return current.Clone()
			}
			return payload
		},
		func(w *window) {
			if next := w.dropIntent(messageID, in); next != nil {
				next.priorBody, next.priorEdited = in.priorBody, in.priorEdited
				return
			}
			if current, ok := w.get(messageID); ok && bytes.Equal(current.Content, in.content) {
				current.Content = in.priorBody
				current.Edited = in.priorEdited
			}
		})
	write := newWrite(OpEdit, roomID, msg.Clone())
	r.wg.Add(1)
	r.mu.Unlock()

	go r.persistUpdate(ctx, tx, write, roomID, messageID, me.ID, payload)
	return write, nil
}

func (r *Reconciler) persistUpdate(ctx context.Context, tx *optimistic, write *Write, roomID, messageID, senderID string, payload models.Message) {
	defer r.wg.Done()
	wctx, cancel := r.writeContext(ctx)
	defer cancel()

	if _, err := r.store.UpdateMessage(wctx, roomID, messageID, senderID, payload); err != nil {
		tx.rollback()
		r.reporter.ReportFailure(wctx, Failure{Op: tx.op, RoomID: roomID, MessageID: messageID, UserID: senderID, Err: err, RolledBack: true, At: r.now()})
		write.finish(models.Message{}, err)
		return
	}
	write.finish(tx.commit(payload), nil)
}

// MergeRemoteEvent merges a push-delivered change into the room. Echoes of
// the local user's own writes are discarded; the optimistic record already
// represents them.
func (r *Reconciler) MergeRemoteEvent(ctx context.Context, roomID string, ev push.Event) {
	if ev.Kind == push.KindMessageDelete {
		observability.IncPushEvent(ev.Kind, "ignored")
		return
	}
	senderID := ev.SenderID
	if senderID == "" {
		senderID = ev.Message.SenderID
	}
	if me, err := r.currentUser(ctx); err != nil {
		r.log.WarnContext(ctx, "current user unavailable, echo check skipped", "room_id", roomID, "err", err)
	} else if senderID == me.ID {
		observability.IncPushEvent(ev.Kind, "own_echo")
		return
	}

	roster := r.cachedRoster(ctx)
	records := r.prepare(roomID, []models.Message{ev.Message}, roster, string(OpRemote))
	if len(records) == 0 {
		observability.IncPushEvent(ev.Kind, "malformed")
		return
	}
	msg := records[0]

	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ThreadID != "" && msg.ThreadID != msg.ID {
		if t, ok := r.threads[msg.ThreadID]; ok {
			t.Replies = mergeReplies(t.Replies, []models.Message{msg})
			observability.IncPushEvent(ev.Kind, "thread")
			return
		}
		observability.IncPushEvent(ev.Kind, "ignored")
		return
	}
	w := r.windowLocked(roomID)
	if w.upsert(msg) {
		observability.AddMerged(string(OpRemote), 1)
	}
	observability.IncPushEvent(ev.Kind, "merged")
	r.archiveLocked(roomID, []models.Message{msg})
}

// LoadThread fetches a thread parent and its replies into a side-collection
// keyed by thread id. Fetch failures yield an empty thread.
func (r *Reconciler) LoadThread(ctx context.Context, roomID, threadID string) (models.Thread, error) {
	token := r.Active()

	fetched, err := r.store.FetchThread(ctx, roomID, threadID)
	if err != nil {
		observability.IncFetchError(string(OpFetchThread))
		r.reporter.ReportFailure(ctx, Failure{Op: OpFetchThread, RoomID: roomID, MessageID: threadID, Err: err, At: r.now()})
		return models.Thread{Replies: []models.Message{}}, nil
	}
	roster := r.refreshRoster(ctx)
	thread := r.prepareThread(roomID, fetched, roster)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.staleLocked(token, roomID) {
		observability.IncStaleDrop(string(OpFetchThread))
		return models.Thread{}, ErrStale
	}
	if existing, ok := r.threads[threadID]; ok {
		thread.Replies = mergeReplies(existing.Replies, thread.Replies)
	}
	r.threads[threadID] = &thread
	return cloneThread(thread), nil
}

// MemberThreads lists every thread memberID participates in. Fetch failures
// yield an empty list.
func (r *Reconciler) MemberThreads(ctx context.Context, memberID string) ([]models.Thread, error) {
	if memberID == "" {
		me, err := r.currentUser(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve user: %w", err)
		}
		memberID = me.ID
	}
	fetched, err := r.store.FetchMemberThreads(ctx, memberID)
	if err != nil {
		observability.IncFetchError(string(OpMemberThreads))
		r.reporter.ReportFailure(ctx, Failure{Op: OpMemberThreads, UserID: memberID, Err: err, At: r.now()})
		return []models.Thread{}, nil
	}
	roster := r.refreshRoster(ctx)
	out := make([]models.Thread, 0, len(fetched))
	for _, t := range fetched {
		prepared := r.prepareThread(t.Parent.RoomID, t, roster)
		if prepared.Parent.ID == "" {
			continue
		}
		out = append(out, prepared)
	}
	return out, nil
}

// Restore seeds a room window from the archive. It returns the number of
// records inserted.
func (r *Reconciler) Restore(ctx context.Context, roomID string) (int, error) {
	if r.archive == nil {
		return 0, nil
	}
	archived, err := r.archive.RoomMessages(ctx, roomID, r.pageSize)
	if err != nil {
		return 0, fmt.Errorf("restore room %s: %w", roomID, err)
	}
	records := r.prepare(roomID, archived, r.cachedRoster(ctx), string(OpRestore))

	r.mu.Lock()
	defer r.mu.Unlock()
	inserted := r.windowLocked(roomID).mergeRecent(records)
	observability.AddMerged(string(OpRestore), inserted)
	return inserted, nil
}

// Close waits for in-flight writes. Later writes fail with ErrClosed.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Reconciler) windowLocked(roomID string) *window {
	w, ok := r.rooms[roomID]
	if !ok {
		w = newWindow(roomID)
		r.rooms[roomID] = w
	}
	return w
}

func (r *Reconciler) lookupLocked(roomID, messageID string) (*window, *models.Message, error) {
	w, ok := r.rooms[roomID]
	if !ok {
		return nil, nil, ErrUnknownMessage
	}
	msg, ok := w.get(messageID)
	if !ok {
		return nil, nil, ErrUnknownMessage
	}
	if msg.Pending {
		return nil, nil, ErrMessagePending
	}
	return w, msg, nil
}

// staleLocked reports whether a continuation started under token may no
// longer write into roomID.
func (r *Reconciler) staleLocked(token Token, roomID string) bool {
	if r.active.Epoch != token.Epoch {
		return true
	}
	return r.active.Room != "" && r.active.Room != roomID
}

// prepare drops malformed records and stamps room and sender snapshots.
func (r *Reconciler) prepare(roomID string, in []models.Message, roster *identity.Roster, source string) []models.Message {
	out := make([]models.Message, 0, len(in))
	for _, msg := range in {
		if !models.Valid(msg) {
			continue
		}
		if msg.RoomID == "" {
			msg.RoomID = roomID
		}
		resolved := roster.Resolve(msg.SenderID)
		if resolved.SenderName != "" || msg.Sender.SenderName == "" {
			msg.Sender = resolved
		}
		msg.Reactions = normalizeReactions(msg.Reactions)
		msg.Pending = false
		out = append(out, msg)
	}
	if dropped := len(in) - len(out); dropped > 0 {
		observability.AddDropped(source, dropped)
	}
	return out
}

func (r *Reconciler) prepareThread(roomID string, t models.Thread, roster *identity.Roster) models.Thread {
	out := models.Thread{Replies: []models.Message{}}
	if parent := r.prepare(roomID, []models.Message{t.Parent}, roster, string(OpFetchThread)); len(parent) == 1 {
		out.Parent = parent[0]
	}
	out.Replies = mergeReplies(out.Replies, r.prepare(roomID, t.Replies, roster, string(OpFetchThread)))
	return out
}

func (r *Reconciler) currentUser(ctx context.Context) (models.User, error) {
	r.mu.Lock()
	if r.self != nil {
		me := *r.self
		r.mu.Unlock()
		return me, nil
	}
	r.mu.Unlock()

	me, err := r.identity.CurrentUser(ctx)
	if err != nil {
		return models.User{}, err
	}
	r.mu.Lock()
	r.self = &me
	r.mu.Unlock()
	return me, nil
}

// refreshRoster fetches a new roster snapshot, keeping the previous one on failure.
func (r *Reconciler) refreshRoster(ctx context.Context) *identity.Roster {
	users, err := r.identity.WorkspaceUsers(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.log.WarnContext(ctx, "roster refresh failed", "err", err)
		return r.roster
	}
	r.roster = identity.NewRoster(users)
	return r.roster
}

func (r *Reconciler) cachedRoster(ctx context.Context) *identity.Roster {
	r.mu.Lock()
	roster := r.roster
	r.mu.Unlock()
	if roster != nil {
		return roster
	}
	return r.refreshRoster(ctx)
}

// archiveLocked writes confirmed records through to the archive in the background.
func (r *Reconciler) archiveLocked(roomID string, records []models.Message) {
	if r.archive == nil || len(records) == 0 || r.closed {
		return
	}
	batch := make([]models.Message, len(records))
	for i, m := range records {
		batch[i] = m.Clone()
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.archive.SaveMessages(ctx, roomID, batch); err != nil {
			r.log.Warn("archive write failed", "room_id", roomID, "count", len(batch), "err", err)
		}
	}()
}

func (r *Reconciler) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

// confirmed builds the record that replaces tmp once the store accepted it.
func confirmed(tmp, saved models.Message) models.Message {
	out := saved
	if out.RoomID == "" {
		out.RoomID = tmp.RoomID
	}
	if out.SenderID == "" {
		out.SenderID = tmp.SenderID
	}
	if out.Timestamp == 0 {
		out.Timestamp = tmp.Timestamp
	}
	if !hasContent(out.Content) {
		out.Content = tmp.Content
	}
	if out.Reactions == nil {
		out.Reactions = []models.Reaction{}
	}
	out.Sender = tmp.Sender
	out.Pending = false
	return out
}

func mergeReplies(existing, incoming []models.Message) []models.Message {
	w := newWindow("")
	w.mergeRecent(append(append([]models.Message(nil), existing...), incoming...))
	return w.msgs
}

func cloneThread(t models.Thread) models.Thread {
	out := models.Thread{Parent: t.Parent.Clone(), Replies: make([]models.Message, len(t.Replies))}
	for i, m := range t.Replies {
		out.Replies[i] = m.Clone()
	}
	return out
}

func hasContent(content json.RawMessage) bool {
	trimmed := bytes.TrimSpace(content)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
