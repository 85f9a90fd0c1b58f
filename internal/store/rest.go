package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"message-sync/internal/models"
)

// Options configures RESTStore.
type Options struct {
	BaseURL  string
	OrgID    string
	Token    string
	PageSize int
	Timeout  time.Duration
	Retries  int
}

// RESTStore is a resty-backed MessageStore.
type RESTStore struct {
	http     *resty.Client
	orgID    string
	pageSize int
	tracer   trace.Tracer
}

// NewRESTStore constructs RESTStore.
func NewRESTStore(opts Options) *RESTStore {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Accept", "application/json")
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}
	return &RESTStore{
		http:     client,
		orgID:    opts.OrgID,
		pageSize: opts.PageSize,
		tracer:   otel.Tracer("message-sync/store"),
	}
}

type envelope[T any] struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

// FetchPage retrieves one page of room history.
func (s *RESTStore) FetchPage(ctx context.Context, roomID string, page int) (models.Page, error) {
	ctx, span := s.start(ctx, "store.fetch_page", attribute.String("room_id", roomID), attribute.Int("page", page))
	defer span.End()

	var out envelope[models.Page]
	resp, err := s.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"orgID": s.orgID, "roomID": roomID}).
		SetQueryParams(map[string]string{"page": strconv.Itoa(page), "size": strconv.Itoa(s.pageSize)}).
		SetResult(&out).
		Get("/org/{orgID}/rooms/{roomID}/messages")
	if err := check("fetch page", resp, err); err != nil {
		fail(span, err)
		return models.Page{}, err
	}
	if out.Data.Messages == nil {
		out.Data.Messages = []models.Message{}
	}
	return out.Data, nil
}

// CreateMessage persists a new message in a room.
func (s *RESTStore) CreateMessage(ctx context.Context, roomID string, msg NewMessage) (models.Message, error) {
	ctx, span := s.start(ctx, "store.create_message", attribute.String("room_id", roomID))
	defer span.End()

	if msg.Reactions == nil {
		msg.Reactions = []models.Reaction{}
	}
	var out envelope[models.Message]
	resp, err := s.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"orgID": s.orgID, "roomID": roomID}).
		SetBody(msg).
		SetResult(&out).
		Post("/org/{orgID}/rooms/{roomID}/messages")
	if err := check("create message", resp, err); err != nil {
		fail(span, err)
		return models.Message{}, err
	}
	if out.Data.ID == "" {
		err := fmt.Errorf("create message: response carries no message id")
		fail(span, err)
		return models.Message{}, err
	}
	return out.Data, nil
}

// UpdateMessage replaces the mutable fields of a message.
func (s *RESTStore) UpdateMessage(ctx context.Context, roomID, messageID, senderID string, msg models.Message) (models.Message, error) {
	ctx, span := s.start(ctx, "store.update_message", attribute.String("room_id", roomID), attribute.String("message_id", messageID))
	defer span.End()

	body, err := updateBody(senderID, msg)
	if err != nil {
		fail(span, err)
		return models.Message{}, err
	}
	var out envelope[models.Message]
	resp, err := s.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"orgID": s.orgID, "roomID": roomID, "messageID": messageID}).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Put("/org/{orgID}/rooms/{roomID}/messages/{messageID}")
	if err := check("update message", resp, err); err != nil {
		fail(span, err)
		return models.Message{}, err
	}
	if out.Data.ID == "" {
		// Some deployments answer updates with an acknowledgement only.
		out.Data = msg
	}
	return out.Data, nil
}

// FetchThread retrieves a thread parent and its replies.
func (s *RESTStore) FetchThread(ctx context.Context, roomID, threadID string) (models.Thread, error) {
	ctx, span := s.start(ctx, "store.fetch_thread", attribute.String("room_id", roomID), attribute.String("thread_id", threadID))
	defer span.End()

	params := map[string]string{"orgID": s.orgID, "roomID": roomID, "threadID": threadID}

	var parent envelope[models.Message]
	resp, err := s.http.R().
		SetContext(ctx).
		SetPathParams(params).
		SetResult(&parent).
		Get("/org/{orgID}/rooms/{roomID}/messages/{threadID}")
	if err := check("fetch thread parent", resp, err); err != nil {
		fail(span, err)
		return models.Thread{}, err
	}

	var replies envelope[[]models.Message]
	resp, err = s.http.R().
		SetContext(ctx).
		SetPathParams(params).
		SetResult(&replies).
		Get("/org/{orgID}/rooms/{roomID}/messages/{threadID}/threads")
	if err := check("fetch thread replies", resp, err); err != nil {
		fail(span, err)
		return models.Thread{}, err
	}
	if replies.Data == nil {
		replies.Data = []models.Message{}
	}
	return models.Thread{Parent: parent.Data, Replies: replies.Data}, nil
}

// FetchMemberThreads lists the threads a member participates in. The service
// returns parent messages carrying their replies under "threads".
func (s *RESTStore) FetchMemberThreads(ctx context.Context, memberID string) ([]models.Thread, error) {
	ctx, span := s.start(ctx, "store.fetch_member_threads", attribute.String("member_id", memberID))
	defer span.End()

	var out envelope[[]models.Message]
	resp, err := s.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"orgID": s.orgID, "memberID": memberID}).
		SetResult(&out).
		Get("/org/{orgID}/member/{memberID}/threads")
	if err := check("fetch member threads", resp, err); err != nil {
		fail(span, err)
		return nil, err
	}
	threads := make([]models.Thread, 0, len(out.Data))
	for _, parent := range out.Data {
		replies := parent.Threads
		parent.Threads = nil
		if replies == nil {
			replies = []models.Message{}
		}
		threads = append(threads, models.Thread{Parent: parent, Replies: replies})
	}
	return threads, nil
}

// SidebarRooms lists the channel and direct-message rooms available to userID.
func (s *RESTStore) SidebarRooms(ctx context.Context, userID string) ([]models.Room, error) {
	ctx, span := s.start(ctx, "store.sidebar_rooms", attribute.String("user_id", userID))
	defer span.End()

	type category struct {
		Name        string        `json:"name"`
		PublicRooms []models.Room `json:"public_rooms"`
		JoinedRooms []models.Room `json:"joined_rooms"`
	}
	var out envelope[[]category]
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"org": s.orgID, "user": userID}).
		SetResult(&out).
		Get("/sidebar")
	if err := check("sidebar", resp, err); err != nil {
		fail(span, err)
		return nil, err
	}

	var rooms []models.Room
	for _, c := range out.Data {
		if c.Name != "Channels" && c.Name != "Direct Messages" {
			continue
		}
		for _, r := range append(c.PublicRooms, c.JoinedRooms...) {
			r.Category = c.Name
			rooms = append(rooms, r)
		}
	}
	return rooms, nil
}

func (s *RESTStore) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// updateBody flattens the message fields next to sender_id, the shape the
// service expects for PUT requests.
func updateBody(senderID string, msg models.Message) (map[string]json.RawMessage, error) {
	msg.Pending = false
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	body := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	delete(body, "sender")
	delete(body, "pending")
	sender, _ := json.Marshal(senderID)
	body["sender_id"] = sender
	return body, nil
}

func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return &StatusError{Op: op, StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 256)}
	}
	return nil
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var _ MessageStore = (*RESTStore)(nil)
var _ RoomLister = (*RESTStore)(nil)
