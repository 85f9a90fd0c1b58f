package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"message-sync/internal/cache"
	"message-sync/internal/models"
)

// Syncer is the reconciler surface exposed over HTTP.
type Syncer interface {
	Navigate(roomID string) cache.Token
	Messages(roomID string) []models.Message
	HasMore(roomID string) bool
	LoadPage(ctx context.Context, roomID string, page int) ([]models.Message, error)
	SendMessage(ctx context.Context, roomID string, content json.RawMessage, sender models.Sender) (*cache.Write, error)
	EditMessage(ctx context.Context, roomID, messageID string, content json.RawMessage) (*cache.Write, error)
	ApplyReaction(ctx context.Context, roomID, messageID, name, glyph, userID string) (*cache.Write, error)
	LoadThread(ctx context.Context, roomID, threadID string) (models.Thread, error)
	MemberThreads(ctx context.Context, memberID string) ([]models.Thread, error)
	Restore(ctx context.Context, roomID string) (int, error)
}

// Titles names rooms for display.
type Titles interface {
	Title(ctx context.Context, roomID string) string
}

// Watcher starts push delivery for a room.
type Watcher interface {
	Watch(roomID string)
}

// RoomHandler serves the reconciled room view to the local UI.
type RoomHandler struct {
	syncer  Syncer
	titles  Titles
	watcher Watcher
	log     *slog.Logger
}

// NewRoomHandler builds a RoomHandler. titles and watcher may be nil.
func NewRoomHandler(syncer Syncer, titles Titles, watcher Watcher, logger *slog.Logger) *RoomHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomHandler{syncer: syncer, titles: titles, watcher: watcher, log: logger}
}

// Register wires the room routes onto r.
func (h *RoomHandler) Register(r gin.IRoutes) {
	r.PUT("/session/room/:room_id", h.Navigate)
	r.GET("/rooms/:room_id/messages", h.GetMessages)
	r.POST("/rooms/:room_id/pages/:page", h.LoadPage)
	r.POST("/rooms/:room_id/messages", h.PostMessage)
	r.PUT("/rooms/:room_id/messages/:message_id", h.EditMessage)
	r.POST("/rooms/:room_id/messages/:message_id/reactions", h.PostReaction)
	r.GET("/rooms/:room_id/threads/:thread_id", h.GetThread)
	r.GET("/members/:member_id/threads", h.GetMemberThreads)
}

type contentRequest struct {
	Content json.RawMessage `json:"content" binding:"required"`
}

type reactionRequest struct {
	Name  string `json:"name" binding:"required"`
	Glyph string `json:"glyph"`
}

// Navigate makes the room active, starts push delivery and warms the
// window from the archive the first time the room is opened.
func (h *RoomHandler) Navigate(c *gin.Context) {
	roomID := c.Param("room_id")
	token := h.syncer.Navigate(roomID)
	if h.watcher != nil {
		h.watcher.Watch(roomID)
	}
	if len(h.syncer.Messages(roomID)) == 0 {
		if _, err := h.syncer.Restore(c.Request.Context(), roomID); err != nil {
			h.log.WarnContext(c.Request.Context(), "archive restore failed", "room_id", roomID, "request_id", requestIDFromContext(c), "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "epoch": token.Epoch, "title": h.title(c, roomID)})
}

// GetMessages returns the current snapshot of a room.
func (h *RoomHandler) GetMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	c.JSON(http.StatusOK, gin.H{
		"room_id":  roomID,
		"title":    h.title(c, roomID),
		"messages": h.syncer.Messages(roomID),
		"has_more": h.syncer.HasMore(roomID),
	})
}

// LoadPage fetches one page of history into the room.
func (h *RoomHandler) LoadPage(c *gin.Context) {
	roomID := c.Param("room_id")
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}

	msgs, err := h.syncer.LoadPage(c.Request.Context(), roomID, page)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "messages": msgs, "has_more": h.syncer.HasMore(roomID)})
}

// PostMessage sends a message optimistically. With wait=true the response
// carries the confirmed record.
func (h *RoomHandler) PostMessage(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	write, err := h.syncer.SendMessage(c.Request.Context(), c.Param("room_id"), req.Content, models.Sender{})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondWrite(c, write)
}

// EditMessage replaces a message's content.
func (h *RoomHandler) EditMessage(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	write, err := h.syncer.EditMessage(c.Request.Context(), c.Param("room_id"), c.Param("message_id"), req.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondWrite(c, write)
}

// PostReaction toggles the current user's reaction.
func (h *RoomHandler) PostReaction(c *gin.Context) {
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	write, err := h.syncer.ApplyReaction(c.Request.Context(), c.Param("room_id"), c.Param("message_id"), req.Name, req.Glyph, "")
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondWrite(c, write)
}

func (h *RoomHandler) GetThread(c *gin.Context) {
	thread, err := h.syncer.LoadThread(c.Request.Context(), c.Param("room_id"), c.Param("thread_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

func (h *RoomHandler) GetMemberThreads(c *gin.Context) {
	threads, err := h.syncer.MemberThreads(c.Request.Context(), c.Param("member_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

func (h *RoomHandler) respondWrite(c *gin.Context, write *cache.Write) {
	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, gin.H{"status": "pending", "message": write.Message})
		return
	}

	saved, err := write.Wait(c.Request.Context())
	if err != nil {
		h.log.WarnContext(c.Request.Context(), "write rejected", "op", string(write.Op), "room_id", write.RoomID, "request_id", requestIDFromContext(c), "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "write rejected", "rolled_back": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "confirmed", "message": saved})
}

func (h *RoomHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cache.ErrEmptyContent), errors.Is(err, cache.ErrInvalidReaction):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, cache.ErrUnknownMessage):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, cache.ErrStale), errors.Is(err, cache.ErrMessagePending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, cache.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.log.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "request_id", requestIDFromContext(c), "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream failure"})
	}
}

func (h *RoomHandler) title(c *gin.Context, roomID string) string {
	if h.titles == nil {
		return roomID
	}
	return h.titles.Title(c.Request.Context(), roomID)
}

