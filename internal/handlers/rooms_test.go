package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"message-sync/internal/cache"
	"message-sync/internal/identity"
	"message-sync/internal/mocks"
	"message-sync/internal/models"
)

var me = models.User{ID: "u1", UserName: "ada"}

type staticTitles map[string]string

func (s staticTitles) Title(_ context.Context, roomID string) string {
	if name, ok := s[roomID]; ok {
		return name
	}
	return roomID
}

type watchRecorder struct {
	rooms []string
}

func (w *watchRecorder) Watch(roomID string) { w.rooms = append(w.rooms, roomID) }

func setupRoomRouter(t *testing.T, st *mocks.MessageStoreMock, watcher Watcher) *gin.Engine {
	t.Helper()
	reporter := new(mocks.ReporterMock)
	reporter.On("ReportFailure", mock.Anything, mock.Anything).Maybe()
	r := cache.New(cache.Config{Store: st, Identity: identity.Static{User: me, Users: []models.User{me}}, Reporter: reporter})
	t.Cleanup(r.Close)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewRoomHandler(r, staticTitles{"r1": "general"}, watcher, nil).Register(router)
	return router
}

func record(id string, ts int64) models.Message {
	return models.Message{ID: id, SenderID: "u2", Timestamp: ts, Content: json.RawMessage(`"` + id + `"`)}
}

func serve(router *gin.Engine, method, path string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type messagesResponse struct {
	RoomID   string           `json:"room_id"`
	Title    string           `json:"title"`
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

func TestNavigateWatchesRoom(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	watcher := &watchRecorder{}
	router := setupRoomRouter(t, st, watcher)

	rec := serve(router, http.MethodPut, "/session/room/r1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "general", resp["title"])
	assert.EqualValues(t, 1, resp["epoch"])
	assert.Equal(t, []string{"r1"}, watcher.rooms)
}

func TestLoadPageAndGetMessages(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	st.On("FetchPage", mock.Anything, "r1", 1).Return(models.Page{Messages: []models.Message{record("a", 10)}, Total: 40}, nil).Once()
	router := setupRoomRouter(t, st, nil)

	rec := serve(router, http.MethodPost, "/rooms/r1/pages/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodGet, "/rooms/r1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp messagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "general", resp.Title)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "a", resp.Messages[0].ID)
	assert.True(t, resp.HasMore)
	st.AssertExpectations(t)
}

func TestLoadPageRejectsBadPage(t *testing.T) {
	router := setupRoomRouter(t, new(mocks.MessageStoreMock), nil)

	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/rooms/r1/pages/0", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/rooms/r1/pages/x", "").Code)
}

func TestPostMessageAccepted(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	st.On("CreateMessage", mock.Anything, "r1", mock.Anything).Return(models.Message{ID: "real1", Timestamp: 5, Content: json.RawMessage(`"hi"`)}, nil).Once()
	router := setupRoomRouter(t, st, nil)

	rec := serve(router, http.MethodPost, "/rooms/r1/messages", `{"content":"hi"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Status  string         `json:"status"`
		Message models.Message `json:"message"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "pending", resp.Status)
	assert.True(t, resp.Message.Pending)
	assert.Equal(t, "u1", resp.Message.SenderID)
}

func TestPostMessageWaitReportsRejection(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	st.On("CreateMessage", mock.Anything, "r1", mock.Anything).Return(models.Message{}, assert.AnError).Once()
	router := setupRoomRouter(t, st, nil)

	rec := serve(router, http.MethodPost, "/rooms/r1/messages?wait=true", `{"content":"hi"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	rec = serve(router, http.MethodGet, "/rooms/r1/messages", "")
	var resp messagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.Messages)
	st.AssertExpectations(t)
}

func TestPostMessageValidation(t *testing.T) {
	router := setupRoomRouter(t, new(mocks.MessageStoreMock), nil)

	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/rooms/r1/messages", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/rooms/r1/messages", `{"content":null}`).Code)
}

func TestReactionFlow(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	st.On("FetchPage", mock.Anything, "r1", 1).Return(models.Page{Messages: []models.Message{record("a", 10)}}, nil).Once()
	st.On("UpdateMessage", mock.Anything, "r1", "a", "u1", mock.Anything).Return(models.Message{}, nil).Once()
	router := setupRoomRouter(t, st, nil)
	require.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/rooms/r1/pages/1", "").Code)

	rec := serve(router, http.MethodPost, "/rooms/r1/messages/a/reactions?wait=true", `{"name":"like","glyph":"👍"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Message models.Message `json:"message"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Message.Reactions, 1)
	assert.Equal(t, []string{"u1"}, resp.Message.Reactions[0].UserIDs)

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodPost, "/rooms/r1/messages/zzz/reactions", `{"name":"like"}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/rooms/r1/messages/a/reactions", `{}`).Code)
	st.AssertExpectations(t)
}

func TestEditUnknownMessage(t *testing.T) {
	router := setupRoomRouter(t, new(mocks.MessageStoreMock), nil)

	rec := serve(router, http.MethodPut, "/rooms/r1/messages/zzz", `{"content":"x"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetThreadAndMemberThreads(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	reply := record("t1", 20)
	reply.ThreadID = "p"
	st.On("FetchThread", mock.Anything, "r1", "p").Return(models.Thread{Parent: record("p", 10), Replies: []models.Message{reply}}, nil).Once()
	st.On("FetchMemberThreads", mock.Anything, "u2").Return([]models.Thread{{Parent: record("p", 10)}}, nil).Once()
	router := setupRoomRouter(t, st, nil)

	rec := serve(router, http.MethodGet, "/rooms/r1/threads/p", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var thread models.Thread
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&thread))
	assert.Equal(t, "p", thread.Parent.ID)
	require.Len(t, thread.Replies, 1)

	rec = serve(router, http.MethodGet, "/members/u2/threads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Threads []models.Thread `json:"threads"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Threads, 1)
	st.AssertExpectations(t)
}

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterDebugRoutes(router, nil, false)

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/debug/report-test", "").Code)
}

func TestDebugRoutesWithoutReporter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterDebugRoutes(router, nil, true)

	assert.Equal(t, http.StatusServiceUnavailable, serve(router, http.MethodGet, "/debug/report-test", "").Code)
}

func TestDebugReportTestSendsSyntheticFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reporter := new(mocks.ReporterMock)
	reporter.On("ReportFailure", mock.Anything, mock.MatchedBy(func(f cache.Failure) bool {
		return f.Op == OpDebug && f.RoomID == "r1" && f.RolledBack && f.Err != nil && f.MessageID != ""
	})).Once()
	router := gin.New()
	RegisterDebugRoutes(router, reporter, true)

	rec := serve(router, http.MethodGet, "/debug/report-test?room_id=r1&rolled_back=true", "")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"op":"debug"`)
	reporter.AssertExpectations(t)
}
