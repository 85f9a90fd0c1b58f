package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"message-sync/internal/cache"
	"message-sync/internal/models"
	"message-sync/internal/store"
)

type MessageStoreMock struct {
	mock.Mock
}

func (m *MessageStoreMock) FetchPage(ctx context.Context, roomID string, page int) (models.Page, error) {
	args := m.Called(ctx, roomID, page)
	var result models.Page
	if val := args.Get(0); val != nil {
		result = val.(models.Page)
	}
	return result, args.Error(1)
}

func (m *MessageStoreMock) CreateMessage(ctx context.Context, roomID string, msg store.NewMessage) (models.Message, error) {
	args := m.Called(ctx, roomID, msg)
	var saved models.Message
	if val := args.Get(0); val != nil {
		saved = val.(models.Message)
	}
	return saved, args.Error(1)
}

func (m *MessageStoreMock) UpdateMessage(ctx context.Context, roomID, messageID, senderID string, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, roomID, messageID, senderID, msg)
	var saved models.Message
	if val := args.Get(0); val != nil {
		saved = val.(models.Message)
	}
	return saved, args.Error(1)
}

func (m *MessageStoreMock) FetchThread(ctx context.Context, roomID, threadID string) (models.Thread, error) {
	args := m.Called(ctx, roomID, threadID)
	var thread models.Thread
	if val := args.Get(0); val != nil {
		thread = val.(models.Thread)
	}
	return thread, args.Error(1)
}

func (m *MessageStoreMock) FetchMemberThreads(ctx context.Context, memberID string) ([]models.Thread, error) {
	args := m.Called(ctx, memberID)
	var threads []models.Thread
	if val := args.Get(0); val != nil {
		threads = val.([]models.Thread)
	}
	return threads, args.Error(1)
}

type RoomListerMock struct {
	mock.Mock
}

func (m *RoomListerMock) SidebarRooms(ctx context.Context, userID string) ([]models.Room, error) {
	args := m.Called(ctx, userID)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

type IdentityMock struct {
	mock.Mock
}

func (m *IdentityMock) CurrentUser(ctx context.Context) (models.User, error) {
	args := m.Called(ctx)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *IdentityMock) WorkspaceUsers(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

type ReporterMock struct {
	mock.Mock
}

func (m *ReporterMock) ReportFailure(ctx context.Context, f cache.Failure) {
	m.Called(ctx, f)
}

type ArchiveMock struct {
	mock.Mock
}

func (m *ArchiveMock) SaveMessages(ctx context.Context, roomID string, msgs []models.Message) error {
	args := m.Called(ctx, roomID, msgs)
	return args.Error(0)
}

func (m *ArchiveMock) RoomMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
