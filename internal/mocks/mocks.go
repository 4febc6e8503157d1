package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"marketplace-chat-service/internal/chat"
	"marketplace-chat-service/internal/clients"
	"marketplace-chat-service/internal/models"
	"marketplace-chat-service/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) GetOrCreate(ctx context.Context, listingID int, userA int, userB int) (models.Room, error) {
	args := m.Called(ctx, listingID, userA, userB)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) Find(ctx context.Context, roomID int) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) ListRoomsForUser(ctx context.Context, userID int) ([]models.RoomSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.RoomSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.RoomSummary)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, roomID int, senderID int, content string) (models.Message, error) {
	args := m.Called(ctx, roomID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListAfter(ctx context.Context, roomID int, afterSeq int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, afterSeq, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDelivered(ctx context.Context, roomID int, seq int64) error {
	args := m.Called(ctx, roomID, seq)
	return args.Error(0)
}

func (m *MessageRepositoryMock) MarkReadForUser(ctx context.Context, roomID int, readerID int) error {
	args := m.Called(ctx, roomID, readerID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) QueuedCounts(ctx context.Context) ([]repositories.RoomUnread, error) {
	args := m.Called(ctx)
	var counts []repositories.RoomUnread
	if val := args.Get(0); val != nil {
		counts = val.([]repositories.RoomUnread)
	}
	return counts, args.Error(1)
}

type ListingServiceMock struct {
	mock.Mock
}

func (m *ListingServiceMock) GetListing(ctx context.Context, listingID int) (clients.Listing, error) {
	args := m.Called(ctx, listingID)
	var listing clients.Listing
	if val := args.Get(0); val != nil {
		listing = val.(clients.Listing)
	}
	return listing, args.Error(1)
}

func (m *ListingServiceMock) GetUser(ctx context.Context, userID int) (clients.User, error) {
	args := m.Called(ctx, userID)
	var user clients.User
	if val := args.Get(0); val != nil {
		user = val.(clients.User)
	}
	return user, args.Error(1)
}

func (m *ListingServiceMock) BulkUsers(ctx context.Context, ids []int) ([]clients.User, error) {
	args := m.Called(ctx, ids)
	var users []clients.User
	if val := args.Get(0); val != nil {
		users = val.([]clients.User)
	}
	return users, args.Error(1)
}

// LiveIndexMock records deliveries instead of pushing to sockets. The
// configured return value is the set of user ids the delivery reached.
type LiveIndexMock struct {
	mock.Mock
}

func (m *LiveIndexMock) Deliver(roomID int, frame models.ServerFrame) map[int]bool {
	args := m.Called(roomID, frame)
	var reached map[int]bool
	if val := args.Get(0); val != nil {
		reached = val.(map[int]bool)
	}
	return reached
}

var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ clients.ListingService = (*ListingServiceMock)(nil)
var _ chat.LiveIndex = (*LiveIndexMock)(nil)
