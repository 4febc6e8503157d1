package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketplace-chat-service/internal/chat"
	"marketplace-chat-service/internal/clients"
	"marketplace-chat-service/internal/mocks"
	"marketplace-chat-service/internal/models"
	"marketplace-chat-service/internal/repositories"
)

type roomFixture struct {
	rooms      *mocks.RoomRepositoryMock
	messages   *mocks.MessageRepositoryMock
	listings   *mocks.ListingServiceMock
	live       *mocks.LiveIndexMock
	dispatcher *chat.Dispatcher
	router     *gin.Engine
}

func newRoomFixture() *roomFixture {
	f := &roomFixture{
		rooms:    new(mocks.RoomRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		listings: new(mocks.ListingServiceMock),
		live:     new(mocks.LiveIndexMock),
	}
	f.dispatcher = chat.NewDispatcher(f.messages)
	registry := chat.NewRegistry(f.rooms, f.listings)
	relay := chat.NewRelay(f.rooms, f.messages, f.live, f.dispatcher)
	handler := NewRoomHandler(registry, relay, f.dispatcher, f.rooms, f.messages, f.listings, nil)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/chat/rooms", handler.ListRooms)
	r.POST("/chat/rooms/start", handler.StartRoom)
	r.GET("/chat/rooms/:room_id/messages", handler.GetRoomMessages)
	r.GET("/chat/unread", handler.Unread)
	f.router = r
	return f
}

func (f *roomFixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestListRoomsSuccess(t *testing.T) {
	f := newRoomFixture()

	f.rooms.On("ListRoomsForUser", mock.Anything, 1).Return([]models.RoomSummary{
		{RoomID: 9, ListingID: 42, PeerID: 2},
	}, nil).Once()
	f.listings.On("BulkUsers", mock.Anything, []int{2}).Return([]clients.User{
		{ID: 2, FullName: "Bob Berg"},
	}, nil).Once()
	f.dispatcher.OnUndelivered(1, 9)

	rec := f.do(http.MethodGet, "/chat/rooms", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Rooms []struct {
			RoomID   int    `json:"room_id"`
			PeerName string `json:"peer_name"`
			Unread   int    `json:"unread"`
		} `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, 9, resp.Rooms[0].RoomID)
	assert.Equal(t, "Bob Berg", resp.Rooms[0].PeerName)
	assert.Equal(t, 1, resp.Rooms[0].Unread)

	f.rooms.AssertExpectations(t)
	f.listings.AssertExpectations(t)
}

func TestListRoomsRepoError(t *testing.T) {
	f := newRoomFixture()

	f.rooms.On("ListRoomsForUser", mock.Anything, 1).Return(([]models.RoomSummary)(nil), assert.AnError).Once()

	rec := f.do(http.MethodGet, "/chat/rooms", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStartRoomSuccess(t *testing.T) {
	f := newRoomFixture()

	f.listings.On("GetListing", mock.Anything, 42).Return(clients.Listing{ID: 42, OwnerID: 2}, nil).Once()
	f.rooms.On("GetOrCreate", mock.Anything, 42, 1, 2).Return(models.Room{ID: 9, ListingID: 42, User1ID: 1, User2ID: 2}, nil).Once()

	rec := f.do(http.MethodPost, "/chat/rooms/start", []byte(`{"listing_id":42}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 9, resp["room_id"])
	f.rooms.AssertExpectations(t)
}

func TestStartRoomOwnListing(t *testing.T) {
	f := newRoomFixture()

	f.listings.On("GetListing", mock.Anything, 42).Return(clients.Listing{ID: 42, OwnerID: 1}, nil).Once()

	rec := f.do(http.MethodPost, "/chat/rooms/start", []byte(`{"listing_id":42}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartRoomListingNotFound(t *testing.T) {
	f := newRoomFixture()

	f.listings.On("GetListing", mock.Anything, 99).Return(clients.Listing{}, clients.ErrListingNotFound).Once()

	rec := f.do(http.MethodPost, "/chat/rooms/start", []byte(`{"listing_id":99}`))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRoomMissingListing(t *testing.T) {
	f := newRoomFixture()

	rec := f.do(http.MethodPost, "/chat/rooms/start", []byte(`{}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRoomMessagesSuccess(t *testing.T) {
	f := newRoomFixture()

	room := models.Room{ID: 9, ListingID: 42, User1ID: 1, User2ID: 2}
	// The handler checks participation, the relay re-reads the room for history.
	f.rooms.On("Find", mock.Anything, 9).Return(room, nil).Twice()
	f.messages.On("ListAfter", mock.Anything, 9, int64(3), 50).Return([]models.Message{
		{RoomID: 9, Seq: 4, SenderID: 2, Content: "hello"},
	}, nil).Once()
	f.messages.On("MarkReadForUser", mock.Anything, 9, 1).Return(nil).Once()

	rec := f.do(http.MethodGet, "/chat/rooms/9/messages?after=3&limit=50", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, int64(4), resp.Messages[0].Seq)

	f.messages.AssertExpectations(t)
}

func TestGetRoomMessagesEmptyBody(t *testing.T) {
	f := newRoomFixture()

	room := models.Room{ID: 9, User1ID: 1, User2ID: 2}
	f.rooms.On("Find", mock.Anything, 9).Return(room, nil).Twice()
	f.messages.On("ListAfter", mock.Anything, 9, int64(0), 0).Return(([]models.Message)(nil), nil).Once()
	f.messages.On("MarkReadForUser", mock.Anything, 9, 1).Return(nil).Once()

	rec := f.do(http.MethodGet, "/chat/rooms/9/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	// nil history serializes as an empty array, not null.
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestGetRoomMessagesForbidden(t *testing.T) {
	f := newRoomFixture()

	f.rooms.On("Find", mock.Anything, 9).Return(models.Room{ID: 9, User1ID: 2, User2ID: 3}, nil).Once()

	rec := f.do(http.MethodGet, "/chat/rooms/9/messages", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	f.messages.AssertNotCalled(t, "ListAfter", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetRoomMessagesNotFound(t *testing.T) {
	f := newRoomFixture()

	f.rooms.On("Find", mock.Anything, 99).Return(models.Room{}, repositories.ErrRoomNotFound).Once()

	rec := f.do(http.MethodGet, "/chat/rooms/99/messages", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRoomMessagesInvalidID(t *testing.T) {
	f := newRoomFixture()

	rec := f.do(http.MethodGet, "/chat/rooms/abc/messages", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnread(t *testing.T) {
	f := newRoomFixture()

	f.dispatcher.OnUndelivered(1, 9)
	f.dispatcher.OnUndelivered(1, 9)
	f.dispatcher.OnUndelivered(1, 11)

	rec := f.do(http.MethodGet, "/chat/unread", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Total int         `json:"total"`
		Rooms map[int]int `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, map[int]int{9: 2, 11: 1}, resp.Rooms)
}
