package chat_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketplace-chat-service/internal/chat"
	"marketplace-chat-service/internal/mocks"
	"marketplace-chat-service/internal/repositories"
)

func TestDispatcherCounts(t *testing.T) {
	d := chat.NewDispatcher(new(mocks.MessageRepositoryMock))

	d.OnUndelivered(2, 9)
	d.OnUndelivered(2, 9)
	d.OnUndelivered(2, 11)
	d.OnUndelivered(3, 9)

	require.Equal(t, 3, d.TotalUnread(2))
	require.Equal(t, 1, d.TotalUnread(3))
	require.Equal(t, 0, d.TotalUnread(4))
	require.Equal(t, map[int]int{9: 2, 11: 1}, d.PerRoom(2))
}

func TestDispatcherOnSubscribeFlushesOnce(t *testing.T) {
	d := chat.NewDispatcher(new(mocks.MessageRepositoryMock))

	d.OnUndelivered(2, 9)
	d.OnUndelivered(2, 9)

	require.Equal(t, 2, d.OnSubscribe(2, 9))
	// The counter resets on the first flush.
	require.Equal(t, 0, d.OnSubscribe(2, 9))
	require.Equal(t, 0, d.TotalUnread(2))
}

func TestDispatcherOnSubscribeLeavesOtherRooms(t *testing.T) {
	d := chat.NewDispatcher(new(mocks.MessageRepositoryMock))

	d.OnUndelivered(2, 9)
	d.OnUndelivered(2, 11)

	require.Equal(t, 1, d.OnSubscribe(2, 9))
	require.Equal(t, 1, d.TotalUnread(2))
	require.Equal(t, map[int]int{11: 1}, d.PerRoom(2))
}

func TestDispatcherRebuild(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	d := chat.NewDispatcher(messages)

	d.OnUndelivered(7, 1) // stale counter, replaced by the rebuild

	messages.On("QueuedCounts", mock.Anything).Return([]repositories.RoomUnread{
		{UserID: 2, RoomID: 9, Count: 4},
		{UserID: 3, RoomID: 9, Count: 1},
	}, nil).Once()

	require.NoError(t, d.Rebuild(context.Background()))
	require.Equal(t, 4, d.TotalUnread(2))
	require.Equal(t, 1, d.TotalUnread(3))
	require.Equal(t, 0, d.TotalUnread(7))
	messages.AssertExpectations(t)
}

func TestDispatcherRebuildStoreError(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	d := chat.NewDispatcher(messages)

	messages.On("QueuedCounts", mock.Anything).Return(([]repositories.RoomUnread)(nil), context.DeadlineExceeded).Once()

	require.Error(t, d.Rebuild(context.Background()))
}
