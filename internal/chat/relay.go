package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"marketplace-chat-service/internal/models"
	"marketplace-chat-service/internal/observability"
	"marketplace-chat-service/internal/repositories"
)

// Sender is the relay's view of the connection attempting a send.
type Sender interface {
	// Identity returns the authenticated user id, or ok=false when the
	// connection has not completed the handshake.
	Identity() (userID int, ok bool)
}

// LiveIndex is the relay's view of the live-connection registry.
type LiveIndex interface {
	// Deliver pushes a frame to every live connection subscribed to the
	// room and returns the user ids that actually had it queued. A user
	// whose connections closed or overflowed mid-delivery is absent from
	// the set.
	Deliver(roomID int, frame models.ServerFrame) map[int]bool
}

// roomLockStripes bounds the per-room serialization locks. Distinct rooms
// may share a stripe; that only costs parallelism, never correctness.
const roomLockStripes = 64

// Relay orders, persists and fans out chat messages. Sends into the same
// room are serialized by a striped lock so the sequence order assigned by
// the store is also the order every subscriber observes; unrelated rooms
// mostly stay parallel.
type Relay struct {
	rooms      repositories.RoomRepository
	messages   repositories.MessageRepository
	live       LiveIndex
	dispatcher *Dispatcher

	roomLocks [roomLockStripes]sync.Mutex
}

// NewRelay constructs a Relay.
func NewRelay(rooms repositories.RoomRepository, messages repositories.MessageRepository, live LiveIndex, dispatcher *Dispatcher) *Relay {
	return &Relay{
		rooms:      rooms,
		messages:   messages,
		live:       live,
		dispatcher: dispatcher,
	}
}

func (r *Relay) roomLock(roomID int) *sync.Mutex {
	return &r.roomLocks[roomID%roomLockStripes]
}

// Send validates, persists and delivers one message, returning the stored
// message (carrying the assigned sequence number) for the sender's ack.
// Persist happens before any delivery: a store failure means nobody saw the
// message and the sender may retry.
func (r *Relay) Send(ctx context.Context, from Sender, roomID int, content string) (models.Message, error) {
	senderID, ok := from.Identity()
	if !ok {
		return models.Message{}, ErrUnauthenticated
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}

	lock := r.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := r.rooms.Find(ctx, roomID)
	if err != nil {
		return models.Message{}, err
	}
	if !room.HasParticipant(senderID) {
		return models.Message{}, ErrNotParticipant
	}

	msg, err := r.messages.Append(ctx, roomID, senderID, content)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Delivery state follows what the fan-out actually achieved, not a
	// pre-delivery liveness snapshot: a peer whose connection closes
	// between the subscription check and the enqueue counts as offline.
	reached := r.live.Deliver(roomID, models.DeliveryFrame(msg))

	peer := room.Peer(senderID)
	if reached[peer] {
		if err := r.messages.MarkDelivered(ctx, roomID, msg.Seq); err != nil {
			log.Printf("mark delivered room=%d seq=%d: %v", roomID, msg.Seq, err)
		}
	} else {
		r.dispatcher.OnUndelivered(peer, roomID)
		observability.IncUndelivered()
	}

	observability.IncMessageRelayed()
	return msg, nil
}

// History returns messages of the room with seq greater than afterSeq in
// ascending order. Restartable: callers re-issue with the last seq they saw.
func (r *Relay) History(ctx context.Context, roomID int, afterSeq int64, limit int) ([]models.Message, error) {
	if _, err := r.rooms.Find(ctx, roomID); err != nil {
		return nil, err
	}
	return r.messages.ListAfter(ctx, roomID, afterSeq, limit)
}
