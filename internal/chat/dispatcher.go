package chat

import (
	"context"
	"log"
	"sync"

	"marketplace-chat-service/internal/repositories"
)

// Dispatcher tracks unread counts per (user, room). Counters are
// process-local and rebuilt from still-queued message rows on startup.
type Dispatcher struct {
	mu     sync.Mutex
	counts map[int]map[int]int // user id -> room id -> unread

	messages repositories.MessageRepository
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(messages repositories.MessageRepository) *Dispatcher {
	return &Dispatcher{
		counts:   make(map[int]map[int]int),
		messages: messages,
	}
}

// Rebuild recomputes every counter from the store.
func (d *Dispatcher) Rebuild(ctx context.Context) error {
	queued, err := d.messages.QueuedCounts(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts = make(map[int]map[int]int)
	for _, row := range queued {
		if d.counts[row.UserID] == nil {
			d.counts[row.UserID] = make(map[int]int)
		}
		d.counts[row.UserID][row.RoomID] = row.Count
	}
	log.Printf("unread counters rebuilt for %d users", len(d.counts))
	return nil
}

// OnUndelivered records one message the user did not receive live.
func (d *Dispatcher) OnUndelivered(userID int, roomID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.counts[userID] == nil {
		d.counts[userID] = make(map[int]int)
	}
	d.counts[userID][roomID]++
}

// OnSubscribe flushes the user's counter for the room to zero and returns
// the prior count, so the caller can render the badge once before it resets.
func (d *Dispatcher) OnSubscribe(userID int, roomID int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	rooms := d.counts[userID]
	if rooms == nil {
		return 0
	}
	prior := rooms[roomID]
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(d.counts, userID)
	}
	return prior
}

// TotalUnread sums the user's counters across rooms.
func (d *Dispatcher) TotalUnread(userID int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, n := range d.counts[userID] {
		total += n
	}
	return total
}

// PerRoom returns a copy of the user's per-room counters.
func (d *Dispatcher) PerRoom(userID int) map[int]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[int]int, len(d.counts[userID]))
	for roomID, n := range d.counts[userID] {
		out[roomID] = n
	}
	return out
}
