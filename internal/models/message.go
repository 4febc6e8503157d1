package models

import "time"

// Delivery states of a message.
const (
	StatusQueued    = "queued"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Message is a chat message. Immutable after creation except for the status column.
// Seq is the per-room, strictly increasing sequence number that totally orders
// messages within the room; there is exactly one message per (room, seq).
type Message struct {
	ID        int       `db:"id" json:"id"`
	RoomID    int       `db:"room_id" json:"room_id"`
	Seq       int64     `db:"seq" json:"seq"`
	SenderID  int       `db:"sender_id" json:"sender_id"`
	Content   string    `db:"content" json:"content"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"timestamp"`
}
