package models

import "time"

// Room is the durable chat channel between exactly two users, scoped to one listing.
// The pair is stored sorted (User1ID < User2ID) so lookups are order-independent.
type Room struct {
	ID        int       `db:"id" json:"id"`
	ListingID int       `db:"listing_id" json:"listing_id"`
	User1ID   int       `db:"user1_id" json:"user1_id"`
	User2ID   int       `db:"user2_id" json:"user2_id"`
	LastSeq   int64     `db:"last_seq" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether userID is one of the room's two participants.
func (r Room) HasParticipant(userID int) bool {
	return r.User1ID == userID || r.User2ID == userID
}

// Peer returns the other participant of the room.
func (r Room) Peer(userID int) int {
	if r.User1ID == userID {
		return r.User2ID
	}
	return r.User1ID
}

// RoomSummary is the API-facing view of a room for one user.
type RoomSummary struct {
	RoomID    int       `db:"id" json:"room_id"`
	ListingID int       `db:"listing_id" json:"listing_id"`
	PeerID    int       `json:"peer_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
