package models

import "time"

// Frame type tags. Every frame on the wire carries exactly one of these.
const (
	// client -> server
	FrameAuth      = "auth"
	FrameSubscribe = "subscribe"
	FrameMessage   = "message"

	// server -> client
	FrameAuthAck    = "auth_ack"
	FrameSubscribed = "subscribed"
	FrameDelivery   = "message"
	FrameAck        = "ack"
	FrameError      = "error"
)

// Error codes carried by error frames.
const (
	CodeAuthFailed       = "auth_failed"
	CodeNotParticipant   = "not_participant"
	CodeRoomNotFound     = "room_not_found"
	CodeEmptyMessage     = "empty_message"
	CodeSlowConsumer     = "slow_consumer"
	CodeStoreUnavailable = "store_unavailable"
	CodeBadFrame         = "bad_frame"
)

// ClientFrame is a frame received from a client. Type selects which fields
// are meaningful: auth carries Token; subscribe carries RoomID or
// (ListingID, PeerID); message carries RoomID and Content.
type ClientFrame struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	RoomID    int    `json:"room_id,omitempty"`
	ListingID int    `json:"listing_id,omitempty"`
	PeerID    int    `json:"peer_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// ServerFrame is a frame sent to a client.
type ServerFrame struct {
	Type      string     `json:"type"`
	UserID    int        `json:"user_id,omitempty"`
	RoomID    int        `json:"room_id,omitempty"`
	Unread    int        `json:"unread,omitempty"`
	SenderID  int        `json:"sender_id,omitempty"`
	Content   string     `json:"content,omitempty"`
	Seq       int64      `json:"seq,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Code      string     `json:"code,omitempty"`
	Detail    string     `json:"detail,omitempty"`
}

// DeliveryFrame builds the server frame that carries a relayed message.
func DeliveryFrame(msg Message) ServerFrame {
	ts := msg.CreatedAt
	return ServerFrame{
		Type:      FrameDelivery,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		Seq:       msg.Seq,
		Timestamp: &ts,
	}
}

// AckFrame builds the acknowledgement returned to a sender.
func AckFrame(roomID int, seq int64) ServerFrame {
	return ServerFrame{Type: FrameAck, RoomID: roomID, Seq: seq}
}

// ErrorFrame builds an error frame.
func ErrorFrame(code, detail string) ServerFrame {
	return ServerFrame{Type: FrameError, Code: code, Detail: detail}
}
