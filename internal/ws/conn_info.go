package ws

import "time"

// ConnInfo carries request-scoped metadata of a websocket connection, used
// for event envelopes and audit trails. UserID is zero until the handshake
// completes.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
