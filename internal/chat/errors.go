package chat

import "errors"

var (
	// ErrUnauthenticated rejects traffic from a connection that has not
	// completed the auth handshake.
	ErrUnauthenticated = errors.New("connection not authenticated")
	// ErrNotParticipant rejects a send from a user who is not one of the
	// room's two participants.
	ErrNotParticipant = errors.New("not a room participant")
	// ErrEmptyMessage rejects content that is blank after trimming.
	ErrEmptyMessage = errors.New("empty message")
	// ErrStoreUnavailable signals a persistence failure; the send is
	// retryable and nothing was delivered.
	ErrStoreUnavailable = errors.New("message store unavailable")
)
