package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"marketplace-chat-service/internal/auth"
	"marketplace-chat-service/internal/chat"
	"marketplace-chat-service/internal/models"
	"marketplace-chat-service/internal/observability"
	"marketplace-chat-service/internal/repositories"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler accepts chat websocket connections and runs their frame loop.
// Authentication happens in-band: the first frame on a fresh connection must
// be an auth frame, inside the handshake timeout.
type Handler struct {
	hub        *Hub
	registry   *chat.Registry
	relay      *chat.Relay
	dispatcher *chat.Dispatcher
	validator  *auth.TokenValidator

	handshakeTimeout time.Duration
	sendBuffer       int
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, registry *chat.Registry, relay *chat.Relay, dispatcher *chat.Dispatcher, validator *auth.TokenValidator, handshakeTimeout time.Duration, sendBuffer int) *Handler {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &Handler{
		hub:              hub,
		registry:         registry,
		relay:            relay,
		dispatcher:       dispatcher,
		validator:        validator,
		handshakeTimeout: handshakeTimeout,
		sendBuffer:       sendBuffer,
	}
}

// Handle upgrades the connection and starts the per-connection goroutines.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("marketplace-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := NewClient(conn, h.sendBuffer, info)

	observability.IncWSActive("chat")
	observability.IncWSEvent("chat", "ws_connect")
	h.hub.publishWSEvent(client, "ws_connect", "")

	go client.WritePump()
	go h.readPump(context.WithoutCancel(ctx), client)
}

// readPump performs the auth handshake and then dispatches inbound frames
// until the connection drops.
func (h *Handler) readPump(ctx context.Context, client *Client) {
	closeReason := "peer_disconnect"
	defer func() {
		h.hub.Close(client, closeReason)
	}()

	if !h.handshake(client) {
		closeReason = models.CodeAuthFailed
		return
	}

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame models.ClientFrame
		if err := client.conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				closeReason = err.Error()
				observability.IncWSEvent("chat", "ws_error")
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch frame.Type {
		case models.FrameSubscribe:
			h.subscribe(ctx, client, frame)
		case models.FrameMessage:
			h.send(ctx, client, frame)
		case models.FrameAuth:
			client.Enqueue(models.ErrorFrame(models.CodeBadFrame, "already authenticated"))
		default:
			client.Enqueue(models.ErrorFrame(models.CodeBadFrame, "unknown frame type"))
		}
	}
}

// handshake waits for the auth frame and binds the user identity. Any
// failure (wrong frame, bad token, timeout) is fatal to the connection.
func (h *Handler) handshake(client *Client) bool {
	client.setState(StateAuthenticating)
	client.conn.SetReadDeadline(time.Now().Add(h.handshakeTimeout))

	var frame models.ClientFrame
	if err := client.conn.ReadJSON(&frame); err != nil {
		return false
	}
	if frame.Type != models.FrameAuth {
		client.Enqueue(models.ErrorFrame(models.CodeAuthFailed, "first frame must be auth"))
		return false
	}

	identity, err := h.validator.Validate(frame.Token)
	if err != nil {
		detail := "invalid token"
		if errors.Is(err, auth.ErrExpiredToken) {
			detail = "token expired"
		}
		client.Enqueue(models.ErrorFrame(models.CodeAuthFailed, detail))
		observability.IncWSEvent("chat", "ws_auth_failed")
		return false
	}

	client.setAuthenticated(identity.UserID)
	client.Info.UserID = identity.UserID
	client.Enqueue(models.ServerFrame{Type: models.FrameAuthAck, UserID: identity.UserID})
	return true
}

// subscribe resolves (or lazily creates) the room and registers the
// connection, flushing the unread counter into the subscribed frame.
func (h *Handler) subscribe(ctx context.Context, client *Client, frame models.ClientFrame) {
	userID, ok := client.Identity()
	if !ok {
		client.Enqueue(models.ErrorFrame(models.CodeAuthFailed, "not authenticated"))
		return
	}

	var (
		room models.Room
		err  error
	)
	switch {
	case frame.RoomID != 0:
		room, err = h.registry.Find(ctx, frame.RoomID)
		if err == nil && !room.HasParticipant(userID) {
			client.Enqueue(models.ErrorFrame(models.CodeNotParticipant, "not a room participant"))
			return
		}
	case frame.ListingID != 0:
		room, err = h.registry.OpenForListing(ctx, frame.ListingID, userID, frame.PeerID)
	default:
		client.Enqueue(models.ErrorFrame(models.CodeBadFrame, "subscribe needs room_id or listing_id"))
		return
	}
	if err != nil {
		client.Enqueue(models.ErrorFrame(subscribeErrorCode(err), err.Error()))
		return
	}

	h.hub.Subscribe(client, room.ID)
	unread := h.dispatcher.OnSubscribe(userID, room.ID)
	client.Enqueue(models.ServerFrame{Type: models.FrameSubscribed, RoomID: room.ID, Unread: unread})
	observability.IncWSEvent("chat", "ws_subscribe")
}

// send relays one message; rejections keep the connection open.
func (h *Handler) send(ctx context.Context, client *Client, frame models.ClientFrame) {
	msg, err := h.relay.Send(ctx, client, frame.RoomID, frame.Content)
	if err != nil {
		code := sendErrorCode(err)
		client.Enqueue(models.ErrorFrame(code, err.Error()))
		if code == models.CodeAuthFailed {
			h.hub.Close(client, models.CodeAuthFailed)
		}
		return
	}
	client.Enqueue(models.AckFrame(msg.RoomID, msg.Seq))
}

func subscribeErrorCode(err error) string {
	switch {
	case errors.Is(err, repositories.ErrRoomNotFound):
		return models.CodeRoomNotFound
	case errors.Is(err, chat.ErrOwnListing):
		return models.CodeBadFrame
	default:
		return models.CodeStoreUnavailable
	}
}

func sendErrorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		return models.CodeAuthFailed
	case errors.Is(err, chat.ErrNotParticipant):
		return models.CodeNotParticipant
	case errors.Is(err, chat.ErrEmptyMessage):
		return models.CodeEmptyMessage
	case errors.Is(err, repositories.ErrRoomNotFound):
		return models.CodeRoomNotFound
	default:
		return models.CodeStoreUnavailable
	}
}
