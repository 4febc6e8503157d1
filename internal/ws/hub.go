package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"sync"

	"marketplace-chat-service/internal/models"
	"marketplace-chat-service/internal/observability"
)

// Hub maintains the live-connection indexes: which connections are
// subscribed to each room, and which connections belong to each user. A
// user may hold several connections (multiple devices); all subscribed ones
// receive deliveries.
type Hub struct {
	mu    sync.RWMutex
	rooms map[int]map[*Client]bool
	users map[int]map[*Client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[int]map[*Client]bool),
		users: make(map[int]map[*Client]bool),
	}
}

// Subscribe registers an authenticated connection in the room index and the
// per-user live index.
func (h *Hub) Subscribe(client *Client, roomID int) {
	userID, ok := client.Identity()
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[*Client]bool)
	}
	h.users[userID][client] = true
	client.addSubscription(roomID)
}

// Remove drops a connection from every index. Idempotent.
func (h *Hub) Remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, roomID := range client.Subscriptions() {
		if conns, ok := h.rooms[roomID]; ok {
			delete(conns, client)
			if len(conns) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	// boundUser, not Identity: the client is usually Closed by the time it
	// gets here, and the user index must still be cleaned up.
	if userID, ok := client.boundUser(); ok {
		if conns, ok := h.users[userID]; ok {
			delete(conns, client)
			if len(conns) == 0 {
				delete(h.users, userID)
			}
		}
	}
}

// Close tears a connection down: removes it from the indexes, closes its
// outbound queue and the socket. Safe to call twice and safe to call
// concurrently with an in-flight delivery.
func (h *Hub) Close(client *Client, reason string) {
	if !client.markClosed() {
		return
	}
	h.Remove(client)

	observability.DecWSActive("chat")
	observability.IncWSEvent("chat", "ws_disconnect")
	h.publishWSEvent(client, "ws_disconnect", reason)
}

// Deliver pushes a frame to every live connection subscribed to the room
// and returns the set of user ids that had the frame queued on at least one
// connection. Connections racing with teardown drop the frame and are not
// counted, so a user whose last connection closed mid-delivery reads as
// offline. Slow consumers whose queue is full are closed instead of
// buffered without bound, and are not counted either.
func (h *Hub) Deliver(roomID int, frame models.ServerFrame) map[int]bool {
	reached := make(map[int]bool)

	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("marshal delivery frame: %v", err)
		return reached
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range targets {
		queued, closed := client.enqueueRaw(payload)
		switch {
		case queued:
			if userID, ok := client.boundUser(); ok {
				reached[userID] = true
			}
		case closed:
			// Racing with teardown: the user is offline for this frame.
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		log.Printf("closing slow consumer conn=%s room=%d", client.ID, roomID)
		observability.IncWSEvent("chat", "ws_slow_consumer")
		h.Close(client, models.CodeSlowConsumer)
	}
	return reached
}

// UserSubscribed reports whether the user has at least one live connection
// subscribed to the room.
func (h *Hub) UserSubscribed(userID int, roomID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.users[userID] {
		if h.rooms[roomID][client] {
			return true
		}
	}
	return false
}

func (h *Hub) publishWSEvent(client *Client, event, reason string) {
	info := client.Info
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.TraceHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.chat",
		observability.NewEnvelope("ws_events", event, payload), headers)
}
