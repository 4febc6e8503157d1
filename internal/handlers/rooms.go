package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"marketplace-chat-service/internal/chat"
	"marketplace-chat-service/internal/clients"
	"marketplace-chat-service/internal/models"
	"marketplace-chat-service/internal/repositories"
	"marketplace-chat-service/internal/telemetry"
)

// RoomHandler serves the REST surface of the chat subsystem: room listing,
// explicit room creation and history fetch.
type RoomHandler struct {
	registry   *chat.Registry
	relay      *chat.Relay
	dispatcher *chat.Dispatcher
	rooms      repositories.RoomRepository
	messages   repositories.MessageRepository
	listings   clients.ListingService
	audit      *telemetry.AuditEmitter
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(registry *chat.Registry, relay *chat.Relay, dispatcher *chat.Dispatcher,
	rooms repositories.RoomRepository, messages repositories.MessageRepository,
	listings clients.ListingService, audit *telemetry.AuditEmitter) *RoomHandler {
	return &RoomHandler{
		registry:   registry,
		relay:      relay,
		dispatcher: dispatcher,
		rooms:      rooms,
		messages:   messages,
		listings:   listings,
		audit:      audit,
	}
}

// ListRooms returns the caller's rooms with counter-party names and unread counts.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	userID := c.GetInt("userID")

	rooms, err := h.rooms.ListRoomsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}

	peerIDs := make([]int, 0, len(rooms))
	seen := map[int]struct{}{}
	for _, room := range rooms {
		if _, ok := seen[room.PeerID]; !ok {
			seen[room.PeerID] = struct{}{}
			peerIDs = append(peerIDs, room.PeerID)
		}
	}

	users, err := h.listings.BulkUsers(c.Request.Context(), peerIDs)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load user info"})
		return
	}
	nameByID := map[int]string{}
	for _, u := range users {
		nameByID[u.ID] = u.FullName
	}

	unread := h.dispatcher.PerRoom(userID)

	type roomResponse struct {
		RoomID    int       `json:"room_id"`
		ListingID int       `json:"listing_id"`
		PeerID    int       `json:"peer_id"`
		PeerName  string    `json:"peer_name,omitempty"`
		Unread    int       `json:"unread"`
		CreatedAt time.Time `json:"created_at"`
	}

	responses := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		responses = append(responses, roomResponse{
			RoomID:    room.RoomID,
			ListingID: room.ListingID,
			PeerID:    room.PeerID,
			PeerName:  nameByID[room.PeerID],
			Unread:    unread[room.RoomID],
			CreatedAt: room.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"rooms": responses})
}

// StartRoom creates or returns the room for (listing, caller, peer). The
// peer defaults to the listing owner when omitted.
func (h *RoomHandler) StartRoom(c *gin.Context) {
	var req struct {
		ListingID int `json:"listing_id" binding:"required"`
		PeerID    int `json:"peer_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	room, err := h.registry.OpenForListing(c.Request.Context(), req.ListingID, userID, req.PeerID)
	if err != nil {
		switch {
		case errors.Is(err, clients.ErrListingNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		case errors.Is(err, chat.ErrOwnListing):
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open room"})
		}
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO",
		fmt.Sprintf("room %d opened for listing %d", room.ID, room.ListingID),
		requestIDFromContext(c), userIDFromContext(c))

	c.JSON(http.StatusOK, gin.H{"room_id": room.ID, "listing_id": room.ListingID})
}

// GetRoomMessages returns room history after a sequence number, ascending.
// Fetching history is the read signal: delivered messages addressed to the
// caller flip to read.
func (h *RoomHandler) GetRoomMessages(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	afterSeq, _ := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	userID := c.GetInt("userID")
	room, err := h.rooms.Find(c.Request.Context(), roomID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "room not found"})
		return
	}
	if !room.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room participant"})
		return
	}

	msgs, err := h.relay.History(c.Request.Context(), roomID, afterSeq, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	if err := h.messages.MarkReadForUser(c.Request.Context(), roomID, userID); err != nil {
		// Read-state is best effort; history itself already succeeded.
		requestID := requestIDFromContext(c)
		h.audit.Emit(c.Request.Context(), "WARN",
			fmt.Sprintf("mark read failed for room %d: %v", roomID, err), requestID, userIDFromContext(c))
	}

	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Unread reports the caller's unread counters for the notification badge.
func (h *RoomHandler) Unread(c *gin.Context) {
	userID := c.GetInt("userID")
	c.JSON(http.StatusOK, gin.H{
		"total": h.dispatcher.TotalUnread(userID),
		"rooms": h.dispatcher.PerRoom(userID),
	})
}
