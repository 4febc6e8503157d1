package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketplace-chat-service/internal/models"
)

// Connection lifecycle states. Closed is terminal and reachable from any state.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateSubscribed
	StateClosed
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client owns one websocket connection: its handshake state, its room
// subscriptions and its bounded outbound queue. All per-connection state
// lives here, never in package globals.
type Client struct {
	ID   string
	Info ConnInfo

	conn *websocket.Conn
	send chan []byte

	mu            sync.Mutex
	state         State
	userID        int
	subscriptions map[int]bool

	closeOnce sync.Once
}

// NewClient wraps an accepted websocket connection. The connection starts in
// Connecting; traffic is refused until the auth handshake completes.
func NewClient(conn *websocket.Conn, sendBuffer int, info ConnInfo) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	c := &Client{
		ID:            uuid.NewString(),
		Info:          info,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		state:         StateConnecting,
		subscriptions: make(map[int]bool),
	}
	c.Info.ConnID = c.ID
	return c
}

// Identity returns the authenticated user id; ok is false before the
// handshake has completed.
func (c *Client) Identity() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated && c.state != StateSubscribed {
		return 0, false
	}
	return c.userID, true
}

// boundUser returns the user id bound at handshake regardless of state, so
// teardown can unindex a connection that is already Closed.
func (c *Client) boundUser() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.userID != 0
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = s
}

func (c *Client) setAuthenticated(userID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.userID = userID
	c.state = StateAuthenticated
}

func (c *Client) addSubscription(roomID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.subscriptions[roomID] = true
	c.state = StateSubscribed
}

// Subscriptions returns the room ids the connection is subscribed to.
func (c *Client) Subscriptions() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]int, 0, len(c.subscriptions))
	for roomID := range c.subscriptions {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Enqueue queues a frame for the write pump without blocking. It reports
// false when the queue is full: the connection is a slow consumer and must
// be closed rather than buffered without bound.
func (c *Client) Enqueue(frame models.ServerFrame) bool {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("marshal frame: %v", err)
		return true
	}
	queued, closed := c.enqueueRaw(payload)
	return queued || closed
}

// enqueueRaw attempts a non-blocking send. queued reports whether the frame
// actually entered the send queue; closed reports that the connection was
// already torn down and the frame was dropped. Both false means the queue is
// full: the connection is a slow consumer.
func (c *Client) enqueueRaw(payload []byte) (queued bool, closed bool) {
	// The mutex orders the send against markClosed closing the channel, so
	// a delivery racing with teardown is dropped instead of panicking.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false, true
	}

	select {
	case c.send <- payload:
		return true, false
	default:
		return false, false
	}
}

// WritePump drains the send queue onto the socket and keeps the connection
// alive with pings. Runs in its own goroutine; exits when the queue closes
// or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// markClosed transitions to Closed exactly once and reports whether this
// call performed the transition. The hub drives the actual teardown.
func (c *Client) markClosed() bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.mu.Lock()
		c.state = StateClosed
		close(c.send)
		c.mu.Unlock()
	})
	return first
}
