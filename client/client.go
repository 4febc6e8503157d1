// Package client is the Go counterpart of the chat service's wire protocol:
// it dials the websocket endpoint, runs the auth handshake, subscribes to a
// room and hands live deliveries to the caller. On an unexpected disconnect
// it reconnects with exponential backoff and fills the gap from the history
// endpoint before resuming live delivery, so no message is lost or
// duplicated across the reconnect boundary.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"marketplace-chat-service/internal/models"
)

// ErrClosed is returned by Send after the client has been closed.
var ErrClosed = errors.New("chat client closed")

// Options configure a chat client.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://host:8083/ws/chat.
	URL string
	// HistoryBaseURL is the REST base used for gap fill, e.g. http://host:8083.
	HistoryBaseURL string
	// Token is the bearer token sent in the auth handshake frame.
	Token string

	// RoomID subscribes to an existing room. When zero, ListingID (and
	// optionally PeerID) open the room implicitly.
	RoomID    int
	ListingID int
	PeerID    int

	// OnMessage receives every delivery, live or replayed, in sequence order.
	OnMessage func(models.Message)
	// OnUnread receives the unread count flushed on subscribe. Optional.
	OnUnread func(roomID int, unread int)
	// OnReconnecting is invoked before each reconnection attempt. Optional.
	OnReconnecting func(wait time.Duration)

	// InitialBackoff and MaxBackoff bound the reconnect schedule.
	// Defaults: 1s and 30s, with jitter.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client is a reconnecting chat connection for one room.
type Client struct {
	opts   Options
	dialer *websocket.Dialer
	http   *http.Client

	mu      sync.Mutex
	conn    *websocket.Conn
	roomID  int
	lastSeq int64
	closed  bool
}

// New constructs a Client. Call Run to connect.
func New(opts Options) *Client {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Client{
		opts:   opts,
		dialer: websocket.DefaultDialer,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// LastSeq returns the highest sequence number observed so far.
func (c *Client) LastSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// RoomID returns the subscribed room id once known.
func (c *Client) RoomID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Run connects and serves deliveries until ctx is cancelled or Close is
// called. Unexpected disconnects trigger the reconnect policy; an explicit
// Close suppresses it.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.InitialBackoff
	bo.MaxInterval = c.opts.MaxBackoff
	bo.MaxElapsedTime = 0

	for {
		err := c.session(ctx)
		if c.isClosed() || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Printf("chat session ended: %v", err)
		}

		wait := bo.NextBackOff()
		if c.opts.OnReconnecting != nil {
			c.opts.OnReconnecting(wait)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connection lifetime: dial, handshake, subscribe, gap
// fill, then live delivery until the connection drops.
func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.setConn(conn)
	defer func() {
		c.setConn(nil)
		conn.Close()
	}()

	if err := conn.WriteJSON(models.ClientFrame{Type: models.FrameAuth, Token: c.opts.Token}); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if _, err := c.expect(conn, models.FrameAuthAck); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	sub := models.ClientFrame{Type: models.FrameSubscribe, RoomID: c.RoomID()}
	if sub.RoomID == 0 {
		sub.RoomID = c.opts.RoomID
	}
	if sub.RoomID == 0 {
		sub.ListingID = c.opts.ListingID
		sub.PeerID = c.opts.PeerID
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	subscribed, err := c.expect(conn, models.FrameSubscribed)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	c.mu.Lock()
	c.roomID = subscribed.RoomID
	c.mu.Unlock()
	if c.opts.OnUnread != nil && subscribed.Unread > 0 {
		c.opts.OnUnread(subscribed.RoomID, subscribed.Unread)
	}

	if err := c.catchUp(ctx, subscribed.RoomID); err != nil {
		return fmt.Errorf("history: %w", err)
	}

	for {
		var frame models.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		c.handle(frame)
	}
}

// expect reads server frames until one of the wanted type arrives. An error
// frame aborts the wait.
func (c *Client) expect(conn *websocket.Conn, frameType string) (models.ServerFrame, error) {
	for {
		var frame models.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return models.ServerFrame{}, err
		}
		if frame.Type == models.FrameError {
			return models.ServerFrame{}, fmt.Errorf("%s: %s", frame.Code, frame.Detail)
		}
		if frame.Type == frameType {
			return frame, nil
		}
		c.handle(frame)
	}
}

// catchUp fetches messages after the last observed sequence over REST and
// replays them. Idempotent: re-fetching after a failed attempt cannot
// duplicate deliveries because handle drops already-seen sequences.
func (c *Client) catchUp(ctx context.Context, roomID int) error {
	if c.opts.HistoryBaseURL == "" {
		return nil
	}

	url := fmt.Sprintf("%s/chat/rooms/%d/messages?after=%d", c.opts.HistoryBaseURL, roomID, c.LastSeq())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	for _, msg := range body.Messages {
		c.deliver(msg)
	}
	return nil
}

func (c *Client) handle(frame models.ServerFrame) {
	switch frame.Type {
	case models.FrameDelivery:
		msg := models.Message{
			RoomID:   frame.RoomID,
			Seq:      frame.Seq,
			SenderID: frame.SenderID,
			Content:  frame.Content,
		}
		if frame.Timestamp != nil {
			msg.CreatedAt = *frame.Timestamp
		}
		c.deliver(msg)
	case models.FrameAck:
		c.advance(frame.Seq)
	case models.FrameError:
		log.Printf("chat error frame: %s: %s", frame.Code, frame.Detail)
	}
}

// deliver hands a message to the caller once, in sequence order.
func (c *Client) deliver(msg models.Message) {
	c.mu.Lock()
	if msg.Seq <= c.lastSeq {
		c.mu.Unlock()
		return
	}
	c.lastSeq = msg.Seq
	c.mu.Unlock()

	if c.opts.OnMessage != nil {
		c.opts.OnMessage(msg)
	}
}

func (c *Client) advance(seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.lastSeq {
		c.lastSeq = seq
	}
}

// Send writes one message frame for the subscribed room.
func (c *Client) Send(content string) error {
	c.mu.Lock()
	conn := c.conn
	roomID := c.roomID
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil || roomID == 0 {
		return errors.New("not connected")
	}
	return conn.WriteJSON(models.ClientFrame{Type: models.FrameMessage, RoomID: roomID, Content: content})
}

// Close shuts the client down. The close is user-initiated, so the
// reconnect policy is suppressed and Run returns.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
