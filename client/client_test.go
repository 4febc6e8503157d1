package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-chat-service/internal/models"
)

func TestDeliverDropsDuplicates(t *testing.T) {
	var got []int64
	c := New(Options{OnMessage: func(m models.Message) { got = append(got, m.Seq) }})

	c.deliver(models.Message{Seq: 1})
	c.deliver(models.Message{Seq: 2})
	c.deliver(models.Message{Seq: 2})
	c.deliver(models.Message{Seq: 1})
	c.deliver(models.Message{Seq: 3})

	require.Equal(t, []int64{1, 2, 3}, got)
	require.Equal(t, int64(3), c.LastSeq())
}

func TestAckAdvancesLastSeq(t *testing.T) {
	c := New(Options{})

	c.handle(models.ServerFrame{Type: models.FrameAck, Seq: 5})
	require.Equal(t, int64(5), c.LastSeq())

	// A stale ack never rewinds the cursor.
	c.handle(models.ServerFrame{Type: models.FrameAck, Seq: 3})
	require.Equal(t, int64(5), c.LastSeq())
}

func TestSendBeforeConnect(t *testing.T) {
	c := New(Options{})
	require.Error(t, c.Send("hi"))

	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Send("hi"), ErrClosed)
}

func TestDefaults(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, time.Second, c.opts.InitialBackoff)
	assert.Equal(t, 30*time.Second, c.opts.MaxBackoff)
}

// testServer fakes the chat service: a websocket endpoint that runs the
// handshake and a history endpoint for gap fill.
type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	sessions     atomic.Int32
	historyAfter atomic.Int64
	history      []models.Message

	// script runs one accepted, subscribed connection.
	script func(session int32, conn *websocket.Conn)
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", ts.handleWS)
	mux.HandleFunc("/chat/rooms/9/messages", ts.handleHistory)
	ts.srv = httptest.NewServer(mux)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/chat"
}

func (ts *testServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := ts.upgrader.Upgrade(w, r, nil)
	require.NoError(ts.t, err)
	defer conn.Close()

	var auth models.ClientFrame
	require.NoError(ts.t, conn.ReadJSON(&auth))
	require.Equal(ts.t, models.FrameAuth, auth.Type)
	require.Equal(ts.t, "tok", auth.Token)
	require.NoError(ts.t, conn.WriteJSON(models.ServerFrame{Type: models.FrameAuthAck, UserID: 1}))

	var sub models.ClientFrame
	require.NoError(ts.t, conn.ReadJSON(&sub))
	require.Equal(ts.t, models.FrameSubscribe, sub.Type)
	require.NoError(ts.t, conn.WriteJSON(models.ServerFrame{Type: models.FrameSubscribed, RoomID: 9, Unread: 2}))

	session := ts.sessions.Add(1)
	if ts.script != nil {
		ts.script(session, conn)
	}
}

func (ts *testServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	ts.historyAfter.Store(after)

	var out []models.Message
	for _, m := range ts.history {
		if m.Seq > after {
			out = append(out, m)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"messages": out})
}

func delivery(seq int64) models.ServerFrame {
	return models.ServerFrame{Type: models.FrameDelivery, RoomID: 9, Seq: seq, SenderID: 2, Content: "m"}
}

func TestRunSessionDeliversInOrder(t *testing.T) {
	ts := newTestServer(t)
	ts.script = func(_ int32, conn *websocket.Conn) {
		// Write errors are tolerated: the client may already be gone.
		conn.WriteJSON(delivery(1))
		conn.WriteJSON(delivery(1)) // duplicate
		conn.WriteJSON(delivery(2))
		time.Sleep(200 * time.Millisecond)
	}

	msgs := make(chan models.Message, 8)
	unread := make(chan int, 1)
	c := New(Options{
		URL:       ts.wsURL(),
		Token:     "tok",
		RoomID:    9,
		OnMessage: func(m models.Message) { msgs <- m },
		OnUnread:  func(_ int, n int) { unread <- n },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	require.Equal(t, 2, waitFor(t, unread))
	require.Equal(t, int64(1), waitFor(t, msgs).Seq)
	require.Equal(t, int64(2), waitFor(t, msgs).Seq)
	select {
	case m := <-msgs:
		t.Fatalf("unexpected duplicate delivery seq=%d", m.Seq)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, c.Close())
	cancel()
	<-done
	require.Equal(t, 9, c.RoomID())
}

func TestRunReconnectFillsGap(t *testing.T) {
	ts := newTestServer(t)
	ts.history = []models.Message{
		{RoomID: 9, Seq: 1, SenderID: 2}, {RoomID: 9, Seq: 2, SenderID: 2}, {RoomID: 9, Seq: 3, SenderID: 2},
	}
	ts.script = func(session int32, conn *websocket.Conn) {
		if session == 1 {
			// Deliver one message, then drop the connection mid-room.
			conn.WriteJSON(delivery(1))
			time.Sleep(50 * time.Millisecond)
			conn.Close()
			return
		}
		// After the gap fill the live stream resumes past the history,
		// replaying the last stored seq to exercise dedupe.
		conn.WriteJSON(delivery(3))
		conn.WriteJSON(delivery(4))
		time.Sleep(200 * time.Millisecond)
	}

	msgs := make(chan models.Message, 16)
	c := New(Options{
		URL:            ts.wsURL(),
		HistoryBaseURL: ts.srv.URL,
		Token:          "tok",
		RoomID:         9,
		OnMessage:      func(m models.Message) { msgs <- m },
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	var seqs []int64
	for len(seqs) < 4 {
		seqs = append(seqs, waitFor(t, msgs).Seq)
	}
	require.Equal(t, []int64{1, 2, 3, 4}, seqs)
	// The second session asked history only for what it missed.
	require.Equal(t, int64(1), ts.historyAfter.Load())
	require.GreaterOrEqual(t, ts.sessions.Load(), int32(2))

	require.NoError(t, c.Close())
	cancel()
	<-done
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for value")
		panic("unreachable")
	}
}
