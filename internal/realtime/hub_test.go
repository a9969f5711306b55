package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muatool/dashboard/internal/events"
)

var testUpgrader = websocket.Upgrader{}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ServeWS(hub, conn, r.URL.Query().Get("id"))
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestPingGetsPong(t *testing.T) {
	_, srv := startHub(t)
	conn := dial(t, srv, "ui-1")

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)
}

func TestBroadcastReachesClients(t *testing.T) {
	hub, srv := startHub(t)
	a := dial(t, srv, "a")
	b := dial(t, srv, "b")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.True(t, hub.Broadcast(Message{Type: events.TopicNotice, Data: events.NoticeEvent{Title: "t", Message: "m"}}))

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, events.TopicNotice, msg.Type)
		assert.False(t, msg.Timestamp.IsZero())
		data, _ := msg.Data.(map[string]any)
		assert.Equal(t, "m", data["message"])
	}
}

func TestStickyTopicReplayedToLateClient(t *testing.T) {
	hub, srv := startHub(t)
	early := dial(t, srv, "early")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(Message{Type: events.TopicConnection, Data: events.ConnectionEvent{Status: "connected"}})
	hub.Broadcast(Message{Type: events.TopicNotice, Data: events.NoticeEvent{Title: "once"}})
	readMessage(t, early)
	readMessage(t, early)

	late := dial(t, srv, "late")
	msg := readMessage(t, late)
	assert.Equal(t, events.TopicConnection, msg.Type)
}

func TestAttachForwardsSubjectEvents(t *testing.T) {
	hub, srv := startHub(t)
	subject := events.NewSubject()
	t.Cleanup(func() { events.Complete(subject) })
	hub.Attach(subject)

	conn := dial(t, srv, "ui")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, events.Emit(subject, events.TopicTool, events.ToolEvent{ToolType: "ahrefs", AccountID: "7", State: "open", Windows: 1}))

	msg := readMessage(t, conn)
	assert.Equal(t, events.TopicTool, msg.Type)
	data, _ := msg.Data.(map[string]any)
	assert.Equal(t, "ahrefs", data["toolType"])
}

func TestSameIDReplacesClient(t *testing.T) {
	hub, srv := startHub(t)
	first := dial(t, srv, "dup")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	dial(t, srv, "dup")

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestBroadcastAfterStop(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	for i := 0; i < 100; i++ {
		if !hub.Broadcast(Message{Type: "x"}) {
			return
		}
	}
	t.Fatal("broadcast kept succeeding after stop")
}
