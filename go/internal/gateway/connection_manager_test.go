package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcdev12/tavern/go/internal/models"
)

func startManager(t *testing.T, handler MessageHandler, greeting any) (*ConnectionManager, *httptest.Server) {
	t.Helper()
	cm := NewConnectionManager(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go cm.Start(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := cm.UpgradeConnection(w, r, r.URL.Query().Get("room"), models.Actor{ID: "u1"}, handler)
		if err != nil {
			return
		}
		if greeting != nil {
			cm.SendToConnection(conn, greeting)
		}
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return cm, srv
}

func dial(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?room=" + room
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	var msg map[string]any
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestBroadcastReachesRoomOnly(t *testing.T) {
	cm, srv := startManager(t, nil, map[string]string{"type": "hello"})

	a := dial(t, srv, "map-a")
	b := dial(t, srv, "map-b")
	if msg := readJSON(t, a); msg["type"] != "hello" {
		t.Fatalf("greeting = %v", msg)
	}
	if msg := readJSON(t, b); msg["type"] != "hello" {
		t.Fatalf("greeting = %v", msg)
	}

	cm.Broadcast("map-a", map[string]string{"type": "addToken"})
	cm.Broadcast("map-b", map[string]string{"type": "deleteToken"})

	if msg := readJSON(t, a); msg["type"] != "addToken" {
		t.Fatalf("map-a got %v", msg)
	}
	if msg := readJSON(t, b); msg["type"] != "deleteToken" {
		t.Fatalf("map-b got %v", msg)
	}

	stats := cm.ConnectionStats()
	if stats.TotalConnections != 2 || stats.ActiveRooms != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestClientMessagesReachHandler(t *testing.T) {
	received := make(chan string, 1)
	_, srv := startManager(t, func(c *Connection, message []byte) {
		received <- c.Actor.ID + ":" + string(message)
	}, nil)

	ws := dial(t, srv, "map-a")
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"reorder"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-received:
		if got != `u1:{"type":"reorder"}` {
			t.Fatalf("handler got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not called")
	}
}

func TestStatsDropClosedConnections(t *testing.T) {
	cm, srv := startManager(t, nil, map[string]string{"type": "hello"})

	ws := dial(t, srv, "map-a")
	readJSON(t, ws)
	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cm.ConnectionStats().TotalConnections == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connection still registered: %+v", cm.ConnectionStats())
}

func TestFullQueueDisconnectsRecipients(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.QueueSize = 1
	cfg.EnqueueTimeout = 20 * time.Millisecond
	cm := NewConnectionManager(cfg)
	// Start is not running, so nothing drains the queue

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = cm.UpgradeConnection(w, r, r.URL.Query().Get("room"), models.Actor{ID: "u1"}, nil)
	}))
	defer srv.Close()

	a := dial(t, srv, "map-a")
	dial(t, srv, "map-b")
	deadline := time.Now().Add(2 * time.Second)
	for cm.ConnectionStats().TotalConnections != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("connections not registered: %+v", cm.ConnectionStats())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cm.Broadcast("map-a", map[string]string{"type": "updateToken"})
	cm.Broadcast("map-a", map[string]string{"type": "updateToken"})

	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := a.ReadMessage(); err == nil {
		t.Fatalf("expected map-a to be disconnected")
	} else if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		t.Fatalf("map-a was left connected: %v", err)
	}

	stats := cm.ConnectionStats()
	if stats.RoomConnections["map-a"] != 0 || stats.RoomConnections["map-b"] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
