package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(func() { _ = hub.Stop(context.Background()) })
	return hub
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", want, hub.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	hub := startHub(t)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	conn := dial(t, server)
	waitForSubscribers(t, hub, 1)

	hub.Publish(KindMint, map[string]interface{}{"tokenId": "DTS_abc"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var note Notification
	if err := json.Unmarshal(msg, &note); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if note.Type != KindMint {
		t.Fatalf("expected %s, got %s", KindMint, note.Type)
	}
	data, ok := note.Data.(map[string]interface{})
	if !ok || data["tokenId"] != "DTS_abc" {
		t.Fatalf("unexpected payload %v", note.Data)
	}
	if note.Timestamp.IsZero() {
		t.Fatalf("timestamp not stamped")
	}
}

func TestDisconnectReleasesSubscriber(t *testing.T) {
	hub := startHub(t)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	conn := dial(t, server)
	waitForSubscribers(t, hub, 1)

	conn.Close()
	waitForSubscribers(t, hub, 0)
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	hub := startHub(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastDepth*2; i++ {
			hub.Publish(KindInteraction, map[string]interface{}{"n": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := hub.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := hub.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
