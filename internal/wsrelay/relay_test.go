package wsrelay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/heyitsk/autoCrawler/internal/hybridcrawl"
)

func TestHubDeliversEventsToSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.ServeWS(w, r, "job-1"); err != nil {
			t.Logf("ServeWS ended: %v", err)
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial() error = %v", err)
	}
	defer conn.Close()

	// Give the server goroutine time to register the subscriber before
	// publishing, since registration happens after the upgrade completes.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		n := len(hub.subscribers["job-1"])
		hub.mu.RUnlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	sink := hub.SinkFor("job-1")
	sink.Publish(hybridcrawl.Event{Type: hybridcrawl.EventCrawlStart, SeedURL: "https://example.com"})

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if !strings.Contains(string(payload), "example.com") {
		t.Fatalf("expected payload to contain seed URL, got %s", payload)
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, "job-2")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial() error = %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		n := len(hub.subscribers["job-2"])
		hub.mu.RUnlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected subscriber to be unregistered after disconnect")
}

func TestBroadcastToNoSubscribersDoesNotBlock(t *testing.T) {
	t.Parallel()
	hub := NewHub(zap.NewNop())
	hub.SinkFor("job-none").Publish(hybridcrawl.Event{Type: hybridcrawl.EventProgress})
}
