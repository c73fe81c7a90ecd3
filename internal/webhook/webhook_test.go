package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/heyitsk/autoCrawler/internal/hybridcrawl"
)

func TestNotifierPostsOnComplete(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var received Payload
	var gotCall bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&received)
		gotCall = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, time.Second, zap.NewNop())
	sink := n.SinkFor("job-1")
	sink.Publish(hybridcrawl.Event{Type: hybridcrawl.EventComplete, TotalPages: 3})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		called := gotCall
		mu.Unlock()
		if called {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !gotCall {
		t.Fatal("expected webhook to be called")
	}
	if received.JobID != "job-1" || received.Event.TotalPages != 3 {
		t.Fatalf("unexpected payload: %+v", received)
	}
}

func TestNotifierIgnoresNonCompleteEvents(t *testing.T) {
	t.Parallel()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, time.Second, zap.NewNop())
	sink := n.SinkFor("job-2")
	sink.Publish(hybridcrawl.Event{Type: hybridcrawl.EventProgress})

	time.Sleep(50 * time.Millisecond)
	if called {
		t.Fatal("expected non-complete events not to trigger a webhook call")
	}
}

func TestNotifierWithoutURLIsNoop(t *testing.T) {
	t.Parallel()

	n := New("", 0, zap.NewNop())
	sink := n.SinkFor("job-3")
	sink.Publish(hybridcrawl.Event{Type: hybridcrawl.EventComplete})
}
