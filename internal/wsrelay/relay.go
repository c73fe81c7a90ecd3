// Package wsrelay is crawlctl's realtime transport: it fans a job's
// hybridcrawl.Event stream out to zero or more gorilla/websocket
// connections subscribed to that job's ID. A Hub is the concrete,
// out-of-core answer to "external real-time transport" — the engine
// itself never imports this package.
package wsrelay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/heyitsk/autoCrawler/internal/hybridcrawl"
)

const (
	subscriberBuffer = 256
	writeTimeout     = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks live websocket subscribers per job ID and delivers events to
// them without blocking the crawl that produced the events.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	logger      *zap.Logger
}

type subscriber struct {
	events chan hybridcrawl.Event
	done   chan struct{}
}

// NewHub builds an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string][]*subscriber),
		logger:      logger,
	}
}

// SinkFor returns an EventSink that fans events for jobID out to every
// currently-registered websocket subscriber. Safe to pass directly as the
// sink argument to CrawlOne/CrawlRecursive.
func (h *Hub) SinkFor(jobID string) hybridcrawl.EventSink {
	return &jobSink{hub: h, jobID: jobID}
}

type jobSink struct {
	hub   *Hub
	jobID string
}

func (s *jobSink) Publish(evt hybridcrawl.Event) {
	s.hub.broadcast(s.jobID, evt)
}

func (h *Hub) broadcast(jobID string, evt hybridcrawl.Event) {
	h.mu.RLock()
	subs := append([]*subscriber(nil), h.subscribers[jobID]...)
	h.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub.events <- evt:
		default:
			h.logger.Warn("websocket subscriber lagging, dropping event", zap.String("job_id", jobID))
		}
	}
}

// ServeWS upgrades r into a websocket connection and streams jobID's
// events to it as JSON frames until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, jobID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			h.logger.Debug("websocket close failed", zap.Error(cerr))
		}
	}()

	sub := &subscriber{
		events: make(chan hybridcrawl.Event, subscriberBuffer),
		done:   make(chan struct{}),
	}
	h.register(jobID, sub)
	defer h.unregister(jobID, sub)

	go h.discardIncoming(conn, sub)

	for {
		select {
		case evt, ok := <-sub.events:
			if !ok {
				return nil
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return err
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				h.logger.Warn("marshal event failed", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return err
			}
		case <-sub.done:
			return nil
		}
	}
}

// discardIncoming reads and drops client frames so the connection's read
// pump notices a client-initiated close and unblocks ServeWS.
func (h *Hub) discardIncoming(conn *websocket.Conn, sub *subscriber) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(sub.done)
			return
		}
	}
}

func (h *Hub) register(jobID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[jobID] = append(h.subscribers[jobID], sub)
}

func (h *Hub) unregister(jobID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[jobID]
	for i, candidate := range subs {
		if candidate == sub {
			h.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[jobID]) == 0 {
		delete(h.subscribers, jobID)
	}
}
