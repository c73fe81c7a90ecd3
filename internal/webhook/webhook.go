// Package webhook posts a JSON notification when a crawl job completes.
// It generalizes the teacher's Publisher.Publish(topic, payload) shape to a
// single caller-configured HTTP endpoint instead of a pub/sub topic.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/heyitsk/autoCrawler/internal/hybridcrawl"
)

// Notifier posts crawl:complete events to a configured URL.
type Notifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// New builds a Notifier. An empty url makes Sink's Publish a no-op, so
// callers can wire a Notifier unconditionally.
func New(url string, timeout time.Duration, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Payload is the JSON body posted to the webhook URL.
type Payload struct {
	JobID  string            `json:"job_id"`
	Event  hybridcrawl.Event `json:"event"`
	SentAt time.Time         `json:"sent_at"`
}

// Notify posts evt for jobID if evt is a completion event and a URL is
// configured. It logs and swallows delivery failures rather than
// propagating them into the crawl that produced the event.
func (n *Notifier) Notify(ctx context.Context, jobID string, evt hybridcrawl.Event) {
	if n.url == "" || evt.Type != hybridcrawl.EventComplete {
		return
	}
	body, err := json.Marshal(Payload{JobID: jobID, Event: evt, SentAt: time.Now().UTC()})
	if err != nil {
		n.logger.Warn("marshal webhook payload failed", zap.Error(err))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("build webhook request failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			n.logger.Debug("webhook response close failed", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= 300 {
		n.logger.Warn("webhook returned non-2xx", zap.String("job_id", jobID), zap.Int("status", resp.StatusCode))
	}
}

// Sink wraps a Notifier as an EventSink so it can be composed with other
// sinks via a fan-out sink (see server.go's multiSink).
type Sink struct {
	notifier *Notifier
	jobID    string
}

// SinkFor returns an EventSink that forwards crawl:complete events for
// jobID to n.
func (n *Notifier) SinkFor(jobID string) hybridcrawl.EventSink {
	return &Sink{notifier: n, jobID: jobID}
}

// Publish implements hybridcrawl.EventSink.
func (s *Sink) Publish(evt hybridcrawl.Event) {
	s.notifier.Notify(context.Background(), s.jobID, evt)
}
