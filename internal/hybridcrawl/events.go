package hybridcrawl

import (
	"time"

	"go.uber.org/zap"
)

// EventType discriminates the tagged union of lifecycle events in spec
// section 6.
type EventType string

const (
	EventCrawlStart     EventType = "crawl:start"
	EventMethodDetected EventType = "crawl:method-detected"
	EventProgress       EventType = "crawl:progress"
	EventDepthChange    EventType = "crawl:depth-change"
	EventLinkFound      EventType = "crawl:link-found"
	EventError          EventType = "crawl:error"
	EventComplete       EventType = "crawl:complete"
)

// CrawlType labels whether a session is a single-page or recursive crawl.
type CrawlType string

const (
	CrawlTypeSingle    CrawlType = "single"
	CrawlTypeRecursive CrawlType = "recursive"
)

// Event is the flat representation of every member of the lifecycle event
// union. Only the fields relevant to Type are populated; the rest carry
// their zero value.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// crawl:start
	SessionID string
	SeedURL   string
	MaxDepth  int
	CrawlType CrawlType

	// crawl:method-detected
	URL    string
	Method FetchMethod
	Reason string

	// crawl:progress
	Percentage     int
	PagesProcessed int
	TotalEstimate  int
	CurrentURL     string
	Status         string

	// crawl:depth-change
	CurrentDepth     int
	PagesAtThisDepth int

	// crawl:link-found
	SourceURL string
	Depth     int
	LinkCount int

	// crawl:error
	ErrorKind    ErrorKind
	ErrorMessage string
	FailedURL    string
	Fatal        bool

	// crawl:complete
	TotalPages          int
	TotalLinks          int
	Duration            time.Duration
	MaxDepthReached     int
	SuccessRate         float64
	AverageResponseTime time.Duration
	UniqueDomains       int
}

// EventSink is the caller-supplied, non-throwing consumer of lifecycle
// events. Implementations must not panic; publish returns nothing to
// enforce that callers cannot make a crawl fail by failing to observe it.
type EventSink interface {
	Publish(evt Event)
}

// NoopSink drops every event. It is the sink used when a caller passes nil.
type NoopSink struct{}

// Publish implements EventSink by discarding evt.
func (NoopSink) Publish(Event) {}

// publisher wraps a caller-supplied EventSink with the best-effort delivery
// guarantee spec section 4.8 requires: a panicking or misbehaving sink must
// never abort the crawl it is observing.
type publisher struct {
	sink   EventSink
	logger *zap.Logger
}

func newPublisher(sink EventSink, logger *zap.Logger) *publisher {
	if sink == nil {
		sink = NoopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &publisher{sink: sink, logger: logger}
}

func (p *publisher) publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("event sink panicked, dropping event", zap.Any("recover", r), zap.String("event", string(evt.Type)))
		}
	}()
	p.sink.Publish(evt)
}
