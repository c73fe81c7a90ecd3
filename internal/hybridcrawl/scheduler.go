package hybridcrawl

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	idgen "github.com/heyitsk/autoCrawler/internal/id/uuid"
	"github.com/heyitsk/autoCrawler/internal/policy/ratelimit"
)

// sessionIDGen mints session identifiers as UUIDv7s so that SessionID sorts
// roughly by creation time, matching the teacher's job ID convention.
var sessionIDGen = idgen.NewUUIDGenerator()

func newSessionID() string {
	id, err := sessionIDGen.NewID()
	if err != nil {
		// crypto/rand exhaustion only; fall back rather than fail a crawl
		// over an identifier.
		return uuid.NewString()
	}
	return id
}

// sessionPacerKey is the constant WaitKey every crawlOne invocation in one
// session shares, so the delayMs floor applies session-wide rather than
// per-domain (per-domain pacing is the Dynamic Fetcher's concern, not the
// Scheduler's).
const sessionPacerKey = "session"

// stackFrame is one pending traversal step: a URL discovered at a given
// depth, not yet visited or rejected.
type stackFrame struct {
	url   string
	depth int
}

// CrawlRecursive performs a bounded depth-first traversal starting at
// seedURL, invoking crawlOne sequentially per spec section 4.7. It always
// returns a terminal CrawlSession; cancellation surfaces as
// SessionState == SessionAborted rather than an error.
func (e *Engine) CrawlRecursive(ctx context.Context, seedURL string, opts Options, sink EventSink) CrawlSession {
	opts = opts.normalize()
	pub := newPublisher(sink, e.logger)

	seed, err := validateAbsolute(seedURL)
	baseHost := ""
	if err == nil {
		baseHost = strings.ToLower(seed.Hostname())
	}

	session := CrawlSession{
		SessionID: newSessionID(),
		SeedURL:   seedURL,
		BaseHost:  baseHost,
		State:     SessionRunning,
		Visited:   make(map[string]struct{}),
		StartedAt: time.Now().UTC(),
		Limits: Limits{
			MaxDepth:          opts.MaxDepth,
			MaxPages:          opts.MaxPages,
			ChildLinksPerPage: opts.ChildLinksPerPage,
			DelayMs:           opts.DelayMs,
			SameDomainOnly:    opts.SameDomainOnly,
		},
	}

	pub.publish(Event{
		Type:      EventCrawlStart,
		SessionID: session.SessionID,
		SeedURL:   seedURL,
		MaxDepth:  opts.MaxDepth,
		CrawlType: CrawlTypeRecursive,
	})

	e.metrics.SessionStarted()
	defer e.metrics.SessionEnded()

	if err != nil {
		session.State = SessionAborted
		pub.publish(Event{
			Type:         EventError,
			ErrorKind:    ErrInvalidURL,
			ErrorMessage: err.Error(),
			FailedURL:    seedURL,
			Fatal:        true,
		})
		session.FinishedAt = time.Now().UTC()
		e.publishComplete(pub, &session)
		return session
	}

	stack := []stackFrame{{url: seedURL, depth: 0}}
	lastEmittedDepth := -1
	pagesAtDepth := map[int]int{}
	pacer := ratelimit.New(ratelimit.Config{
		DefaultRPS:   ratelimit.RPSForDelay(opts.DelayMs),
		DefaultBurst: 1,
		Metrics:      e.metrics,
	})
	cancelled := false

	for len(stack) > 0 {
		if ctx.Err() != nil {
			session.State = SessionAborted
			cancelled = true
			break
		}

		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !e.acceptFrame(frame, opts, baseHost, session.Visited) {
			continue
		}

		if waitErr := pacer.WaitKey(ctx, sessionPacerKey); waitErr != nil {
			session.State = SessionAborted
			cancelled = true
			break
		}

		key := normalizeKey(mustParseURL(frame.url))
		session.Visited[key] = struct{}{}
		if frame.depth > session.MaxDepthReached {
			session.MaxDepthReached = frame.depth
		}

		pagesAtDepth[frame.depth]++
		if frame.depth != lastEmittedDepth {
			pub.publish(Event{
				Type:             EventDepthChange,
				CurrentDepth:     frame.depth,
				PagesAtThisDepth: pagesAtDepth[frame.depth],
			})
			lastEmittedDepth = frame.depth
		}

		result := e.crawlOne(ctx, frame.url, opts, pub)
		result.Depth = frame.depth
		result.CrawledAt = time.Now().UTC()
		session.Results = append(session.Results, result)

		// Published after crawlOne so that this URL's method-detected event
		// (emitted from inside crawlOne) precedes its progress event, per
		// the observable state-transition ordering the Event Publisher
		// guarantees.
		pub.publish(Event{
			Type:           EventProgress,
			PagesProcessed: len(session.Visited),
			TotalEstimate:  opts.MaxPages,
			Percentage:     progressPercentage(len(session.Visited), opts.MaxPages),
			CurrentURL:     frame.url,
			Status:         "running",
		})

		outcome := "success"
		if !result.Success {
			outcome = "failure"
		}
		e.metrics.ObservePage(outcome)

		if !result.Success {
			if result.Error != nil && result.Error.Kind == ErrRateLimited {
				pacer.Backoff(sessionPacerKey)
			}
			if ctx.Err() != nil {
				session.State = SessionAborted
				cancelled = true
				break
			}
			continue
		}

		if frame.depth >= opts.MaxDepth {
			continue
		}
		e.queueChildren(&session, &stack, pub, frame, result.Links, opts, baseHost)
	}

	if cancelled {
		pub.publish(Event{
			Type:         EventError,
			ErrorKind:    ErrUnknown,
			ErrorMessage: "crawl cancelled",
			FailedURL:    seedURL,
			Fatal:        true,
		})
	}

	if session.State != SessionAborted {
		session.State = SessionCompleted
	}
	session.FinishedAt = time.Now().UTC()
	e.publishComplete(pub, &session)
	return session
}

// acceptFrame implements the reject rule from spec section 4.7 step 1.
func (e *Engine) acceptFrame(frame stackFrame, opts Options, baseHost string, visited map[string]struct{}) bool {
	if frame.depth > opts.MaxDepth {
		return false
	}
	if len(visited) >= opts.MaxPages {
		return false
	}
	u, err := validateAbsolute(frame.url)
	if err != nil {
		return false
	}
	key := normalizeKey(u)
	if _, dup := visited[key]; dup {
		return false
	}
	if opts.SameDomainOnly && !strings.EqualFold(u.Hostname(), baseHost) {
		return false
	}
	return true
}

// queueChildren selects up to opts.ChildLinksPerPage children of frame,
// filters out already-visited and off-domain URLs, publishes a throttled
// link-found event stream, and pushes the survivors onto stack in reverse
// order so they pop in their original emitted order.
func (e *Engine) queueChildren(session *CrawlSession, stack *[]stackFrame, pub *publisher, frame stackFrame, links []string, opts Options, baseHost string) {
	selected := make([]string, 0, opts.ChildLinksPerPage)
	for _, link := range links {
		if len(selected) >= opts.ChildLinksPerPage {
			break
		}
		u, err := validateAbsolute(link)
		if err != nil {
			continue
		}
		if opts.SameDomainOnly && !strings.EqualFold(u.Hostname(), baseHost) {
			continue
		}
		if _, dup := session.Visited[normalizeKey(u)]; dup {
			continue
		}
		selected = append(selected, link)
		if len(selected)%5 == 0 {
			pub.publish(Event{
				Type:      EventLinkFound,
				SourceURL: frame.url,
				Depth:     frame.depth + 1,
				LinkCount: len(selected),
			})
		}
	}

	for i := len(selected) - 1; i >= 0; i-- {
		*stack = append(*stack, stackFrame{url: selected[i], depth: frame.depth + 1})
	}
}

func progressPercentage(visited, maxPages int) int {
	if maxPages <= 0 {
		return 100
	}
	pct := (100 * visited) / maxPages
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (e *Engine) publishComplete(pub *publisher, session *CrawlSession) {
	var totalLinks int
	var totalDuration time.Duration
	var successCount int
	domains := map[string]struct{}{}

	for _, r := range session.Results {
		totalLinks += len(r.Links)
		totalDuration += r.Diagnostics.Duration
		if r.Success {
			successCount++
		}
		if u, err := url.Parse(r.URL); err == nil {
			domains[strings.ToLower(u.Hostname())] = struct{}{}
		}
	}

	var avgResponse time.Duration
	var successRate float64
	if n := len(session.Results); n > 0 {
		avgResponse = totalDuration / time.Duration(n)
		successRate = float64(successCount) / float64(n)
	}

	pub.publish(Event{
		Type:                EventComplete,
		TotalPages:          len(session.Results),
		TotalLinks:          totalLinks,
		Duration:            session.FinishedAt.Sub(session.StartedAt),
		MaxDepthReached:     session.MaxDepthReached,
		SuccessRate:         successRate,
		AverageResponseTime: avgResponse,
		UniqueDomains:       len(domains),
	})
}
