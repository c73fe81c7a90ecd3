package hybridcrawl

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heyitsk/autoCrawler/internal/hcmetrics"
)

// Engine is the hybrid crawl engine. One Engine can serve any number of
// concurrent CrawlOne/CrawlBatch calls and sequential CrawlRecursive
// sessions; it owns at most one headless browser process, created lazily on
// first use and torn down by Close.
type Engine struct {
	logger  *zap.Logger
	static  *staticFetcher
	metrics *hcmetrics.Recorder

	dynamicOnce sync.Once
	dynamic     *dynamicFetcher
	dynamicErr  error
}

// NewEngine builds an Engine. logger and metrics may be nil; nil-safe
// defaults are substituted (a no-op logger, a no-op metrics recorder).
func NewEngine(logger *zap.Logger, metrics *hcmetrics.Recorder) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = hcmetrics.NewNoop()
	}
	return &Engine{
		logger:  logger,
		static:  newStaticFetcher(logger),
		metrics: metrics,
	}
}

// Close releases the headless browser process, if one was ever started.
func (e *Engine) Close() {
	if e.dynamic != nil {
		e.dynamic.close()
	}
}

func (e *Engine) ensureDynamic() (*dynamicFetcher, error) {
	e.dynamicOnce.Do(func() {
		e.dynamic, e.dynamicErr = newDynamicFetcher(e.logger)
	})
	return e.dynamic, e.dynamicErr
}

// CrawlOne fetches and parses a single URL, choosing between the Static and
// Dynamic Fetcher per spec section 4.6's decision tree. It never returns an
// error: fatal per-URL failures come back as PageResult.Success == false.
func (e *Engine) CrawlOne(ctx context.Context, rawURL string, opts Options, sink EventSink) PageResult {
	pub := newPublisher(sink, e.logger)
	return e.crawlOne(ctx, rawURL, opts.normalize(), pub)
}

// CrawlBatch runs up to opts.Concurrency Orchestrator calls in parallel with
// a 1-second pause between batches. It does not share a visited set across
// calls (spec section 4.7's "batch variant does not share visited").
func (e *Engine) CrawlBatch(ctx context.Context, urls []string, opts Options, sink EventSink) []PageResult {
	opts = opts.normalize()
	pub := newPublisher(sink, e.logger)
	results := make([]PageResult, len(urls))

	for start := 0; start < len(urls); start += opts.Concurrency {
		end := start + opts.Concurrency
		if end > len(urls) {
			end = len(urls)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			if ctx.Err() != nil {
				results[i] = failedResult(urls[i], classify(ctx.Err(), 0))
				continue
			}
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = e.crawlOne(ctx, urls[idx], opts, pub)
			}(i)
		}
		wg.Wait()
		if end < len(urls) {
			if err := sleepCtx(ctx, time.Second); err != nil {
				for i := end; i < len(urls); i++ {
					results[i] = failedResult(urls[i], classify(ctx.Err(), 0))
				}
				break
			}
		}
	}
	return results
}

func failedResult(rawURL string, errInfo ErrorInfo) PageResult {
	return PageResult{
		URL:     rawURL,
		Success: false,
		Error:   &errInfo,
	}
}

// crawlOne is the internal implementation shared by CrawlOne, CrawlBatch,
// and the Recursive Scheduler. pub is already wrapping the caller's sink.
func (e *Engine) crawlOne(ctx context.Context, rawURL string, opts Options, pub *publisher) PageResult {
	parsed, err := validateAbsolute(rawURL)
	if err != nil {
		info := invalidURLError(rawURL, err)
		return failedResult(rawURL, info)
	}

	switch opts.ForceMethod {
	case ForceDynamic:
		pub.publish(Event{Type: EventMethodDetected, URL: rawURL, Method: MethodDynamic, Reason: "forced"})
		return e.runDynamic(ctx, rawURL, parsed, opts, "forced", DetectionVerdict{})
	case ForceStatic:
		pub.publish(Event{Type: EventMethodDetected, URL: rawURL, Method: MethodStatic, Reason: "forced"})
		return e.runStatic(ctx, rawURL, parsed, opts, "forced")
	default:
		return e.crawlAuto(ctx, rawURL, parsed, opts, pub)
	}
}

func (e *Engine) crawlAuto(ctx context.Context, rawURL string, parsed *url.URL, opts Options, pub *publisher) PageResult {
	pub.publish(Event{Type: EventMethodDetected, URL: rawURL, Method: MethodStatic, Reason: "initial fast path"})

	outcome := e.static.fetch(ctx, rawURL, opts)
	e.metrics.ObserveFetch(string(MethodStatic), outcome.Success, outcome.Duration)

	if !outcome.Success {
		reason := fmt.Sprintf("static error: %s", outcome.Err.Kind)
		pub.publish(Event{Type: EventMethodDetected, URL: rawURL, Method: MethodDynamic, Reason: reason})
		return e.runDynamic(ctx, rawURL, parsed, opts, reason, DetectionVerdict{})
	}

	extracted := extractPage(outcome.Body, outcome.ContentType)
	links := sanitizeLinks(extracted.hrefs, parsed)

	if len(links) == 0 {
		pub.publish(Event{Type: EventMethodDetected, URL: rawURL, Method: MethodDynamic, Reason: "empty static result"})
		return e.runDynamic(ctx, rawURL, parsed, opts, "empty static result", DetectionVerdict{})
	}

	verdict := detectMethod(outcome.Body, links, opts.DetectionThreshold)
	e.metrics.ObserveDetection(verdict.NeedsDynamic, verdict.Confidence)

	if verdict.NeedsDynamic && verdict.Confidence >= opts.DetectionThreshold {
		pub.publish(Event{Type: EventMethodDetected, URL: rawURL, Method: MethodDynamic, Reason: verdict.Reason})
		return e.runDynamic(ctx, rawURL, parsed, opts, verdict.Reason, verdict)
	}

	return buildPageResult(rawURL, outcome, extracted, links, MethodStatic, verdict)
}

func (e *Engine) runStatic(ctx context.Context, rawURL string, parsed *url.URL, opts Options, _ string) PageResult {
	outcome := e.static.fetch(ctx, rawURL, opts)
	e.metrics.ObserveFetch(string(MethodStatic), outcome.Success, outcome.Duration)
	if !outcome.Success {
		return PageResult{URL: rawURL, FetchMethod: MethodStatic, Success: false, Error: &outcome.Err}
	}
	extracted := extractPage(outcome.Body, outcome.ContentType)
	links := sanitizeLinks(extracted.hrefs, parsed)
	return buildPageResult(rawURL, outcome, extracted, links, MethodStatic, DetectionVerdict{})
}

func (e *Engine) runDynamic(ctx context.Context, rawURL string, parsed *url.URL, opts Options, _ string, verdict DetectionVerdict) PageResult {
	fetcher, err := e.ensureDynamic()
	if err != nil {
		errInfo := classify(err, 0)
		e.metrics.ObserveFetch(string(MethodDynamic), false, 0)
		return PageResult{URL: rawURL, FetchMethod: MethodDynamic, Success: false, Error: &errInfo, Detection: verdict}
	}

	outcome := fetcher.render(ctx, rawURL, opts)
	e.metrics.ObserveFetch(string(MethodDynamic), outcome.Success, outcome.Duration)
	if !outcome.Success {
		return PageResult{URL: rawURL, FetchMethod: MethodDynamic, Success: false, Error: &outcome.Err, Detection: verdict}
	}
	extracted := extractPage(outcome.Body, outcome.ContentType)
	links := sanitizeLinks(extracted.hrefs, parsed)
	return buildPageResult(rawURL, outcome, extracted, links, MethodDynamic, verdict)
}

func buildPageResult(rawURL string, outcome FetchOutcome, ext extracted, links []string, method FetchMethod, verdict DetectionVerdict) PageResult {
	finalURL := outcome.FinalURL
	if finalURL == "" {
		finalURL = rawURL
	}
	return PageResult{
		URL:         rawURL,
		FinalURL:    finalURL,
		Title:       ext.title,
		Links:       links,
		Metadata:    ext.meta,
		FetchMethod: method,
		Diagnostics: Diagnostics{
			Duration:     outcome.Duration,
			StatusCode:   outcome.StatusCode,
			ResponseSize: outcome.ResponseSize,
			TLS:          outcome.TLS,
		},
		Detection: verdict,
		Success:   true,
	}
}
