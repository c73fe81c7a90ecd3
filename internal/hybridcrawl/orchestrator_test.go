package hybridcrawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/heyitsk/autoCrawler/internal/hcmetrics"
)

func TestCrawlOneForceStaticSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!doctype html><title>Static Page</title><body><a href="/a">a</a><a href="/b">b</a></body>`)
	}))
	defer srv.Close()

	e := NewEngine(zap.NewNop(), hcmetrics.New())
	defer e.Close()

	sink := &recordingSink{}
	opts := DefaultOptions()
	opts.ForceMethod = ForceStatic

	result := e.CrawlOne(context.Background(), srv.URL, opts, sink)
	if !result.Success {
		t.Fatalf("expected success, got error %+v", result.Error)
	}
	if result.FetchMethod != MethodStatic {
		t.Fatalf("expected static method, got %s", result.FetchMethod)
	}
	if result.Title != "Static Page" {
		t.Fatalf("expected title %q, got %q", "Static Page", result.Title)
	}
	if len(result.Links) != 2 {
		t.Fatalf("expected 2 links, got %d: %v", len(result.Links), result.Links)
	}
	if len(sink.events) == 0 {
		t.Fatal("expected at least one lifecycle event")
	}
}

func TestCrawlOneAutoPromotesOnEmptyStaticLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!doctype html><title>Empty</title><body><div id="root"></div></body>`)
	}))
	defer srv.Close()

	e := NewEngine(zap.NewNop(), hcmetrics.New())
	defer e.Close()

	sink := &recordingSink{}
	result := e.CrawlOne(context.Background(), srv.URL, DefaultOptions(), sink)

	promoted := false
	for _, evt := range sink.events {
		if evt.Type == EventMethodDetected && evt.Method == MethodDynamic && evt.Reason == "empty static result" {
			promoted = true
		}
	}
	if !promoted {
		t.Fatal("expected a method-detected event promoting to dynamic on empty static links")
	}
	if result.FetchMethod != MethodDynamic {
		t.Skip("dynamic promotion requires a headless browser binary; skipping outcome assertion")
	}
}

func TestCrawlOneRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	e := NewEngine(zap.NewNop(), hcmetrics.New())
	defer e.Close()

	result := e.CrawlOne(context.Background(), "javascript:alert(1)", DefaultOptions(), nil)
	if result.Success {
		t.Fatal("expected failure for malicious scheme")
	}
	if result.Error == nil || result.Error.Kind != ErrInvalidURL {
		t.Fatalf("expected INVALID_URL, got %+v", result.Error)
	}
}

func TestCrawlBatchRunsAllURLs(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!doctype html><title>Batch</title><body><a href="/x">x</a><a href="/y">y</a><a href="/z">z</a></body>`)
	}))
	defer srv.Close()

	e := NewEngine(zap.NewNop(), hcmetrics.New())
	defer e.Close()

	opts := DefaultOptions()
	opts.ForceMethod = ForceStatic
	opts.Concurrency = 2

	urls := []string{srv.URL, srv.URL, srv.URL}
	results := e.CrawlBatch(context.Background(), urls, opts, nil)

	if len(results) != len(urls) {
		t.Fatalf("expected %d results, got %d", len(urls), len(results))
	}
	for i, r := range results {
		if !r.Success {
			t.Fatalf("result %d: expected success, got %+v", i, r.Error)
		}
	}
}

func TestCrawlOnePanickingSinkDoesNotAbortCrawl(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!doctype html><title>ok</title><body><a href="/a">a</a></body>`)
	}))
	defer srv.Close()

	e := NewEngine(zap.NewNop(), hcmetrics.New())
	defer e.Close()

	opts := DefaultOptions()
	opts.ForceMethod = ForceStatic

	result := e.CrawlOne(context.Background(), srv.URL, opts, panicSink{})
	if !result.Success {
		t.Fatalf("expected success despite panicking sink, got %+v", result.Error)
	}
}

type panicSink struct{}

func (panicSink) Publish(Event) { panic("sink exploded") }
