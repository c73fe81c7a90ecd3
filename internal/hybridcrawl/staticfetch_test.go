package hybridcrawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestStaticFetcherSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!doctype html><title>Example</title><body><a href="/a">a</a></body>`)
	}))
	defer srv.Close()

	f := newStaticFetcher(zap.NewNop())
	opts := DefaultOptions().normalize()

	outcome := f.fetch(context.Background(), srv.URL, opts)
	if !outcome.Success {
		t.Fatalf("expected success, got error %+v", outcome.Err)
	}
	if outcome.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", outcome.StatusCode)
	}
	if len(outcome.Body) == 0 {
		t.Fatal("expected non-empty body")
	}
}

func TestStaticFetcherHTTPErrorClassified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newStaticFetcher(zap.NewNop())
	opts := DefaultOptions().normalize()
	opts.MaxRetries = 1

	outcome := f.fetch(context.Background(), srv.URL, opts)
	if outcome.Success {
		t.Fatal("expected failure for 404 response")
	}
	if outcome.Err.Kind != ErrHTTP4xx {
		t.Fatalf("expected HTTP_4xx, got %s", outcome.Err.Kind)
	}
}

func TestStaticFetcherRetries408ThenSucceeds(t *testing.T) {
	t.Parallel()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusRequestTimeout)
			return
		}
		fmt.Fprint(w, `<!doctype html><title>ok</title>`)
	}))
	defer srv.Close()

	f := newStaticFetcher(zap.NewNop())
	opts := DefaultOptions().normalize()
	opts.MaxRetries = 3

	outcome := f.fetch(context.Background(), srv.URL, opts)
	if !outcome.Success {
		t.Fatalf("expected 408 to be retried until success, got %+v", outcome.Err)
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestStaticFetcherRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `<!doctype html><title>ok</title>`)
	}))
	defer srv.Close()

	f := newStaticFetcher(zap.NewNop())
	opts := DefaultOptions().normalize()
	opts.MaxRetries = 3

	start := time.Now()
	outcome := f.fetch(context.Background(), srv.URL, opts)
	elapsed := time.Since(start)

	if !outcome.Success {
		t.Fatalf("expected eventual success, got %+v", outcome.Err)
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
	if elapsed < retryBackoffUnit {
		t.Fatalf("expected retry backoff to have elapsed, got %v", elapsed)
	}
}

func TestStaticFetcherRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newStaticFetcher(zap.NewNop())
	opts := DefaultOptions().normalize()
	opts.MaxRetries = 5

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := f.fetch(ctx, srv.URL, opts)
	if outcome.Success {
		t.Fatal("expected cancellation to short-circuit success")
	}
}
