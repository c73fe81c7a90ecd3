package hcmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveFetch(t *testing.T) {
	r := New()
	r.ObserveFetch("static", true, 250*time.Millisecond)
	r.ObserveFetch("static", false, 100*time.Millisecond)

	if got := testutil.ToFloat64(r.fetchTotal.WithLabelValues("static", "success")); got != 1 {
		t.Errorf("fetchTotal success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.fetchTotal.WithLabelValues("static", "failure")); got != 1 {
		t.Errorf("fetchTotal failure = %v, want 1", got)
	}
}

func TestObserveDetection(t *testing.T) {
	r := New()
	r.ObserveDetection(true, 0.8)

	if got := testutil.ToFloat64(r.detectionTotal.WithLabelValues("true")); got != 1 {
		t.Errorf("detectionTotal true = %v, want 1", got)
	}
}

func TestObserveRateLimitBackoff(t *testing.T) {
	r := New()
	r.ObserveRateLimitBackoff("example.com")
	r.ObserveRateLimitBackoff("example.com")

	if got := testutil.ToFloat64(r.rateLimitBackoff.WithLabelValues("example.com")); got != 2 {
		t.Errorf("rateLimitBackoff = %v, want 2", got)
	}
}

func TestSessionGauge(t *testing.T) {
	r := New()
	r.SessionStarted()
	r.SessionStarted()
	r.SessionEnded()

	if got := testutil.ToFloat64(r.sessionsActive); got != 1 {
		t.Errorf("sessionsActive = %v, want 1", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	r := New()
	r.ObservePage("success")
	if r.Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
}
