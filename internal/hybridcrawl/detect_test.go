package hybridcrawl

import (
	"strings"
	"testing"
)

func TestDetectMethodSPASignals(t *testing.T) {
	t.Parallel()

	html := []byte(`<!doctype html><html><head><script>window.__NEXT_DATA__={}</script></head><body><div id="__next"></div></body></html>`)
	links := []string{"http://example.com/a", "http://example.com/b"}

	verdict := detectMethod(html, links, DefaultDetectionThreshold)
	if !verdict.NeedsDynamic {
		t.Fatalf("expected needsDynamic=true, got verdict=%+v", verdict)
	}
	if verdict.Confidence < 0.7 {
		t.Fatalf("expected confidence >= 0.7, got %f", verdict.Confidence)
	}
	if verdict.Framework != FrameworkNextJS {
		t.Fatalf("expected nextjs framework, got %s", verdict.Framework)
	}
}

func TestDetectMethodStaticContentSufficient(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("This is a well formed static article with real content. ", 40)
	html := []byte(`<!doctype html><html><body><p>` + body + `</p>` + strings.Repeat(`<a href="/l">link</a>`, 10) + `</body></html>`)
	links := make([]string, 10)
	for i := range links {
		links[i] = "http://example.com/l"
	}

	verdict := detectMethod(html, links, DefaultDetectionThreshold)
	if verdict.NeedsDynamic {
		t.Fatalf("expected needsDynamic=false for content-rich static page, got verdict=%+v", verdict)
	}
}

func TestDetectMethodConfidenceClampedToOne(t *testing.T) {
	t.Parallel()

	html := []byte(`<!doctype html><html><body><div id="root"></div>` + strings.Repeat(`<script>x()</script>`, 20) + `</body></html>`)
	verdict := detectMethod(html, nil, DefaultDetectionThreshold)
	if verdict.Confidence > 1.0 {
		t.Fatalf("expected confidence clamped to 1.0, got %f", verdict.Confidence)
	}
}

func TestDetectMethodNeedsDynamicUsesCallerThreshold(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("Plain article text with no scripts at all. ", 40)
	html := []byte(`<!doctype html><html><body><p>` + body + `</p><a href="/l">link</a></body></html>`)
	links := []string{"http://example.com/l"}

	atDefault := detectMethod(html, links, DefaultDetectionThreshold)
	if atDefault.NeedsDynamic {
		t.Fatalf("expected needsDynamic=false at the default threshold, got verdict=%+v", atDefault)
	}

	atLowThreshold := detectMethod(html, links, 0.1)
	if !atLowThreshold.NeedsDynamic {
		t.Fatalf("expected a caller-supplied low threshold to flip needsDynamic to true, got verdict=%+v", atLowThreshold)
	}
	if atLowThreshold.Confidence != atDefault.Confidence {
		t.Fatalf("threshold must not change the computed confidence, got %f vs %f", atLowThreshold.Confidence, atDefault.Confidence)
	}
}

func TestDetectMethodEmptyMarkupAccumulatesPartialSignals(t *testing.T) {
	t.Parallel()

	verdict := detectMethod(nil, nil, DefaultDetectionThreshold)
	if verdict.Confidence <= 0 {
		t.Fatalf("expected empty markup to still trip the few-links/short-text signals, got %+v", verdict)
	}
	if verdict.Reason == "" {
		t.Fatal("expected a non-empty reason string")
	}
}
