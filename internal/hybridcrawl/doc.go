// Package hybridcrawl implements the hybrid crawl engine: a per-URL fetch
// pipeline that chooses between a plain HTTP fetch and a headless-browser
// render, and a bounded recursive scheduler built on top of it.
//
// The package exposes three operations — CrawlOne, CrawlBatch, and
// CrawlRecursive — plus the EventSink interface callers implement to observe
// crawl lifecycle events. Everything else (job persistence, authentication,
// the HTTP/REST edge, and realtime transport to a browser client) lives
// outside this package; cmd/crawlctl wires up reference implementations of
// those for demonstration purposes only.
package hybridcrawl
