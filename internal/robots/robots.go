// Package robots offers an optional, courtesy-only robots.txt check. The
// hybrid crawl engine never consults it: spec-mandated fetch decisions are
// made solely by the Static/Dynamic Fetchers and the Method Detector. A
// cmd/crawlctl caller that wants robots.txt courtesy can consult a Checker
// before submitting a URL to the engine.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// Checker fetches and caches robots.txt per host and answers whether a
// given URL is disallowed for a user agent.
type Checker struct {
	client    *http.Client
	cache     sync.Map
	userAgent string
	logger    *zap.Logger
}

// New builds a Checker. userAgent identifies this crawler in robots.txt
// group matching; logger may be nil.
func New(userAgent string, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Allowed reports whether rawURL is permitted by its host's robots.txt. A
// robots.txt fetch failure or absence is treated as permission granted,
// matching the fail-open posture of a courtesy check.
func (c *Checker) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := c.load(ctx, parsed)
	if err != nil {
		c.logger.Debug("robots fetch failed, allowing by default", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(c.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

func (c *Checker) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if cached, ok := c.cache.Load(hostKey); ok {
		data, assertOK := cached.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", cached)
		}
		return data, nil
	}

	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	c.cache.Store(hostKey, data)
	return data, nil
}
