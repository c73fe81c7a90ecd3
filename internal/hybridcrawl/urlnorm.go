package hybridcrawl

import (
	"fmt"
	"net/url"
	"strings"
)

// maliciousSchemes are substrings validateAbsolute rejects anywhere in the
// raw input string, matched case-insensitively.
var maliciousSchemes = []string{"javascript:", "data:", "file:", "vbscript:", "about:"}

// validateAbsolute parses s and requires it to be an absolute http/https URL
// free of the malicious-scheme substrings.
func validateAbsolute(s string) (*url.URL, error) {
	lower := strings.ToLower(s)
	for _, scheme := range maliciousSchemes {
		if strings.Contains(lower, scheme) {
			return nil, fmt.Errorf("invalid url %q: contains disallowed scheme %q", s, scheme)
		}
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", s, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("invalid url %q: not absolute", s)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("invalid url %q: unsupported scheme %q", s, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: missing host", s)
	}
	return u, nil
}

// resolveRelative resolves href against base and validates the result.
func resolveRelative(href string, base *url.URL) (*url.URL, error) {
	lower := strings.ToLower(href)
	for _, scheme := range maliciousSchemes {
		if strings.Contains(lower, scheme) {
			return nil, fmt.Errorf("invalid href %q: contains disallowed scheme %q", href, scheme)
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("invalid href %q: %w", href, err)
	}
	resolved := base.ResolveReference(ref)
	return validateAbsolute(resolved.String())
}

// normalizeKey reduces u to scheme://host+path with a lowercase host,
// path case preserved, no trailing slash (unless path is exactly "/"), and
// no fragment or query. This is the crawl session's dedup key.
func normalizeKey(u *url.URL) string {
	host := strings.ToLower(u.Host)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	return fmt.Sprintf("%s://%s%s", strings.ToLower(u.Scheme), host, path)
}

// sanitizeLinks resolves each href against base, drops anything that fails
// validation, and deduplicates by normalized key while preserving the first
// seen absolute form and its document order.
func sanitizeLinks(hrefs []string, base *url.URL) []string {
	seen := make(map[string]struct{}, len(hrefs))
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		resolved, err := resolveRelative(href, base)
		if err != nil {
			continue
		}
		key := normalizeKey(resolved)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, resolved.String())
	}
	return out
}

func hostOf(rawURL string) string {
	u, err := validateAbsolute(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
