package hybridcrawl

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const (
	desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 autoCrawler/1.0"
	maxRedirects     = 5
	retryBackoffUnit = 1500 * time.Millisecond
)

type tlsProfile int

const (
	profileStrict tlsProfile = iota
	profileLegacy
)

func (p tlsProfile) tlsConfig() *tls.Config {
	switch p {
	case profileLegacy:
		return &tls.Config{
			MinVersion:         tls.VersionTLS10,
			InsecureSkipVerify: true, //nolint:gosec // deliberate single-shot fallback, never the default path
			Renegotiation:      tls.RenegotiateFreelyAsClient,
		}
	default:
		return &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}
}

func (p tlsProfile) info(negotiated *tls.ConnectionState) TLSInfo {
	info := TLSInfo{CertValid: p == profileStrict}
	if negotiated != nil {
		info.Protocol = tlsVersionName(negotiated.Version)
		info.MinVersion = tlsVersionName(negotiated.Version)
		info.CertValid = len(negotiated.VerifiedChains) > 0 || p == profileStrict
	}
	return info
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLS1.0"
	case tls.VersionTLS11:
		return "TLS1.1"
	case tls.VersionTLS12:
		return "TLS1.2"
	case tls.VersionTLS13:
		return "TLS1.3"
	default:
		return "unknown"
	}
}

// staticFetcher performs the TLS-strict-with-legacy-fallback HTTP fetch
// described in spec section 4.3. It wraps a Colly collector per attempt so
// each TLS profile gets its own http.Client, matching the teacher's
// fetcher_colly.go request/response plumbing while owning the transport
// directly so the profile can be swapped between attempts.
type staticFetcher struct {
	logger *zap.Logger
}

func newStaticFetcher(logger *zap.Logger) *staticFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &staticFetcher{logger: logger}
}

// fetch runs the retry/fallback algorithm in spec section 4.3 and always
// returns a terminal FetchOutcome.
func (f *staticFetcher) fetch(ctx context.Context, rawURL string, opts Options) FetchOutcome {
	attempt := 0
	for {
		attempt++
		outcome := f.attempt(ctx, rawURL, profileStrict, opts)
		if outcome.Success {
			return outcome
		}
		if ctx.Err() != nil {
			return outcome
		}
		if isSSLFamily(outcome.Err.Kind) {
			f.logger.Debug("ssl error on strict attempt, trying legacy TLS fallback once",
				zap.String("url", rawURL), zap.String("kind", string(outcome.Err.Kind)))
			return f.attempt(ctx, rawURL, profileLegacy, opts)
		}
		if !outcome.Err.Kind.Retryable(outcome.StatusCode) || attempt >= opts.MaxRetries {
			return outcome
		}
		wait := time.Duration(attempt) * retryBackoffUnit
		if err := sleepCtx(ctx, wait); err != nil {
			return outcome
		}
	}
}

func isSSLFamily(kind ErrorKind) bool {
	switch kind {
	case ErrSSLCertExpired, ErrSSLCertInvalid, ErrSSLSelfSigned, ErrSSLOther:
		return true
	default:
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type attemptResult struct {
	statusCode int
	finalURL   string
	body       []byte
	headers    http.Header
	tlsState   *tls.ConnectionState
	err        error
}

func (f *staticFetcher) attempt(ctx context.Context, rawURL string, profile tlsProfile, opts Options) FetchOutcome {
	start := time.Now()
	res, statusErr := f.doRequest(ctx, rawURL, profile, opts)
	duration := time.Since(start)

	if statusErr != nil {
		return FetchOutcome{
			Success:    false,
			StatusCode: res.statusCode,
			Err:        classify(statusErr, res.statusCode),
			Duration:   duration,
		}
	}
	if res.statusCode >= 400 {
		return FetchOutcome{
			Success:      false,
			FinalURL:     res.finalURL,
			StatusCode:   res.statusCode,
			ResponseSize: int64(len(res.body)),
			Duration:     duration,
			TLS:          profile.info(res.tlsState),
			Err:          classify(nil, res.statusCode),
		}
	}
	return FetchOutcome{
		Success:      true,
		FinalURL:     res.finalURL,
		StatusCode:   res.statusCode,
		Body:         res.body,
		ContentType:  res.headers.Get("Content-Type"),
		ResponseSize: int64(len(res.body)),
		TLS:          profile.info(res.tlsState),
		Duration:     duration,
	}
}

func (f *staticFetcher) doRequest(ctx context.Context, rawURL string, profile tlsProfile, opts Options) (attemptResult, error) {
	timeout := opts.timeout()
	if timeout <= 0 {
		timeout = time.Duration(DefaultTimeoutMs) * time.Millisecond
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSClientConfig:       profile.tlsConfig(),
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
			ForceAttemptHTTP2:     profile == profileStrict,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	collector := colly.NewCollector(colly.UserAgent(desktopUserAgent))
	collector.SetClient(client)

	var once sync.Once
	resultCh := make(chan attemptResult, 1)
	send := func(r attemptResult) {
		once.Do(func() { resultCh <- r })
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "en")
	})

	collector.OnResponse(func(r *colly.Response) {
		// Colly does not surface *tls.ConnectionState on colly.Response, so
		// TLSInfo falls back to the negotiated profile alone (tlsProfile.info
		// handles a nil state).
		var tlsState *tls.ConnectionState
		headers := http.Header{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				headers[k] = append([]string(nil), v...)
			}
		}
		send(attemptResult{
			statusCode: r.StatusCode,
			finalURL:   r.Request.URL.String(),
			body:       append([]byte(nil), r.Body...),
			headers:    headers,
			tlsState:   tlsState,
		})
	})

	collector.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		if err == nil {
			err = errors.New("unknown fetch error")
		}
		send(attemptResult{statusCode: statusCode, err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		// Colly reports HTTP error statuses both through OnError and as
		// Visit's return value; keep the status code OnError captured so
		// classify can see it.
		select {
		case res := <-resultCh:
			if res.err == nil {
				res.err = err
			}
			return res, res.err
		default:
			return attemptResult{}, err
		}
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return res, res.err
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		return res, nil
	default:
		return attemptResult{}, errors.New("static fetch produced no result")
	}
}
