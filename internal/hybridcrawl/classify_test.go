package hybridcrawl

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"testing"
)

func TestClassifyKindTotality(t *testing.T) {
	t.Parallel()

	valid := map[ErrorKind]bool{
		ErrSSLCertExpired: true, ErrSSLCertInvalid: true, ErrSSLSelfSigned: true, ErrSSLOther: true,
		ErrTimeout: true, ErrConnectionRefused: true, ErrDNS: true, ErrRateLimited: true,
		ErrHTTP4xx: true, ErrHTTP5xx: true, ErrInvalidURL: true, ErrUnknown: true,
	}

	cases := []struct {
		name       string
		err        error
		statusCode int
	}{
		{"nil err no status", nil, 0},
		{"timeout via context", context.DeadlineExceeded, 0},
		{"dns error", &net.DNSError{Err: "no such host", Name: "example.invalid"}, 0},
		{"cert expired", x509.CertificateInvalidError{Reason: x509.Expired}, 0},
		{"unknown authority", x509.UnknownAuthorityError{}, 0},
		{"status 429", nil, 429},
		{"status 404", nil, 404},
		{"status 500", nil, 500},
		{"generic error", errors.New("something broke"), 0},
	}

	for _, tt := range cases {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info := classify(tt.err, tt.statusCode)
			if !valid[info.Kind] {
				t.Fatalf("classify returned kind %q outside the closed taxonomy", info.Kind)
			}
			if info.Message == "" {
				t.Fatalf("classify returned empty user message for kind %q", info.Kind)
			}
		})
	}
}

func TestClassifySSLFamilyOrdering(t *testing.T) {
	t.Parallel()

	info := classify(x509.CertificateInvalidError{Reason: x509.Expired}, 0)
	if info.Kind != ErrSSLCertExpired {
		t.Fatalf("expected SSL_CERT_EXPIRED, got %s", info.Kind)
	}

	info = classify(x509.UnknownAuthorityError{}, 0)
	if info.Kind != ErrSSLSelfSigned {
		t.Fatalf("expected SSL_SELF_SIGNED, got %s", info.Kind)
	}
}

func TestRateLimitedIsRetryable(t *testing.T) {
	t.Parallel()

	info := classify(nil, 429)
	if info.Kind != ErrRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %s", info.Kind)
	}
	if !info.Kind.Retryable(429) {
		t.Fatal("expected RATE_LIMITED to be retryable")
	}
}

func TestNonRetryableKinds(t *testing.T) {
	t.Parallel()

	nonRetryable := []struct {
		kind       ErrorKind
		statusCode int
	}{
		{ErrDNS, 0},
		{ErrInvalidURL, 0},
		{ErrConnectionRefused, 0},
		{ErrSSLCertExpired, 0},
		{ErrHTTP4xx, 400},
	}
	for _, tt := range nonRetryable {
		if tt.kind.Retryable(tt.statusCode) {
			t.Errorf("expected %s (status %d) to be non-retryable", tt.kind, tt.statusCode)
		}
	}

	// The two named exceptions to HTTP_4xx non-retryability.
	if !ErrHTTP4xx.Retryable(408) {
		t.Error("expected HTTP_4xx with status 408 to be retryable")
	}
	if !ErrHTTP4xx.Retryable(429) {
		t.Error("expected HTTP_4xx with status 429 to be retryable")
	}
}

func TestClassifyTimeoutFromNetError(t *testing.T) {
	t.Parallel()

	err := &net.OpError{Op: "dial", Err: timeoutError{}}
	info := classify(err, 0)
	if info.Kind != ErrTimeout {
		t.Fatalf("expected TIMEOUT, got %s", info.Kind)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}
