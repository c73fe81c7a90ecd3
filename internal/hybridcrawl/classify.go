package hybridcrawl

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind is one member of the closed error taxonomy in spec section 4.2.
type ErrorKind string

const (
	ErrSSLCertExpired    ErrorKind = "SSL_CERT_EXPIRED"
	ErrSSLCertInvalid    ErrorKind = "SSL_CERT_INVALID"
	ErrSSLSelfSigned     ErrorKind = "SSL_SELF_SIGNED"
	ErrSSLOther          ErrorKind = "SSL_OTHER"
	ErrTimeout           ErrorKind = "TIMEOUT"
	ErrConnectionRefused ErrorKind = "CONNECTION_REFUSED"
	ErrDNS               ErrorKind = "DNS_ERROR"
	ErrRateLimited       ErrorKind = "RATE_LIMITED"
	ErrHTTP4xx           ErrorKind = "HTTP_4xx"
	ErrHTTP5xx           ErrorKind = "HTTP_5xx"
	ErrInvalidURL        ErrorKind = "INVALID_URL"
	ErrUnknown           ErrorKind = "UNKNOWN"
)

// Severity is the classifier's assessment of how serious an ErrorKind is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// classification is the fixed policy row for one ErrorKind. It is the single
// source of truth every other component consults instead of re-deriving
// severity or retryability from an ErrorKind.
type classification struct {
	severity    Severity
	retryable   bool
	userMessage string
}

var classificationTable = map[ErrorKind]classification{
	ErrSSLCertExpired:    {SeverityHigh, false, "The site's security certificate has expired."},
	ErrSSLCertInvalid:    {SeverityHigh, true, "The site's security certificate could not be verified."},
	ErrSSLSelfSigned:     {SeverityMedium, true, "The site presented a self-signed certificate."},
	ErrSSLOther:          {SeverityMedium, true, "A secure connection to the site could not be established."},
	ErrTimeout:           {SeverityMedium, true, "The site took too long to respond."},
	ErrConnectionRefused: {SeverityHigh, false, "The site refused the connection."},
	ErrDNS:               {SeverityHigh, false, "The site's address could not be resolved."},
	ErrRateLimited:       {SeverityLow, true, "The site is rate-limiting requests."},
	ErrHTTP4xx:           {SeverityMedium, false, "The site returned a client error."},
	ErrHTTP5xx:           {SeverityMedium, true, "The site returned a server error."},
	ErrInvalidURL:        {SeverityCritical, false, "The URL is not valid."},
	ErrUnknown:           {SeverityMedium, true, "An unexpected error occurred while fetching the page."},
}

// classify maps a raw error (and, for HTTP responses, a status code) to
// exactly one ErrorKind from the closed taxonomy. First match wins, in the
// order spec section 4.2 lists.
func classify(err error, statusCode int) ErrorInfo {
	kind := classifyKind(err, statusCode)
	c := classificationTable[kind]
	msg := c.userMessage
	if msg == "" {
		msg = classificationTable[ErrUnknown].userMessage
	}
	return ErrorInfo{Kind: kind, Message: msg}
}

func classifyKind(err error, statusCode int) ErrorKind {
	if kind, ok := classifySSL(err); ok {
		return kind
	}
	if kind, ok := classifyNetwork(err); ok {
		return kind
	}
	if statusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if statusCode >= 400 && statusCode < 500 {
		return ErrHTTP4xx
	}
	if statusCode >= 500 {
		return ErrHTTP5xx
	}
	if err == nil {
		return ErrUnknown
	}
	return ErrUnknown
}

func classifySSL(err error) (ErrorKind, bool) {
	if err == nil {
		return "", false
	}
	var certExpired x509.CertificateInvalidError
	if errors.As(err, &certExpired) {
		if certExpired.Reason == x509.Expired {
			return ErrSSLCertExpired, true
		}
		return ErrSSLCertInvalid, true
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return ErrSSLCertInvalid, true
	}
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return ErrSSLSelfSigned, true
	}
	var certVerify *tls.CertificateVerificationError
	if errors.As(err, &certVerify) {
		return ErrSSLCertInvalid, true
	}
	if strings.Contains(err.Error(), "certificate has expired") {
		return ErrSSLCertExpired, true
	}
	if strings.Contains(err.Error(), "self-signed certificate") ||
		strings.Contains(err.Error(), "self signed certificate") {
		return ErrSSLSelfSigned, true
	}
	if strings.Contains(strings.ToLower(err.Error()), "tls") ||
		strings.Contains(strings.ToLower(err.Error()), "x509") {
		return ErrSSLOther, true
	}
	return "", false
}

func classifyNetwork(err error) (ErrorKind, bool) {
	if err == nil {
		return "", false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout, true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrDNS, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if strings.Contains(strings.ToLower(opErr.Err.Error()), "refused") {
			return ErrConnectionRefused, true
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection refused") {
		return ErrConnectionRefused, true
	}
	if strings.Contains(strings.ToLower(err.Error()), "no such host") {
		return ErrDNS, true
	}
	return "", false
}

// Retryable reports whether an ErrorKind's classification permits retry,
// with the two named exceptions to HTTP_4xx (408 and 429, which are surfaced
// as ErrHTTP4xx/ErrRateLimited by classifyKind but remain retryable per spec
// section 4.2's parenthetical).
func (k ErrorKind) Retryable(statusCode int) bool {
	if k == ErrHTTP4xx && (statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests) {
		return true
	}
	c, ok := classificationTable[k]
	if !ok {
		return classificationTable[ErrUnknown].retryable
	}
	return c.retryable
}

// Severity returns the fixed severity for an ErrorKind.
func (k ErrorKind) Severity() Severity {
	c, ok := classificationTable[k]
	if !ok {
		return classificationTable[ErrUnknown].severity
	}
	return c.severity
}

// UserMessage returns the fixed, non-technical message for an ErrorKind.
func (k ErrorKind) UserMessage() string {
	c, ok := classificationTable[k]
	if !ok {
		return classificationTable[ErrUnknown].userMessage
	}
	return c.userMessage
}

func invalidURLError(rawURL string, cause error) ErrorInfo {
	return ErrorInfo{
		Kind:    ErrInvalidURL,
		Message: fmt.Sprintf("%s: %v", classificationTable[ErrInvalidURL].userMessage, cause),
	}
}
