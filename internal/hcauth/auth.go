// Package hcauth carries caller identity through a crawl without the
// engine ever interpreting it. The HTTP layer copies the subject into
// hybridcrawl.Options.Credential, which is stored with the job's Options;
// PageResult and Event values do not carry it.
package hcauth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// contextKey is unexported so no other package can collide with it.
type contextKey struct{}

// Context identifies the caller on whose behalf a request runs.
type Context struct {
	Subject string
}

// WithContext returns a derived context.Context carrying auth.
func WithContext(ctx context.Context, auth Context) context.Context {
	return context.WithValue(ctx, contextKey{}, auth)
}

// FromContext extracts the Context stashed by WithContext, if any.
func FromContext(ctx context.Context) (Context, bool) {
	auth, ok := ctx.Value(contextKey{}).(Context)
	return auth, ok
}

// BearerMiddleware wraps an http.Handler, requiring a constant-time match
// against apiKey in the Authorization header when apiKey is non-empty. When
// apiKey is empty, the middleware is a passthrough (auth disabled).
func BearerMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := WithContext(r.Context(), Context{Subject: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
