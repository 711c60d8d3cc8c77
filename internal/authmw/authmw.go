// Package authmw provides bearer token authentication for the clinician API.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Rejection reasons reported to the OnReject hook.
const (
	ReasonMissing = "missing"
	ReasonInvalid = "invalid"
)

// Option configures BearerToken.
type Option func(*config)

type config struct {
	exempt   []string
	onReject func(r *http.Request, reason string)
}

// WithExemptPrefixes lets requests whose path starts with one of the
// prefixes through without a token.
func WithExemptPrefixes(prefixes ...string) Option {
	return func(c *config) { c.exempt = append(c.exempt, prefixes...) }
}

// WithRejectHook is called for every rejected request.
func WithRejectHook(fn func(r *http.Request, reason string)) Option {
	return func(c *config) { c.onReject = fn }
}

// BearerToken returns middleware that requires "Authorization: Bearer <token>".
// Tokens are compared in constant time. An empty token disables the check.
func BearerToken(token string, opts ...Option) func(http.Handler) http.Handler {
	var c config
	for _, o := range opts {
		o(&c)
	}
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c.isExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				c.reject(w, r, ReasonMissing, `{"error":"missing or malformed authorization header"}`)
				return
			}

			if subtle.ConstantTimeCompare([]byte(auth[len("Bearer "):]), expected) != 1 {
				c.reject(w, r, ReasonInvalid, `{"error":"invalid token"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (c *config) isExempt(path string) bool {
	for _, p := range c.exempt {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (c *config) reject(w http.ResponseWriter, r *http.Request, reason, body string) {
	if c.onReject != nil {
		c.onReject(r, reason)
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="medbridge"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(body))
}
