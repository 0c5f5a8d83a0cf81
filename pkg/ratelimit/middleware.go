package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/cvemind/cvemind/pkg/metrics"
)

const (
	headerForwardedFor = "X-Forwarded-For"

	// RejectionMessage is the plain-text body of a throttled response.
	RejectionMessage = "Too Many Requests. Please slow down."
)

// Middleware rejects requests whose client has exhausted its bucket with 429 Too Many Requests.
func Middleware(limiter *Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r)

			if !limiter.Allow(key) {
				m.RateLimitRejections.Inc()
				slog.Warn("Rate limit exceeded",
					slog.String("client", key),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(RejectionMessage))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies the caller by the first X-Forwarded-For entry, or else by the host part of
// the peer address.
func ClientKey(r *http.Request) string {
	if forwarded := r.Header.Get(headerForwardedFor); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
