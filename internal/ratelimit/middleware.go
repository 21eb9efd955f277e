package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/VCBorges/automatizai-challenge/internal/telemetry"
)

// Allower is satisfied by TokenBucket.
type Allower interface {
	Allow(ctx context.Context, clientKey string) (bool, float64, error)
}

// ClientKey identifies the caller by X-Tenant-ID, falling back to the remote
// IP address.
func ClientKey(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return "tenant:" + v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware rejects requests whose client bucket is empty by calling
// reject. Limiter faults let the request through.
func Middleware(limiter Allower, reject http.HandlerFunc, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r)
			allowed, remaining, err := limiter.Allow(r.Context(), key)
			if err != nil {
				log.Warn("ratelimit.unavailable", "client", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(remaining)))
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				w.Header().Set("Retry-After", "1")
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
