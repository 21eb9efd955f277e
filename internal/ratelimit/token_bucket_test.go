package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBucket(t *testing.T, capacity int, refill float64) *TokenBucket {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenBucket(client, "rl", capacity, refill, time.Minute)
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t, 2, 1)

	allowed, _, err := bucket.Allow(ctx, "tenant")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, "tenant")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "tenant")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}
	allowed, _, _ = bucket.Allow(ctx, "other")
	if !allowed {
		t.Fatalf("buckets must be per client")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t, 1, 2)
	now := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return now }

	if allowed, _, _ := bucket.Allow(ctx, "c"); !allowed {
		t.Fatalf("expected first request allowed")
	}
	if allowed, _, _ := bucket.Allow(ctx, "c"); allowed {
		t.Fatalf("expected empty bucket")
	}
	now = now.Add(600 * time.Millisecond)
	allowed, remaining, err := bucket.Allow(ctx, "c")
	if err != nil || !allowed {
		t.Fatalf("expected refill after 600ms: allowed=%v err=%v", allowed, err)
	}
	if remaining < 0.1 || remaining > 0.3 {
		t.Fatalf("expected fractional balance near 0.2, got %v", remaining)
	}
}

type stubAllower struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubAllower) Allow(_ context.Context, key string) (bool, float64, error) {
	s.keys = append(s.keys, key)
	return s.allowed, 0, s.err
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
	reject := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }

	cases := []struct {
		name    string
		limiter *stubAllower
		want    int
	}{
		{"allowed", &stubAllower{allowed: true}, http.StatusAccepted},
		{"rejected", &stubAllower{allowed: false}, http.StatusTooManyRequests},
		{"limiter down", &stubAllower{err: errors.New("redis down")}, http.StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/analyses", nil)
			req.Header.Set("X-Tenant-ID", "acme")
			rec := httptest.NewRecorder()
			Middleware(tc.limiter, reject, nil)(ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
			if len(tc.limiter.keys) != 1 || tc.limiter.keys[0] != "tenant:acme" {
				t.Fatalf("unexpected client keys %v", tc.limiter.keys)
			}
		})
	}
}

func TestClientKeyFallsBackToIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	if got := ClientKey(req); got != "ip:10.1.2.3" {
		t.Fatalf("unexpected key %q", got)
	}
}
